// Package upstream is the external collaborator against the GitHub
// REST v3 API: an opaque paginated-list service for issues, pull
// requests, and comments. The core treats page tokens (next_url) as
// opaque strings; everything else about HTTP, retry, and rate-limit
// handling lives here.
package upstream

import (
	"encoding/json"
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for a transient
	// failure (network error, 5xx, or rate limit) before the call gives
	// up and returns the error to the caller.
	MaxRetries = 3

	// PageSize is the page size requested when next_url is absent and
	// the client falls back to (repo, page) pagination.
	PageSize = 100
)

// Client issues paginated list calls against the GitHub REST API. A
// Client has no fixed identity: the caller supplies a token per call,
// sourced from the credential pool.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Direction selects ascending or descending sort order for a list call,
// matching the New (Descending) / Old (Ascending) traversal direction
// of SPEC_FULL.md §4.4.
type Direction string

const (
	Descending Direction = "desc"
	Ascending  Direction = "asc"
)

// Repo identifies the upstream repository a list call targets.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) path() string { return r.Owner + "/" + r.Name }

// ListParams are the inputs to a list call: either NextURL (opaque,
// replayed verbatim) or the (Page, Direction) fallback with a fixed
// page size and state=all, sort=updated. Since is honored by
// ListIssues and ListComments; ListPullRequests ignores it.
type ListParams struct {
	NextURL   string
	Page      int
	Direction Direction
	Since     *time.Time
}

// Page is the result of one list call: the decoded items plus the
// opaque continuation token, empty when there is no further page.
type Page[T any] struct {
	Items   []T
	NextURL string
}

// User is a mirrored GitHub account.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Label is a GitHub label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Issue is an item from the GitHub issues-list endpoint. GitHub returns
// pull requests from this endpoint too; PullRequestRef distinguishes
// them so the caller can skip PRs when listing pure issues.
type Issue struct {
	Number            int              `json:"number"`
	Title             string           `json:"title"`
	Body              string           `json:"body"`
	State             string           `json:"state"`
	StateReason       string           `json:"state_reason"`
	Locked            bool             `json:"locked"`
	ActiveLockReason  *string          `json:"active_lock_reason"`
	AuthorAssociation string           `json:"author_association"`
	User              *User            `json:"user"`
	Assignees         []User           `json:"assignees"`
	Labels            []Label          `json:"labels"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ClosedAt          *time.Time       `json:"closed_at"`
	ClosedBy          *User            `json:"closed_by"`
	PullRequestRef    *json.RawMessage `json:"pull_request,omitempty"`
}

// PullRequest is an item from the GitHub pulls-list endpoint.
type PullRequest struct {
	Number              int        `json:"number"`
	Title               string     `json:"title"`
	Body                string     `json:"body"`
	State               string     `json:"state"`
	StateReason         string     `json:"state_reason"`
	Locked              bool       `json:"locked"`
	ActiveLockReason    *string    `json:"active_lock_reason"`
	AuthorAssociation   string     `json:"author_association"`
	Draft               bool       `json:"draft"`
	MaintainerCanModify bool       `json:"maintainer_can_modify"`
	User                *User      `json:"user"`
	Assignees           []User     `json:"assignees"`
	RequestedReviewers  []User     `json:"requested_reviewers"`
	Labels              []Label    `json:"labels"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	ClosedAt            *time.Time `json:"closed_at"`
	ClosedBy            *User      `json:"closed_by"`
	MergedAt            *time.Time `json:"merged_at"`
	Merged              bool       `json:"merged"`
	MergeCommitSHA      *string    `json:"merge_commit_sha"`
	MergedBy            *User      `json:"merged_by"`
	Additions           int        `json:"additions"`
	Deletions           int        `json:"deletions"`
	ChangedFiles        int        `json:"changed_files"`
	Commits             int        `json:"commits"`
	Mergeable           *bool      `json:"mergeable"`
	Rebaseable          *bool      `json:"rebaseable"`
	MergeableState      string     `json:"mergeable_state"`
	Head                struct {
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		SHA string `json:"sha"`
	} `json:"base"`
}

// Comment is an item from the GitHub issue-comments endpoint.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      *User     `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
