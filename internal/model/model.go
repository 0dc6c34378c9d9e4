// Package model holds the normalized entities persisted by the mirror store.
package model

// Classification is the outcome of an idempotent Ensure* upsert operation.
// The zero value is New.
type Classification int

const (
	// New means the row did not previously exist and was inserted.
	New Classification = iota
	// Updated means the row existed and a tracked attribute changed.
	Updated
	// Unchanged means the row existed and no tracked attribute changed.
	Unchanged
)

func (c Classification) String() string {
	switch c {
	case New:
		return "new"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "invalid"
	}
}

// Min returns the smaller of two classifications under New < Updated < Unchanged.
func (c Classification) Min(other Classification) Classification {
	if other < c {
		return other
	}
	return c
}

// MinAll reduces a non-empty slice of classifications to their minimum.
// Calling it with an empty slice returns Unchanged, the identity element
// for a compound observation that touched nothing.
func MinAll(cs []Classification) Classification {
	result := Unchanged
	for _, c := range cs {
		result = result.Min(c)
	}
	return result
}

// Category is the rate-budgeter bucket a Request consumes from.
type Category int

const (
	Update Category = iota
	Comments
	Index
)

func (c Category) String() string {
	switch c {
	case Update:
		return "update"
	case Comments:
		return "comments"
	case Index:
		return "index"
	default:
		return "invalid"
	}
}

// Categories lists every category in the fixed iteration order the
// budgeter applies on every tick: Update, Comments, Index.
var Categories = [...]Category{Update, Comments, Index}

// Repo identifies an upstream repository by organization and name.
type Repo struct {
	Organization string
	Name         string
}

func (r Repo) String() string {
	return r.Organization + "/" + r.Name
}

// User is a mirrored upstream account.
type User struct {
	ExternalID int64
	Login      string
	Name       string
	AvatarURL  string
}

// Shared carries attributes common to both Issue and PullRequest.
type Shared struct {
	Number            int
	RepoOrganization  string
	RepoName          string
	Title             string
	Body              string
	AuthorExternalID  int64
	AuthorAssociation string
	StateReason       string
	Closed            bool
	CreatedAt         int64
	UpdatedAt         int64
	ClosedAt          *int64
	ClosedByID        *int64
	// LockReason is nil when unlocked, "" when locked without a stated
	// reason, and the upstream string otherwise.
	LockReason *string
}

// PullRequestExtra carries the attributes unique to a PullRequest row.
type PullRequestExtra struct {
	Number               int
	Draft                bool
	MaintainerCanModify  bool
	Additions            int
	Deletions            int
	ChangedFiles         int
	Commits              int
	MergedAt             *int64
	MergeCommitSHA       *string
	MergedByID           *int64
	HeadSHA              string
	BaseSHA              string
	Mergeable            *bool
	Rebaseable           *bool
	MergeableState       string
}

// Label is a mirrored upstream label, unique by name.
type Label struct {
	Name        string
	Color       string
	Description string
}

// Comment is a mirrored upstream comment on an Issue or PullRequest.
type Comment struct {
	ExternalID       int64
	ParentNumber     int
	RepoOrganization string
	RepoName         string
	AuthorExternalID int64
	Body             string
	CreatedAt        int64
	UpdatedAt        int64
}

// Assignment links a User to a Shared (issue_or_pr), with an Outdated flag
// used by the mark-and-sweep reconciliation protocol.
type Assignment struct {
	SharedNumber     int
	UserExternalID   int64
	Outdated         bool
}

// LabelLink links a Label to a Shared; same shape and reconciliation rule
// as Assignment.
type LabelLink struct {
	SharedNumber int
	LabelName    string
	Outdated     bool
}

// ReviewRequest links a User to a PullRequest; same shape as Assignment,
// PR-only.
type ReviewRequest struct {
	PRNumber       int
	UserExternalID int64
	Outdated       bool
}

// IssuePrLink records a directed "closes" relationship between a PR and
// an issue, as reported by the upstream API.
type IssuePrLink struct {
	FromNumber    int
	ToNumber      int
	PRClosesIssue bool
}
