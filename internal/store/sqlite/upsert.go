package sqlite

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/ghsync/ghmirror/internal/model"
)

// Upserter implements the idempotent Ensure* operations of §4.1: one
// per entity, each returning a model.Classification alongside any
// error. Every Ensure* method runs its own short write transaction;
// callers that observe several related entities from one upstream item
// (e.g. an issue's author, the issue itself, its labels) call them in
// sequence and reduce the classifications with model.MinAll.
type Upserter struct {
	store *Store
	log   *slog.Logger
}

// NewUpserter constructs an Upserter over store.
func NewUpserter(store *Store, log *slog.Logger) *Upserter {
	return &Upserter{store: store, log: log}
}

// EnsureRepo records repo if not already present. Repos are immutable
// once observed, so there is no update path and no classification.
func (u *Upserter) EnsureRepo(ctx context.Context, repo model.Repo) error {
	return withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO repo (organization, name) VALUES (?, ?)`,
			repo.Organization, repo.Name)
		return wrapDBErrorf(err, "ensure repo %s", repo)
	})
}

// EnsureUser upserts a mirrored account. login/display_name/avatar_url
// are not tracked attributes (per §4.1, only Shared/Comment
// updated_timestamp is tracked), so this always returns New or
// Unchanged, never Updated — a user's own classification never by
// itself drives pagination or comment catch-up decisions.
func (u *Upserter) EnsureUser(ctx context.Context, user model.User) (model.Classification, error) {
	var class model.Classification
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		var existed bool
		err := conn.QueryRowContext(ctx, `SELECT 1 FROM user WHERE external_id = ?`, user.ExternalID).Scan(new(int))
		switch {
		case err == nil:
			existed = true
		case err == sql.ErrNoRows:
			existed = false
		default:
			return wrapDBError("check user existence", err)
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO user (external_id, login, display_name, avatar_url) VALUES (?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET
				login = excluded.login,
				display_name = CASE WHEN excluded.display_name = '' THEN user.display_name ELSE excluded.display_name END,
				avatar_url = excluded.avatar_url`,
			user.ExternalID, user.Login, user.Name, user.AvatarURL)
		if err != nil {
			return wrapDBErrorf(err, "ensure user %d", user.ExternalID)
		}

		if existed {
			class = model.Unchanged
		} else {
			class = model.New
		}
		return nil
	})
	return class, err
}

// sharedRow mirrors the current stored state of a Shared row, used to
// apply the nullable-attribute overwrite policy (absence retains the
// stored value) and to detect whether updated_timestamp moved.
type sharedRow struct {
	updatedAt  int64
	lockReason *string
}

// EnsureShared upserts the Shared row for an issue or PR. Only a
// changed updated_at bumps the classification to Updated; every other
// attribute is written through but does not by itself affect
// classification (§4.1 tracked-attribute rule). author, author
// association, closed_by and lock_reason keep their stored value when
// the observation lacks them.
//
// closedAt follows the documented caveat in SPEC_FULL.md §4.1: when the
// observed state is Closed and upstream supplied no closed_at, it is
// stamped with nowFn() rather than left null. Callers that need exact
// closure time should treat a closed_at on a freshly-discovered row as
// approximate.
func (u *Upserter) EnsureShared(ctx context.Context, s model.Shared, nowFn func() int64) (model.Classification, error) {
	var class model.Classification
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		var existing *sharedRow
		row := conn.QueryRowContext(ctx,
			`SELECT updated_at, lock_reason FROM shared WHERE repo_organization = ? AND repo_name = ? AND number = ?`,
			s.RepoOrganization, s.RepoName, s.Number)
		var updatedAt int64
		var storedLockReason sql.NullString
		switch err := row.Scan(&updatedAt, &storedLockReason); err {
		case nil:
			existing = &sharedRow{updatedAt: updatedAt, lockReason: stringPtr(storedLockReason)}
		case sql.ErrNoRows:
			existing = nil
		default:
			return wrapDBError("check shared existence", err)
		}

		closedAt := s.ClosedAt
		if s.Closed && closedAt == nil {
			t := nowFn()
			closedAt = &t
		}
		lockReason := s.LockReason
		if lockReason == nil && existing != nil {
			// Absence retains the stored value (nullable-attribute policy).
			lockReason = existing.lockReason
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO shared (
				number, repo_organization, repo_name, title, body, author_external_id,
				author_association, state_reason, closed, created_at, updated_at,
				closed_at, closed_by_id, lock_reason
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo_organization, repo_name, number) DO UPDATE SET
				title = excluded.title,
				body = excluded.body,
				author_external_id = COALESCE(excluded.author_external_id, shared.author_external_id),
				author_association = CASE WHEN excluded.author_association = '' THEN shared.author_association ELSE excluded.author_association END,
				state_reason = excluded.state_reason,
				closed = excluded.closed,
				updated_at = excluded.updated_at,
				closed_at = excluded.closed_at,
				closed_by_id = COALESCE(excluded.closed_by_id, shared.closed_by_id),
				lock_reason = excluded.lock_reason`,
			s.Number, s.RepoOrganization, s.RepoName, s.Title, s.Body, nullableInt64(authorID(s.AuthorExternalID)),
			s.AuthorAssociation, s.StateReason, boolToInt(s.Closed), s.CreatedAt, s.UpdatedAt,
			nullableInt64(closedAt), nullableInt64(s.ClosedByID), nullableString(lockReason))
		if err != nil {
			return wrapDBErrorf(err, "ensure shared %s#%d", model.Repo{Organization: s.RepoOrganization, Name: s.RepoName}, s.Number)
		}

		switch {
		case existing == nil:
			class = model.New
		case existing.updatedAt != s.UpdatedAt:
			class = model.Updated
		default:
			class = model.Unchanged
		}
		return nil
	})
	return class, err
}

// EnsureIssue marks the Shared row at (repo, number) as an Issue by
// inserting its 1:1 extension row if absent. Issue carries no extra
// payload, so this never independently drives classification; callers
// use the classification already returned by EnsureShared.
func (u *Upserter) EnsureIssue(ctx context.Context, repo model.Repo, number int) error {
	return withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			`INSERT OR IGNORE INTO issue (repo_organization, repo_name, number) VALUES (?, ?, ?)`,
			repo.Organization, repo.Name, number)
		return wrapDBErrorf(err, "ensure issue %s#%d", repo, number)
	})
}

// EnsurePullRequest upserts the PullRequest 1:1 extension row. Merged
// fields and head/base sha are write-once: once set, never cleared, per
// §4.1's "Merged PR fields... once set, never cleared" policy, honored
// here via COALESCE against the existing row.
func (u *Upserter) EnsurePullRequest(ctx context.Context, repo model.Repo, extra model.PullRequestExtra) error {
	return withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO pull_request (
				repo_organization, repo_name, number, draft, maintainer_can_modify,
				additions, deletions, changed_files, commits, merged_at, merge_commit_sha,
				merged_by_id, head_sha, base_sha, mergeable, rebaseable, mergeable_state
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(repo_organization, repo_name, number) DO UPDATE SET
				draft = excluded.draft,
				maintainer_can_modify = excluded.maintainer_can_modify,
				additions = excluded.additions,
				deletions = excluded.deletions,
				changed_files = excluded.changed_files,
				commits = excluded.commits,
				merged_at = COALESCE(pull_request.merged_at, excluded.merged_at),
				merge_commit_sha = COALESCE(pull_request.merge_commit_sha, excluded.merge_commit_sha),
				merged_by_id = COALESCE(pull_request.merged_by_id, excluded.merged_by_id),
				head_sha = CASE WHEN excluded.head_sha = '' THEN pull_request.head_sha ELSE excluded.head_sha END,
				base_sha = CASE WHEN excluded.base_sha = '' THEN pull_request.base_sha ELSE excluded.base_sha END,
				mergeable = excluded.mergeable,
				rebaseable = excluded.rebaseable,
				mergeable_state = excluded.mergeable_state`,
			repo.Organization, repo.Name, extra.Number, boolToInt(extra.Draft), boolToInt(extra.MaintainerCanModify),
			extra.Additions, extra.Deletions, extra.ChangedFiles, extra.Commits,
			nullableInt64(extra.MergedAt), nullableString(extra.MergeCommitSHA), nullableInt64(extra.MergedByID),
			extra.HeadSHA, extra.BaseSHA, nullableBool(extra.Mergeable), nullableBool(extra.Rebaseable), extra.MergeableState)
		return wrapDBErrorf(err, "ensure pull request %s#%d", repo, extra.Number)
	})
}

// EnsureLabel upserts a label by name. color/description are untracked
// (same rationale as EnsureUser).
func (u *Upserter) EnsureLabel(ctx context.Context, l model.Label) (model.Classification, error) {
	var class model.Classification
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		var existed bool
		switch err := conn.QueryRowContext(ctx, `SELECT 1 FROM label WHERE name = ?`, l.Name).Scan(new(int)); err {
		case nil:
			existed = true
		case sql.ErrNoRows:
			existed = false
		default:
			return wrapDBError("check label existence", err)
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO label (name, color, description) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET color = excluded.color, description = excluded.description`,
			l.Name, l.Color, l.Description)
		if err != nil {
			return wrapDBErrorf(err, "ensure label %s", l.Name)
		}

		if existed {
			class = model.Unchanged
		} else {
			class = model.New
		}
		return nil
	})
	return class, err
}

// EnsureComment upserts a comment by external id. Only updated_at is
// tracked, mirroring EnsureShared.
func (u *Upserter) EnsureComment(ctx context.Context, c model.Comment) (model.Classification, error) {
	var class model.Classification
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		var updatedAt int64
		var existed bool
		switch err := conn.QueryRowContext(ctx, `SELECT updated_at FROM comment WHERE external_id = ?`, c.ExternalID).Scan(&updatedAt); err {
		case nil:
			existed = true
		case sql.ErrNoRows:
			existed = false
		default:
			return wrapDBError("check comment existence", err)
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO comment (
				external_id, parent_repo_organization, parent_repo_name, parent_number,
				author_external_id, body, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO UPDATE SET
				body = excluded.body,
				author_external_id = COALESCE(excluded.author_external_id, comment.author_external_id),
				updated_at = excluded.updated_at`,
			c.ExternalID, c.RepoOrganization, c.RepoName, c.ParentNumber,
			nullableInt64(authorID(c.AuthorExternalID)), c.Body, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return wrapDBErrorf(err, "ensure comment %d", c.ExternalID)
		}

		switch {
		case !existed:
			class = model.New
		case updatedAt != c.UpdatedAt:
			class = model.Updated
		default:
			class = model.Unchanged
		}
		return nil
	})
	return class, err
}

// boolToInt converts a Go bool to the 0/1 SQLite stores it as.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// authorID treats an external id of 0 as "unknown author" (absent from
// upstream), consistent with the nullable-attribute overwrite policy:
// absence must not clobber a previously-recorded author.
func authorID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

