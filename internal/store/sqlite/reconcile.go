package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ghsync/ghmirror/internal/model"
)

// linkTable names the three membership-link tables that share the
// mark-and-sweep reconciliation protocol of §4.1. Each constant names
// the table that step 3 must re-query — the parameterization this type
// exists for is precisely what prevents the label-link cleanup bug
// documented in SPEC_FULL.md §9 (re-querying assignment instead of
// label_link) from being reintroduced.
type linkTable string

const (
	assignmentTable    linkTable = "assignment"
	labelLinkTable     linkTable = "label_link"
	reviewRequestTable linkTable = "review_request"
)

// ReconcileAssignments runs mark-and-sweep reconciliation (§4.1) for the
// assignee set of the Shared at (repo, sharedNumber): mark existing
// rows outdated, upsert the observed members clearing the flag, delete
// whatever is still outdated.
func (u *Upserter) ReconcileAssignments(ctx context.Context, repo model.Repo, sharedNumber int, members []int64) error {
	return reconcileLinks(ctx, u, repo, assignmentTable, "shared_number", sharedNumber, "user_external_id", members)
}

// ReconcileLabelLinks runs mark-and-sweep reconciliation for the label
// set of the Shared at (repo, sharedNumber). label_link keys on
// label_name (TEXT) rather than an integer id, so it gets its own
// upsert/sweep pass instead of going through reconcileLinks.
func (u *Upserter) ReconcileLabelLinks(ctx context.Context, repo model.Repo, sharedNumber int, labelNames []string) error {
	return reconcileLabelLinks(ctx, u, repo, sharedNumber, labelNames)
}

// ReconcileReviewRequests runs mark-and-sweep reconciliation for the
// requested-reviewer set of the PullRequest at (repo, prNumber).
func (u *Upserter) ReconcileReviewRequests(ctx context.Context, repo model.Repo, prNumber int, members []int64) error {
	return reconcileLinks(ctx, u, repo, reviewRequestTable, "pr_number", prNumber, "user_external_id", members)
}

// reconcileLinks implements the three-step mark-and-sweep protocol for
// the two link tables keyed by (repo, parent int column, user_external_id
// int64). table must be the SAME table whose rows were just marked
// outdated — label_link cannot use this helper because its member
// column (label_name) is TEXT, not an integer id; see
// reconcileLabelLinks.
func reconcileLinks(ctx context.Context, u *Upserter, repo model.Repo, table linkTable, parentCol string, parentVal int, memberCol string, members []int64) error {
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		markSQL := fmt.Sprintf(`UPDATE %s SET outdated = 1 WHERE repo_organization = ? AND repo_name = ? AND %s = ?`, table, parentCol)
		if _, err := conn.ExecContext(ctx, markSQL, repo.Organization, repo.Name, parentVal); err != nil {
			return wrapDBErrorf(err, "mark %s outdated", table)
		}

		upsertSQL := fmt.Sprintf(`
			INSERT INTO %s (repo_organization, repo_name, %s, %s, outdated) VALUES (?, ?, ?, ?, 0)
			ON CONFLICT(repo_organization, repo_name, %s, %s) DO UPDATE SET outdated = 0`,
			table, parentCol, memberCol, parentCol, memberCol)
		for _, m := range members {
			if _, err := conn.ExecContext(ctx, upsertSQL, repo.Organization, repo.Name, parentVal, m); err != nil {
				return wrapDBErrorf(err, "upsert %s member", table)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Step 3 re-queries the same table just marked outdated, per the
	// resolved Open Question in SPEC_FULL.md §9. Deletion failures
	// (e.g. a foreign-key reference from elsewhere) are logged and
	// ignored, never fatal (§4.1).
	sweepSQL := fmt.Sprintf(`DELETE FROM %s WHERE repo_organization = ? AND repo_name = ? AND %s = ? AND outdated = 1`, table, parentCol)
	if _, err := u.store.db.ExecContext(ctx, sweepSQL, repo.Organization, repo.Name, parentVal); err != nil {
		u.log.Warn("reconciliation sweep delete failed, leaving stale outdated rows for next observation",
			"table", table, "repo", repo, "error", err)
	}
	return nil
}

// reconcileLabelLinks is the label_link-specific variant of
// reconcileLinks: its member column is label_name (TEXT), keyed
// against the label table rather than user.
func reconcileLabelLinks(ctx context.Context, u *Upserter, repo model.Repo, sharedNumber int, labelNames []string) error {
	err := withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx,
			`UPDATE label_link SET outdated = 1 WHERE repo_organization = ? AND repo_name = ? AND shared_number = ?`,
			repo.Organization, repo.Name, sharedNumber); err != nil {
			return wrapDBErrorf(err, "mark %s outdated", labelLinkTable)
		}

		for _, name := range labelNames {
			if _, err := conn.ExecContext(ctx, `
				INSERT INTO label_link (repo_organization, repo_name, shared_number, label_name, outdated) VALUES (?, ?, ?, ?, 0)
				ON CONFLICT(repo_organization, repo_name, shared_number, label_name) DO UPDATE SET outdated = 0`,
				repo.Organization, repo.Name, sharedNumber, name); err != nil {
				return wrapDBErrorf(err, "upsert %s member", labelLinkTable)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The corrected behavior: re-query label_link itself, not
	// assignment. See SPEC_FULL.md §9.
	if _, err := u.store.db.ExecContext(ctx,
		`DELETE FROM label_link WHERE repo_organization = ? AND repo_name = ? AND shared_number = ? AND outdated = 1`,
		repo.Organization, repo.Name, sharedNumber); err != nil {
		u.log.Warn("label link reconciliation sweep delete failed, leaving stale outdated rows for next observation",
			"repo", repo, "shared_number", sharedNumber, "error", err)
	}
	return nil
}

// EnsureIssuePrLink upserts the directed cross-link between a PR and an
// issue it closes, reported by the upstream API.
func (u *Upserter) EnsureIssuePrLink(ctx context.Context, repo model.Repo, link model.IssuePrLink) error {
	return withTx(ctx, u.store.db, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO issue_pr_link (repo_organization, repo_name, from_number, to_number, pr_closes_issue) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(repo_organization, repo_name, from_number, to_number) DO UPDATE SET pr_closes_issue = excluded.pr_closes_issue`,
			repo.Organization, repo.Name, link.FromNumber, link.ToNumber, boolToInt(link.PRClosesIssue))
		return wrapDBErrorf(err, "ensure issue-pr link %d->%d", link.FromNumber, link.ToNumber)
	})
}
