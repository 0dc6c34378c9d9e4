package handler

import (
	"context"
	"fmt"

	"github.com/ghsync/ghmirror/internal/model"
	"github.com/ghsync/ghmirror/internal/upstream"
)

// handleIssues implements the list-issues algorithm of SPEC_FULL.md
// §4.4: fetch one page, upsert every item, decide the follow-up
// enqueue from any_updated, and fan out comment catch-up requests for
// changed issues.
func (h *Handler) handleIssues(ctx context.Context, lr *model.ListRequest, isNew bool) error {
	cred := h.Creds.Acquire()

	page, err := h.Client.ListIssues(ctx, cred.Secret, repoOf(lr.Repo), listParams(lr, isNew))
	if err != nil {
		// Transient upstream error (§7 kind 1): log and drop this
		// invocation. The periodic refresh and queued follow-ups
		// re-cover the work.
		h.Log.Warn("list issues failed, dropping invocation", "repo", lr.Repo, "error", err)
		return nil
	}

	anyUpdated := false
	for _, item := range page.Items {
		class, err := h.processIssue(ctx, lr.Repo, item)
		if err != nil {
			h.Log.Warn("failed to process issue, skipping item", "repo", lr.Repo, "number", item.Number, "error", err)
			continue
		}
		if class != model.Unchanged {
			anyUpdated = true
		}
	}

	return h.enqueueListFollowUp(ctx, lr, page.NextURL, isNew, anyUpdated, model.NewIssue, model.OldIssue)
}

// processIssue upserts one issue item's Shared row, Issue extension,
// author, labels, and assignee reconciliation, returning the compound
// classification (the minimum across every entity the item touched,
// per §4.1) and enqueuing a comment catch-up request when warranted.
func (h *Handler) processIssue(ctx context.Context, repo model.Repo, item upstream.Issue) (model.Classification, error) {
	classes := make([]model.Classification, 0, 4)

	if item.User != nil {
		uc, err := h.Upsert.EnsureUser(ctx, model.User{ExternalID: item.User.ID, Login: item.User.Login, Name: item.User.Name, AvatarURL: item.User.AvatarURL})
		if err != nil {
			return model.Unchanged, fmt.Errorf("ensure author: %w", err)
		}
		classes = append(classes, uc)
	}

	shared := sharedFromIssue(repo, item)
	sc, err := h.Upsert.EnsureShared(ctx, shared, h.NowUnix)
	if err != nil {
		return model.Unchanged, fmt.Errorf("ensure shared: %w", err)
	}
	classes = append(classes, sc)

	if err := h.Upsert.EnsureIssue(ctx, repo, item.Number); err != nil {
		return model.Unchanged, fmt.Errorf("ensure issue: %w", err)
	}

	for _, l := range item.Labels {
		lc, err := h.Upsert.EnsureLabel(ctx, model.Label{Name: l.Name, Color: l.Color, Description: l.Description})
		if err != nil {
			h.Log.Warn("failed to ensure label, skipping", "label", l.Name, "error", err)
			continue
		}
		classes = append(classes, lc)
	}

	assignees := make([]int64, 0, len(item.Assignees))
	for _, a := range item.Assignees {
		assignees = append(assignees, a.ID)
	}
	if err := h.Upsert.ReconcileAssignments(ctx, repo, item.Number, assignees); err != nil {
		h.Log.Warn("assignment reconciliation failed", "repo", repo, "number", item.Number, "error", err)
	}

	labelNames := make([]string, 0, len(item.Labels))
	for _, l := range item.Labels {
		labelNames = append(labelNames, l.Name)
	}
	if err := h.Upsert.ReconcileLabelLinks(ctx, repo, item.Number, labelNames); err != nil {
		h.Log.Warn("label link reconciliation failed", "repo", repo, "number", item.Number, "error", err)
	}

	class := model.MinAll(classes)
	if class != model.Unchanged {
		if err := h.enqueueCommentCatchUp(ctx, repo, item.Number, shared.UpdatedAt, class == model.New); err != nil {
			h.Log.Warn("failed to enqueue comment catch-up", "repo", repo, "number", item.Number, "error", err)
		}
	}
	return class, nil
}

func sharedFromIssue(repo model.Repo, item upstream.Issue) model.Shared {
	s := model.Shared{
		Number:            item.Number,
		RepoOrganization:  repo.Organization,
		RepoName:          repo.Name,
		Title:             item.Title,
		Body:              item.Body,
		AuthorAssociation: item.AuthorAssociation,
		StateReason:       item.StateReason,
		Closed:            item.State == "closed",
		CreatedAt:         item.CreatedAt.Unix(),
		UpdatedAt:         item.UpdatedAt.Unix(),
	}
	if item.User != nil {
		s.AuthorExternalID = item.User.ID
	}
	if item.ClosedAt != nil {
		t := item.ClosedAt.Unix()
		s.ClosedAt = &t
	}
	if item.ClosedBy != nil {
		s.ClosedByID = &item.ClosedBy.ID
	}
	s.LockReason = lockReasonOf(item.Locked, item.ActiveLockReason)
	return s
}

// lockReasonOf applies the three-state lock-reason policy of §4.1:
// nil when unlocked, "" when locked with no stated reason, the upstream
// string otherwise.
func lockReasonOf(locked bool, reason *string) *string {
	if !locked {
		return nil
	}
	if reason == nil {
		empty := ""
		return &empty
	}
	return reason
}

// enqueueListFollowUp applies the next-page enqueue decision of §4.4
// step 4-5, shared between handleIssues and handlePullRequests.
func (h *Handler) enqueueListFollowUp(ctx context.Context, lr *model.ListRequest, nextURL string, isNew, anyUpdated bool, newName, oldName model.RequestName) error {
	next := nextListPage(lr, nextURL)

	if isNew {
		if !anyUpdated {
			return nil
		}
		return h.Queue.Enqueue(ctx, model.Update, newName, &model.Request{List: next})
	}

	category := model.Index
	if anyUpdated {
		category = model.Update
	}
	return h.Queue.Enqueue(ctx, category, oldName, &model.Request{List: next})
}

// enqueueCommentCatchUp enqueues a Comments request for an issue or PR
// that was classified New or Updated. New items fetch all comments
// (since=nil); Updated items fetch only comments since their updated
// timestamp minus the slack window.
func (h *Handler) enqueueCommentCatchUp(ctx context.Context, repo model.Repo, number int, updatedAt int64, isNewItem bool) error {
	var since *int64
	if !isNewItem {
		s := updatedAt - commentSlackSeconds
		since = &s
	}
	return h.Queue.Enqueue(ctx, model.Comments, model.CommentsR, &model.Request{
		Comments: &model.CommentsRequest{Repo: repo, IssueNumber: number, SinceTimestamp: since},
	})
}
