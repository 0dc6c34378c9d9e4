package handler

import (
	"context"
	"fmt"

	"github.com/ghsync/ghmirror/internal/model"
	"github.com/ghsync/ghmirror/internal/upstream"
)

// handlePullRequests mirrors handleIssues for the pulls-list endpoint,
// additionally upserting the pull_request extension row and
// reconciling requested reviewers.
func (h *Handler) handlePullRequests(ctx context.Context, lr *model.ListRequest, isNew bool) error {
	cred := h.Creds.Acquire()

	page, err := h.Client.ListPullRequests(ctx, cred.Secret, repoOf(lr.Repo), listParams(lr, isNew))
	if err != nil {
		h.Log.Warn("list pull requests failed, dropping invocation", "repo", lr.Repo, "error", err)
		return nil
	}

	anyUpdated := false
	for _, item := range page.Items {
		class, err := h.processPullRequest(ctx, lr.Repo, item)
		if err != nil {
			h.Log.Warn("failed to process pull request, skipping item", "repo", lr.Repo, "number", item.Number, "error", err)
			continue
		}
		if class != model.Unchanged {
			anyUpdated = true
		}
	}

	return h.enqueueListFollowUp(ctx, lr, page.NextURL, isNew, anyUpdated, model.NewPr, model.OldPr)
}

func (h *Handler) processPullRequest(ctx context.Context, repo model.Repo, item upstream.PullRequest) (model.Classification, error) {
	classes := make([]model.Classification, 0, 4)

	if item.User != nil {
		uc, err := h.Upsert.EnsureUser(ctx, model.User{ExternalID: item.User.ID, Login: item.User.Login, Name: item.User.Name, AvatarURL: item.User.AvatarURL})
		if err != nil {
			return model.Unchanged, fmt.Errorf("ensure author: %w", err)
		}
		classes = append(classes, uc)
	}

	shared := sharedFromPullRequest(repo, item)
	sc, err := h.Upsert.EnsureShared(ctx, shared, h.NowUnix)
	if err != nil {
		return model.Unchanged, fmt.Errorf("ensure shared: %w", err)
	}
	classes = append(classes, sc)

	extra := pullRequestExtraOf(item)
	if err := h.Upsert.EnsurePullRequest(ctx, repo, extra); err != nil {
		return model.Unchanged, fmt.Errorf("ensure pull request: %w", err)
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

	reviewers := make([]int64, 0, len(item.RequestedReviewers))
	for _, r := range item.RequestedReviewers {
		reviewers = append(reviewers, r.ID)
	}
	if err := h.Upsert.ReconcileReviewRequests(ctx, repo, item.Number, reviewers); err != nil {
		h.Log.Warn("review request reconciliation failed", "repo", repo, "number", item.Number, "error", err)
	}

	class := model.MinAll(classes)
	if class != model.Unchanged {
		if err := h.enqueueCommentCatchUp(ctx, repo, item.Number, shared.UpdatedAt, class == model.New); err != nil {
			h.Log.Warn("failed to enqueue comment catch-up", "repo", repo, "number", item.Number, "error", err)
		}
	}
	return class, nil
}

func sharedFromPullRequest(repo model.Repo, item upstream.PullRequest) model.Shared {
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

func pullRequestExtraOf(item upstream.PullRequest) model.PullRequestExtra {
	extra := model.PullRequestExtra{
		Number:              item.Number,
		Draft:               item.Draft,
		MaintainerCanModify: item.MaintainerCanModify,
		Additions:           item.Additions,
		Deletions:           item.Deletions,
		ChangedFiles:        item.ChangedFiles,
		Commits:             item.Commits,
		MergeCommitSHA:      item.MergeCommitSHA,
		HeadSHA:             item.Head.SHA,
		BaseSHA:             item.Base.SHA,
		Mergeable:           item.Mergeable,
		Rebaseable:          item.Rebaseable,
		MergeableState:      item.MergeableState,
	}
	if item.MergedAt != nil {
		t := item.MergedAt.Unix()
		extra.MergedAt = &t
	}
	if item.MergedBy != nil {
		extra.MergedByID = &item.MergedBy.ID
	}
	return extra
}
