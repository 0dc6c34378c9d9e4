package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/ghsync/ghmirror/internal/model"
	"github.com/ghsync/ghmirror/internal/upstream"
)

// handleComments implements the comments algorithm of SPEC_FULL.md
// §4.4: fetch one page of an issue or PR's comments (since the
// request's since_timestamp, if set), upsert every comment, and
// re-enqueue the next page under Category Comments only if a next page
// exists AND at least one comment was not Unchanged — otherwise a
// fully-caught-up thread would re-paginate its entire history on every
// invocation.
func (h *Handler) handleComments(ctx context.Context, cr *model.CommentsRequest) error {
	cred := h.Creds.Acquire()

	params := upstream.ListParams{NextURL: cr.NextURL, Page: cr.Page}
	if cr.SinceTimestamp != nil {
		since := time.Unix(*cr.SinceTimestamp, 0)
		params.Since = &since
	}

	page, err := h.Client.ListComments(ctx, cred.Secret, repoOf(cr.Repo), cr.IssueNumber, params)
	if err != nil {
		h.Log.Warn("list comments failed, dropping invocation", "repo", cr.Repo, "number", cr.IssueNumber, "error", err)
		return nil
	}

	anyUpdated := false
	for _, item := range page.Items {
		class, err := h.processComment(ctx, cr.Repo, cr.IssueNumber, item)
		if err != nil {
			h.Log.Warn("failed to process comment, skipping item", "repo", cr.Repo, "number", cr.IssueNumber, "comment_id", item.ID, "error", err)
			continue
		}
		if class != model.Unchanged {
			anyUpdated = true
		}
	}

	if page.NextURL == "" || !anyUpdated {
		return nil
	}

	next := &model.CommentsRequest{
		Repo:           cr.Repo,
		IssueNumber:    cr.IssueNumber,
		SinceTimestamp: cr.SinceTimestamp,
		Page:           cr.Page + 1,
		NextURL:        page.NextURL,
	}
	return h.Queue.Enqueue(ctx, model.Comments, model.CommentsR, &model.Request{Comments: next})
}

func (h *Handler) processComment(ctx context.Context, repo model.Repo, issueNumber int, item upstream.Comment) (model.Classification, error) {
	if item.User != nil {
		if _, err := h.Upsert.EnsureUser(ctx, model.User{ExternalID: item.User.ID, Login: item.User.Login, Name: item.User.Name, AvatarURL: item.User.AvatarURL}); err != nil {
			return model.Unchanged, fmt.Errorf("ensure comment author: %w", err)
		}
	}

	c := model.Comment{
		ExternalID:       item.ID,
		ParentNumber:     issueNumber,
		RepoOrganization: repo.Organization,
		RepoName:         repo.Name,
		Body:             item.Body,
		CreatedAt:        item.CreatedAt.Unix(),
		UpdatedAt:        item.UpdatedAt.Unix(),
	}
	if item.User != nil {
		c.AuthorExternalID = item.User.ID
	}

	class, err := h.Upsert.EnsureComment(ctx, c)
	if err != nil {
		return model.Unchanged, fmt.Errorf("ensure comment: %w", err)
	}
	return class, nil
}
