// Package handler executes a dequeued Request against the upstream
// client, feeds results to the entity upserter, and decides follow-up
// enqueues, per SPEC_FULL.md §4.4.
package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/ghsync/ghmirror/internal/creds"
	"github.com/ghsync/ghmirror/internal/model"
	"github.com/ghsync/ghmirror/internal/store/sqlite"
	"github.com/ghsync/ghmirror/internal/upstream"
)

// commentSlackSeconds is the lookback applied when seeding a comment
// catch-up request's since_timestamp, so a comment posted in the same
// second as the issue's last observed update is not missed.
const commentSlackSeconds = 100

// Enqueuer is the subset of *sqlite.Queue the handler needs; declared
// as an interface so tests can substitute an in-memory fake.
type Enqueuer interface {
	Enqueue(ctx context.Context, category model.Category, name model.RequestName, req *model.Request) error
}

// Handler wires the upstream client, credential pool, and store
// together to process one dequeued Request at a time.
type Handler struct {
	Client   *upstream.Client
	Creds    *creds.Pool
	Store    *sqlite.Store
	Upsert   *sqlite.Upserter
	Queue    Enqueuer
	Log      *slog.Logger
	NowUnix  func() int64
}

// New constructs a Handler whose NowUnix reads the wall clock; tests
// may replace the field afterwards.
func New(client *upstream.Client, pool *creds.Pool, store *sqlite.Store, upsert *sqlite.Upserter, queue Enqueuer, log *slog.Logger) *Handler {
	return &Handler{
		Client:  client,
		Creds:   pool,
		Store:   store,
		Upsert:  upsert,
		Queue:   queue,
		Log:     log,
		NowUnix: func() int64 { return time.Now().Unix() },
	}
}

// Handle dispatches req to the variant-specific routine. This is the
// single source of truth tying model.RequestName tags to their handler,
// mirroring the exhaustive switch the model package uses for
// (de)serialization (SPEC_FULL.md §9, "tagged variants over
// inheritance").
func (h *Handler) Handle(ctx context.Context, req *model.Request) error {
	switch req.Name {
	case model.NewPr:
		return h.handlePullRequests(ctx, req.List, true)
	case model.OldPr:
		return h.handlePullRequests(ctx, req.List, false)
	case model.NewIssue:
		return h.handleIssues(ctx, req.List, true)
	case model.OldIssue:
		return h.handleIssues(ctx, req.List, false)
	case model.CommentsR:
		return h.handleComments(ctx, req.Comments)
	default:
		h.Log.Warn("dropping request with unknown variant", "name", req.Name)
		return nil
	}
}

func repoOf(r model.Repo) upstream.Repo {
	return upstream.Repo{Owner: r.Organization, Name: r.Name}
}

func direction(isNew bool) upstream.Direction {
	if isNew {
		return upstream.Descending
	}
	return upstream.Ascending
}

func listParams(lr *model.ListRequest, isNew bool) upstream.ListParams {
	return upstream.ListParams{
		NextURL:   lr.NextURL,
		Page:      lr.Page,
		Direction: direction(isNew),
	}
}

func nextListPage(lr *model.ListRequest, nextURL string) *model.ListRequest {
	if nextURL == "" {
		return &model.ListRequest{Repo: lr.Repo, Page: 0, NextURL: ""}
	}
	return &model.ListRequest{Repo: lr.Repo, Page: lr.Page + 1, NextURL: nextURL}
}
