package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ghsync/ghmirror/internal/creds"
	"github.com/ghsync/ghmirror/internal/model"
	"github.com/ghsync/ghmirror/internal/store/sqlite"
	"github.com/ghsync/ghmirror/internal/upstream"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []*model.Request
}

func (f *fakeQueue) Enqueue(ctx context.Context, category model.Category, name model.RequestName, req *model.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Category = category
	req.Name = name
	f.enqueued = append(f.enqueued, req)
	return nil
}

func (f *fakeQueue) all() []*model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.Request, len(f.enqueued))
	copy(out, f.enqueued)
	return out
}

func newTestHandler(t *testing.T, mux *http.ServeMux) (*Handler, *fakeQueue) {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pool, err := creds.New([]creds.Credential{{Identity: "bot", Secret: "tok"}})
	if err != nil {
		t.Fatalf("creds.New: %v", err)
	}

	client := upstream.NewClient().WithBaseURL(server.URL)
	upsert := sqlite.NewUpserter(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	q := &fakeQueue{}

	h := New(client, pool, store, upsert, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h, q
}

func jsonHandler(t *testing.T, v any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(v); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}
}

func TestHandleIssuesNewListEnqueuesNextPageOnlyIfUpdated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", jsonHandler(t, []upstream.Issue{
		{Number: 1, Title: "first issue", State: "open", User: &upstream.User{ID: 7, Login: "alice"}},
	}))

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	err := h.handleIssues(context.Background(), &model.ListRequest{Repo: repo}, true)
	if err != nil {
		t.Fatalf("handleIssues: %v", err)
	}

	enqueued := q.all()
	if len(enqueued) != 2 {
		t.Fatalf("enqueued %d requests, want 2 (next page + comment catch-up)", len(enqueued))
	}

	foundNextPage := false
	foundComments := false
	for _, req := range enqueued {
		switch req.Name {
		case model.NewIssue:
			foundNextPage = true
			if req.Category != model.Update {
				t.Errorf("next-page category = %v, want Update", req.Category)
			}
		case model.CommentsR:
			foundComments = true
			if req.Comments.SinceTimestamp != nil {
				t.Error("new issue's comment catch-up should have nil since_timestamp")
			}
		}
	}
	if !foundNextPage {
		t.Error("expected a NewIssue follow-up request (any_updated was true)")
	}
	if !foundComments {
		t.Error("expected a Comments catch-up request for the new issue")
	}
}

func TestHandleIssuesNewListSkipsNextPageWhenUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", jsonHandler(t, []upstream.Issue{
		{Number: 1, Title: "first issue", State: "open", User: &upstream.User{ID: 7, Login: "alice"}},
	}))

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	// First pass establishes the issue as New and enqueues follow-ups;
	// clear those so the second pass's decision is isolated.
	if err := h.handleIssues(context.Background(), &model.ListRequest{Repo: repo}, true); err != nil {
		t.Fatalf("handleIssues (seed): %v", err)
	}
	q.mu.Lock()
	q.enqueued = nil
	q.mu.Unlock()

	if err := h.handleIssues(context.Background(), &model.ListRequest{Repo: repo}, true); err != nil {
		t.Fatalf("handleIssues (repeat, unchanged): %v", err)
	}

	if enqueued := q.all(); len(enqueued) != 0 {
		t.Errorf("expected no follow-up enqueue when nothing changed, got %+v", enqueued)
	}
}

func TestHandleIssuesOldListAlwaysEnqueuesNextPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", jsonHandler(t, []upstream.Issue{
		{Number: 1, Title: "first issue", State: "open", User: &upstream.User{ID: 7, Login: "alice"}},
	}))

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	if err := h.handleIssues(context.Background(), &model.ListRequest{Repo: repo}, false); err != nil {
		t.Fatalf("handleIssues: %v", err)
	}

	found := false
	for _, req := range q.all() {
		if req.Name == model.OldIssue {
			found = true
			if req.Category != model.Update {
				t.Errorf("category = %v, want Update (item was new)", req.Category)
			}
		}
	}
	if !found {
		t.Error("expected an OldIssue follow-up request regardless of any_updated")
	}
}

func TestHandleIssuesFiltersOutPullRequests(t *testing.T) {
	raw := json.RawMessage(`{}`)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", jsonHandler(t, []upstream.Issue{
		{Number: 1, Title: "actually a PR", State: "open", PullRequestRef: &raw},
	}))

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}

	if err := h.handleIssues(context.Background(), &model.ListRequest{Repo: repo}, true); err != nil {
		t.Fatalf("handleIssues: %v", err)
	}

	for _, req := range q.all() {
		if req.Name == model.CommentsR {
			t.Error("a filtered-out pull request should not trigger a comment catch-up")
		}
	}
}

func TestHandleCommentsEnqueuesNextPageWhenLinkPresent(t *testing.T) {
	callCount := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		if callCount == 1 {
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/issues/5/comments?page=2>; rel="next"`, "http://ignored"))
		}
		_ = json.NewEncoder(w).Encode([]upstream.Comment{{ID: int64(callCount), Body: "a comment", User: &upstream.User{ID: 1, Login: "alice"}}})
	})

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	seedSharedIssueForComments(t, h, repo, 5)

	if err := h.handleComments(context.Background(), &model.CommentsRequest{Repo: repo, IssueNumber: 5}); err != nil {
		t.Fatalf("handleComments: %v", err)
	}

	found := false
	for _, req := range q.all() {
		if req.Name == model.CommentsR {
			found = true
		}
	}
	if !found {
		t.Error("expected a follow-up Comments request when Link: rel=next is present")
	}
}

func TestHandleCommentsSkipsNextPageWhenUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/5/comments", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", `<http://ignored/repos/acme/widgets/issues/5/comments?page=2>; rel="next"`)
		commentTime := time.Unix(1000, 0)
		_ = json.NewEncoder(w).Encode([]upstream.Comment{{ID: 1, Body: "a comment", User: &upstream.User{ID: 1, Login: "alice"}, CreatedAt: commentTime, UpdatedAt: commentTime}})
	})

	h, q := newTestHandler(t, mux)
	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := h.Upsert.EnsureRepo(context.Background(), repo); err != nil {
		t.Fatalf("EnsureRepo: %v", err)
	}
	seedSharedIssueForComments(t, h, repo, 5)

	// First pass inserts the comment (New) and would enqueue a
	// follow-up; the regression under test is the second pass, where
	// the exact same page is re-observed and every comment classifies
	// Unchanged, so the Link: rel=next header must NOT cause another
	// enqueue.
	if err := h.handleComments(context.Background(), &model.CommentsRequest{Repo: repo, IssueNumber: 5}); err != nil {
		t.Fatalf("handleComments (seed): %v", err)
	}
	q.mu.Lock()
	q.enqueued = nil
	q.mu.Unlock()

	if err := h.handleComments(context.Background(), &model.CommentsRequest{Repo: repo, IssueNumber: 5}); err != nil {
		t.Fatalf("handleComments (repeat, unchanged): %v", err)
	}

	if enqueued := q.all(); len(enqueued) != 0 {
		t.Errorf("expected no follow-up enqueue when no comment changed, got %+v", enqueued)
	}
}

func seedSharedIssueForComments(t *testing.T, h *Handler, repo model.Repo, number int) {
	t.Helper()
	s := model.Shared{Number: number, RepoOrganization: repo.Organization, RepoName: repo.Name, CreatedAt: 1, UpdatedAt: 1}
	if _, err := h.Upsert.EnsureShared(context.Background(), s, h.NowUnix); err != nil {
		t.Fatalf("EnsureShared: %v", err)
	}
	if err := h.Upsert.EnsureIssue(context.Background(), repo, number); err != nil {
		t.Fatalf("EnsureIssue: %v", err)
	}
}
