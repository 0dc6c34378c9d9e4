package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"io"
	"testing"

	"github.com/ghsync/ghmirror/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestQueue(t *testing.T) (*Store, *Queue) {
	t.Helper()
	store := openTestStore(t)
	q, err := NewQueue(context.Background(), store, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return store, q
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	_, q := openTestQueue(t)

	repo := model.Repo{Organization: "acme", Name: "widgets"}
	for i := 0; i < 3; i++ {
		req := &model.Request{List: &model.ListRequest{Repo: repo, Page: i}}
		if err := q.Enqueue(ctx, model.Update, model.NewIssue, req); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	for i := 0; i < 3; i++ {
		got, err := q.Dequeue(ctx, model.Update)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if got == nil {
			t.Fatalf("Dequeue %d: expected a request, got nil", i)
		}
		if got.List.Page != i {
			t.Errorf("Dequeue %d: page = %d, want %d (FIFO order violated)", i, got.List.Page, i)
		}
	}

	got, err := q.Dequeue(ctx, model.Update)
	if err != nil {
		t.Fatalf("Dequeue on empty category: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on empty category, got %+v", got)
	}
}

func TestQueueCategoriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	_, q := openTestQueue(t)
	repo := model.Repo{Organization: "acme", Name: "widgets"}

	if err := q.Enqueue(ctx, model.Index, model.OldIssue, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, model.Update)
	if err != nil {
		t.Fatalf("Dequeue Update: %v", err)
	}
	if got != nil {
		t.Errorf("expected Update category empty, got %+v", got)
	}

	got, err = q.Dequeue(ctx, model.Index)
	if err != nil {
		t.Fatalf("Dequeue Index: %v", err)
	}
	if got == nil {
		t.Fatal("expected a request from Index category")
	}
}

func TestQueueSkipsPoisonedEntry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO request (sequence_number, category, name, data) VALUES (0, 0, 'NewIssue', ?)`,
		[]byte("not valid json")); err != nil {
		t.Fatalf("insert poisoned row: %v", err)
	}

	// Build the queue after the poisoned row exists, so its sequence
	// counter resumes past it instead of reissuing number 0.
	q, err := NewQueue(ctx, store, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	repo := model.Repo{Organization: "acme", Name: "widgets"}
	if err := q.Enqueue(ctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo, Page: 7}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.Dequeue(ctx, model.Update)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got == nil {
		t.Fatal("expected Dequeue to skip the poisoned row and return the valid one")
	}
	if got.List.Page != 7 {
		t.Errorf("page = %d, want 7", got.List.Page)
	}
}

func TestDecodeQueuedPayloadWrapsErrPoisonPayload(t *testing.T) {
	_, err := decodeQueuedPayload(model.NewIssue, []byte("not valid json"))
	if !errors.Is(err, ErrPoisonPayload) {
		t.Fatalf("expected errors.Is(err, ErrPoisonPayload), got %v", err)
	}
}

func TestQueueEnqueueDuplicateSequenceIsErrConflict(t *testing.T) {
	ctx := context.Background()
	store, q := openTestQueue(t)
	repo := model.Repo{Organization: "acme", Name: "widgets"}

	if err := q.Enqueue(ctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Force the allocator to reissue sequence_number 0, the one just
	// consumed above, reproducing the two-writers-without-coordination
	// race the request table's primary key guards against.
	q.seq.Store(0)
	err := q.Enqueue(ctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected errors.Is(err, ErrConflict) on duplicate sequence_number, got %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request`).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected the conflicting insert to leave exactly 1 row, got %d", count)
	}
}

func TestQueueHasPending(t *testing.T) {
	ctx := context.Background()
	_, q := openTestQueue(t)

	repoA := model.Repo{Organization: "acme", Name: "widgets"}
	repoB := model.Repo{Organization: "acme", Name: "gadgets"}

	pending, err := q.HasPending(ctx, model.OldIssue, repoA)
	if err != nil {
		t.Fatalf("HasPending: %v", err)
	}
	if pending {
		t.Error("expected no pending request before enqueue")
	}

	if err := q.Enqueue(ctx, model.Index, model.OldIssue, &model.Request{List: &model.ListRequest{Repo: repoA}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err = q.HasPending(ctx, model.OldIssue, repoA)
	if err != nil {
		t.Fatalf("HasPending: %v", err)
	}
	if !pending {
		t.Error("expected pending request for repoA")
	}

	pending, err = q.HasPending(ctx, model.OldIssue, repoB)
	if err != nil {
		t.Fatalf("HasPending: %v", err)
	}
	if pending {
		t.Error("expected no pending request for a different repo")
	}
}

func TestQueueSequenceNumbersResumeAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	q, err := NewQueue(ctx, store, testLogger())
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	repo := model.Repo{Organization: "acme", Name: "widgets"}
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	q2, err := NewQueue(ctx, store, testLogger())
	if err != nil {
		t.Fatalf("NewQueue (resume): %v", err)
	}
	if err := q2.Enqueue(ctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
		t.Fatalf("Enqueue after resume: %v", err)
	}

	seen := map[int64]bool{}
	for i := 0; i < 3; i++ {
		req, err := q2.Dequeue(ctx, model.Update)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if req == nil {
			t.Fatalf("Dequeue %d: expected a request", i)
		}
		if seen[req.SequenceNumber] {
			t.Errorf("duplicate sequence number %d", req.SequenceNumber)
		}
		seen[req.SequenceNumber] = true
	}
}
