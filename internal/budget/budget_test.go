package budget

import (
	"context"
	"testing"
	"time"

	"github.com/ghsync/ghmirror/internal/model"
)

func TestValidateShares(t *testing.T) {
	if err := Validate(); err != nil {
		t.Fatalf("default shares should be valid: %v", err)
	}
}

func TestInitialTokens(t *testing.T) {
	b := New(100)
	for _, c := range model.Categories {
		want := carryFactor * 100 * Shares[c]
		if got := b.Tokens(c); got != want {
			t.Errorf("category %s initial tokens = %v, want %v", c, got, want)
		}
	}
}

// TestBudgetFairness exercises scenario 6 of SPEC_FULL.md §8: with every
// category saturated, a simulated hour of ticks should dequeue roughly
// global_limit*share per category.
func TestBudgetFairness(t *testing.T) {
	b := New(100)
	clock := time.Now()
	b.nowFn = func() time.Time { return clock }

	counts := map[model.Category]int{}
	dequeue := func(ctx context.Context, c model.Category) (bool, error) {
		counts[c]++
		return true, nil // queues are saturated: always a request available
	}

	// New seeds every category with a 0.2×global_limit×share startup
	// grant. Spend it with a zero-elapsed tick and reset the counts, so
	// the hour below measures only the per-hour accrual.
	if _, err := b.Tick(context.Background(), dequeue); err != nil {
		t.Fatalf("warm-up tick: %v", err)
	}
	counts = map[model.Category]int{}

	// One tick per simulated minute for an hour.
	for i := 0; i < 60; i++ {
		clock = clock.Add(time.Minute)
		if _, err := b.Tick(context.Background(), dequeue); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	wantUpdate, wantComments, wantIndex := 30, 60, 10
	if d := abs(counts[model.Update] - wantUpdate); d > 1 {
		t.Errorf("Update dequeues = %d, want %d ± 1", counts[model.Update], wantUpdate)
	}
	if d := abs(counts[model.Comments] - wantComments); d > 1 {
		t.Errorf("Comments dequeues = %d, want %d ± 1", counts[model.Comments], wantComments)
	}
	if d := abs(counts[model.Index] - wantIndex); d > 1 {
		t.Errorf("Index dequeues = %d, want %d ± 1", counts[model.Index], wantIndex)
	}
}

// TestEmptyCategoryStopsEarly checks that Tick breaks its inner loop as
// soon as dequeue reports the category empty, without erroring.
func TestEmptyCategoryStopsEarly(t *testing.T) {
	b := New(100)
	clock := time.Now()
	b.nowFn = func() time.Time { return clock }

	clock = clock.Add(time.Hour)
	dequeue := func(ctx context.Context, c model.Category) (bool, error) {
		return false, nil
	}
	counts, err := b.Tick(context.Background(), dequeue)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	for c, n := range counts {
		if n != 0 {
			t.Errorf("category %s dequeued %d with nothing pending, want 0", c, n)
		}
	}
}

// TestSavedUpClamped exercises the cross-tick carry cap: a long idle
// period should not let saved_up exceed 0.2×global_limit.
func TestSavedUpClamped(t *testing.T) {
	b := New(100)
	clock := time.Now()
	b.nowFn = func() time.Time { return clock }

	clock = clock.Add(10 * time.Hour)
	dequeue := func(ctx context.Context, c model.Category) (bool, error) { return false, nil }
	if _, err := b.Tick(context.Background(), dequeue); err != nil {
		t.Fatalf("tick: %v", err)
	}

	max := carryFactor * 100.0
	if b.SavedUp() > max+1e-9 {
		t.Errorf("saved_up = %v, want <= %v", b.SavedUp(), max)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
