// Package budget implements the multi-category leaky-bucket rate
// allocator described in SPEC_FULL.md §4.3: a shared global request
// budget ("requests per hour") apportioned across the Update, Comments,
// and Index categories, with a per-category ceiling, cross-category
// spillover within a tick, and a persistent cross-tick carry.
package budget

import (
	"context"
	"time"

	"github.com/ghsync/ghmirror/internal/model"
)

// Shares gives each category's fraction of the global budget. The
// fractions must sum to 1.0; Validate checks this, and config.Validate
// calls it when the configuration is loaded.
var Shares = map[model.Category]float64{
	model.Update:   0.3,
	model.Comments: 0.6,
	model.Index:    0.1,
}

// carryFactor (0.2) sets three limits: the per-category ceiling and
// the startup token grant are each 0.2 × global_limit × share, and the
// saved_up cross-tick carry is clamped to 0.2 × global_limit (no share
// multiplier — saved_up is global).
const carryFactor = 0.2

// categoryState is one category's token accumulator and accounting
// clock.
type categoryState struct {
	tokens   float64
	lastTime time.Time
}

// Budgeter is the per-process rate allocator. It is not safe for
// concurrent use by multiple goroutines without external
// synchronization; the orchestrator calls Tick only from the single
// control-loop goroutine that Run drives.
type Budgeter struct {
	globalLimit float64
	states      map[model.Category]*categoryState
	savedUp     float64
	nowFn       func() time.Time
}

// New constructs a Budgeter for globalLimit requests/hour, seeding each
// category with its initial 0.2×global_limit×share token grant so the
// system can do useful work immediately at startup.
func New(globalLimit int) *Budgeter {
	b := &Budgeter{
		globalLimit: float64(globalLimit),
		states:      make(map[model.Category]*categoryState, len(model.Categories)),
		nowFn:       time.Now,
	}
	now := b.nowFn()
	for _, c := range model.Categories {
		b.states[c] = &categoryState{
			tokens:   carryFactor * b.globalLimit * Shares[c],
			lastTime: now,
		}
	}
	return b
}

// Validate checks that Shares sums to 1.0, within floating-point
// tolerance. Called at configuration-load time; a failure is a
// configuration error (fatal at startup, §7).
func Validate() error {
	var sum float64
	for _, s := range Shares {
		sum += s
	}
	if sum < 0.999 || sum > 1.001 {
		return &InvalidSharesError{Sum: sum}
	}
	return nil
}

// InvalidSharesError reports that the configured category shares do
// not sum to 1.0.
type InvalidSharesError struct{ Sum float64 }

func (e *InvalidSharesError) Error() string {
	return "budget category shares must sum to 1.0"
}

// DequeueFunc attempts one dequeue in category c, returning true if a
// request was available and handed off, false if the category was
// empty.
type DequeueFunc func(ctx context.Context, c model.Category) (bool, error)

// Tick applies one accounting step (SPEC_FULL.md §4.3 steps 1-5) to
// every category in the fixed order model.Categories, calling dequeue
// to drain tokens as they accumulate. Tick returns the number of
// successful dequeues, keyed by category.
func (b *Budgeter) Tick(ctx context.Context, dequeue DequeueFunc) (map[model.Category]int, error) {
	now := b.nowFn()
	dequeued := make(map[model.Category]int, len(model.Categories))
	carry := b.savedUp

	for _, c := range model.Categories {
		state := b.states[c]
		share := Shares[c]

		elapsed := now.Sub(state.lastTime)
		state.lastTime = now

		state.tokens += elapsed.Seconds()/3600*share*b.globalLimit + carry
		carry = 0

		for state.tokens >= 1 {
			ok, err := dequeue(ctx, c)
			if err != nil {
				return dequeued, err
			}
			if !ok {
				break
			}
			state.tokens--
			dequeued[c]++
		}

		ceiling := carryFactor * b.globalLimit * share
		if state.tokens >= ceiling {
			carry = state.tokens - ceiling
			state.tokens = ceiling
		}
	}

	saved := carry
	maxSavedUp := carryFactor * b.globalLimit
	if saved > maxSavedUp {
		saved = maxSavedUp
	}
	b.savedUp = saved

	return dequeued, nil
}

// SavedUp returns the current cross-tick carry, for stats emission and
// tests.
func (b *Budgeter) SavedUp() float64 { return b.savedUp }

// Tokens returns category c's current token count, for stats emission
// and tests.
func (b *Budgeter) Tokens(c model.Category) float64 { return b.states[c].tokens }
