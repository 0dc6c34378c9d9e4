// Package orchestrator runs the main loop: periodic re-seeding of
// list requests per repo, ticking the rate budgeter to drain the
// queue, and dispatching each dequeued request to the handler on its
// own goroutine, per SPEC_FULL.md §4.6.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghsync/ghmirror/internal/budget"
	"github.com/ghsync/ghmirror/internal/handler"
	"github.com/ghsync/ghmirror/internal/model"
)

// Dequeuer is the subset of *sqlite.Queue the orchestrator drains from.
type Dequeuer interface {
	Dequeue(ctx context.Context, c model.Category) (*model.Request, error)
	HasPending(ctx context.Context, name model.RequestName, repo model.Repo) (bool, error)
	Enqueue(ctx context.Context, category model.Category, name model.RequestName, req *model.Request) error
}

// Stats is the subset of metric instruments the orchestrator reports
// to on every tick; satisfied by the OTel-backed recorder built in
// cmd/ghmirror, with a no-op default so Orchestrator is usable without
// one wired up.
type Stats interface {
	RecordTick(dequeued map[model.Category]int, savedUp float64)
}

// NoopStats discards every observation.
type NoopStats struct{}

func (NoopStats) RecordTick(map[model.Category]int, float64) {}

// Orchestrator owns the budgeter, the queue, and the set of repos to
// keep mirrored. Tick and Seed are both safe to call repeatedly from a
// single control loop goroutine; Run wires that loop up for you.
type Orchestrator struct {
	Queue    Dequeuer
	Budgeter *budget.Budgeter
	Handler  *handler.Handler
	Repos    []model.Repo
	Log      *slog.Logger
	Stats    Stats

	wg sync.WaitGroup
}

// New constructs an Orchestrator. stats may be nil, in which case tick
// statistics are discarded.
func New(queue Dequeuer, b *budget.Budgeter, h *handler.Handler, repos []model.Repo, log *slog.Logger, stats Stats) *Orchestrator {
	if stats == nil {
		stats = NoopStats{}
	}
	return &Orchestrator{Queue: queue, Budgeter: b, Handler: h, Repos: repos, Log: log, Stats: stats}
}

// Run drives the main loop until ctx is cancelled: Seed fires once at
// startup and then every refreshInterval; Tick fires every
// tickInterval. Run blocks until every in-flight handler goroutine it
// spawned has returned, so cancelling ctx drains cleanly.
func (o *Orchestrator) Run(ctx context.Context, tickInterval, refreshInterval time.Duration) {
	if err := o.Seed(ctx); err != nil {
		o.Log.Warn("startup seed failed", "error", err)
	}

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return
		case <-refresh.C:
			if err := o.Seed(ctx); err != nil {
				o.Log.Warn("periodic seed failed", "error", err)
			}
		case <-tick.C:
			if err := o.Tick(ctx); err != nil {
				o.Log.Warn("tick failed", "error", err)
			}
		}
	}
}

// Seed enqueues a NewPr and NewIssue request for every configured
// repo unconditionally, and an OldPr/OldIssue request only if one
// isn't already pending — the steady-state refresh cadence for the
// New lists, and a one-shot backfill kickoff for the Old lists.
func (o *Orchestrator) Seed(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)

	for _, repo := range o.Repos {
		repo := repo
		g.Go(func() error {
			if err := o.Queue.Enqueue(gctx, model.Update, model.NewPr, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
				return err
			}
			if err := o.Queue.Enqueue(gctx, model.Update, model.NewIssue, &model.Request{List: &model.ListRequest{Repo: repo}}); err != nil {
				return err
			}
			if err := o.seedOld(gctx, model.OldPr, repo); err != nil {
				return err
			}
			return o.seedOld(gctx, model.OldIssue, repo)
		})
	}
	return g.Wait()
}

// seedConcurrency bounds how many repos are seeded at once; each
// repo's enqueues are independent rows so they don't need to be
// serialized, but unbounded fan-out would pointlessly contend the
// store's single writer connection under a large repo list.
const seedConcurrency = 8

func (o *Orchestrator) seedOld(ctx context.Context, name model.RequestName, repo model.Repo) error {
	pending, err := o.Queue.HasPending(ctx, name, repo)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return o.Queue.Enqueue(ctx, model.Index, name, &model.Request{List: &model.ListRequest{Repo: repo}})
}

// Tick drains the budgeter by one accounting step, handing every
// successful dequeue to the handler on its own goroutine so a slow
// upstream call never blocks the next category's accounting.
func (o *Orchestrator) Tick(ctx context.Context) error {
	dequeued, err := o.Budgeter.Tick(ctx, o.dequeueAndDispatch)
	o.Stats.RecordTick(dequeued, o.Budgeter.SavedUp())
	return err
}

func (o *Orchestrator) dequeueAndDispatch(ctx context.Context, c model.Category) (bool, error) {
	req, err := o.Queue.Dequeue(ctx, c)
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Handler.Handle(ctx, req); err != nil {
			o.Log.Warn("handler failed", "category", c, "name", req.Name, "error", err)
		}
	}()
	return true, nil
}
