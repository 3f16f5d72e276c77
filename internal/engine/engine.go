// Package engine scores content items against each other and maintains the
// per-item relationship graph built from those scores.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lazypower/affinity/internal/cache"
	"github.com/lazypower/affinity/internal/metrics"
	"github.com/lazypower/affinity/internal/store"
)

// Options tunes graph maintenance.
type Options struct {
	MinScore     int           // lowest score kept as an automatic link
	MaxAutoLinks int           // automatic links kept per item
	BatchSize    int           // items per scheduled sweep page
	Workers      int           // items recalculated concurrently during a sweep
	CacheTTL     time.Duration // lifetime of the cached graph view
}

// DefaultOptions returns the stock thresholds: links need 30 points, ten
// links per item, pages of 50 items.
func DefaultOptions() Options {
	return Options{
		MinScore:     30,
		MaxAutoLinks: 10,
		BatchSize:    50,
		Workers:      4,
		CacheTTL:     time.Hour,
	}
}

// Deps are the collaborators of an Engine. Content, Taxonomy and Links are
// required; the rest fall back to no-op implementations.
type Deps struct {
	Content  ContentProvider
	Taxonomy TaxonomyProvider
	Links    PersistenceStore
	Cache    Cache
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Engine orchestrates recalculation, cleanup and sweeps.
type Engine struct {
	content  ContentProvider
	taxonomy TaxonomyProvider
	links    PersistenceStore
	cache    Cache
	log      *zap.Logger
	metrics  *metrics.Collector
	opts     Options

	// score is swapped in tests to inject candidate failures.
	score func(ctx context.Context, sc *Scorer, a, b *store.Item) (Result, error)
	now   func() time.Time

	views    singleflight.Group
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Engine.
func New(deps Deps, opts Options) *Engine {
	def := DefaultOptions()
	if opts.MinScore <= 0 {
		opts.MinScore = def.MinScore
	}
	if opts.MaxAutoLinks <= 0 {
		opts.MaxAutoLinks = def.MaxAutoLinks
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = def.CacheTTL
	}

	e := &Engine{
		content:  deps.Content,
		taxonomy: deps.Taxonomy,
		links:    deps.Links,
		cache:    deps.Cache,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		opts:     opts,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	e.score = func(ctx context.Context, sc *Scorer, a, b *store.Item) (Result, error) {
		return sc.Score(ctx, a, b)
	}
	if e.cache == nil {
		e.cache = cache.Noop{}
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	return e
}

// NewFromDB wires an Engine whose content, taxonomy and link stores are all
// backed by db.
func NewFromDB(db *store.DB, c Cache, log *zap.Logger, m *metrics.Collector, opts Options) *Engine {
	return New(Deps{
		Content:  db,
		Taxonomy: db,
		Links:    db,
		Cache:    c,
		Logger:   log,
		Metrics:  m,
	}, opts)
}

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// EventKind is the kind of content mutation the CMS reports.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
)

// ContentMutationEvent tells the engine an item changed.
type ContentMutationEvent struct {
	ItemID int64     `json:"item_id"`
	Kind   EventKind `json:"kind"`
}

// OnContentEvent reacts to a content mutation. Created and updated items are
// recalculated on their own; their neighbours' edges are left for the next
// sweep. Deleted items are removed from the content store if still there
// and scrubbed from every other link set.
func (e *Engine) OnContentEvent(ctx context.Context, ev ContentMutationEvent) (RecalcStats, error) {
	if ev.ItemID <= 0 {
		return RecalcStats{}, fmt.Errorf("event %q: invalid item id %d", ev.Kind, ev.ItemID)
	}

	switch ev.Kind {
	case EventCreated, EventUpdated:
		return e.RecalculateForItem(ctx, ev.ItemID)
	case EventDeleted:
		_, err := e.DeleteItem(ctx, ev.ItemID)
		return RecalcStats{ItemID: ev.ItemID, Skipped: true}, err
	default:
		return RecalcStats{}, fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

// DeleteItem removes an item from the content store, then drops its own
// link set and every reference other items hold to it. The cleanup runs
// even when the item row was already gone, so a retried delete finishes a
// half-done one. Reports whether the row existed.
func (e *Engine) DeleteItem(ctx context.Context, id int64) (bool, error) {
	existed, err := e.content.DeleteItem(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: delete item %d: %w", ErrPersistence, id, err)
	}
	n, err := e.links.RemoveReferenceEverywhere(ctx, id)
	if err != nil {
		return existed, fmt.Errorf("%w: remove references to %d: %w", ErrPersistence, id, err)
	}
	if err := e.links.DeleteLinkSet(ctx, id); err != nil {
		return existed, fmt.Errorf("%w: delete link set %d: %w", ErrPersistence, id, err)
	}
	e.invalidate(ctx)
	e.log.Info("removed item from graph",
		zap.Int64("item", id),
		zap.Bool("existed", existed),
		zap.Int("link_sets_updated", n),
	)
	return existed, nil
}

// StartSweepTimer runs a scheduled sweep every interval until Stop.
func (e *Engine) StartSweepTimer(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithCancel(context.Background())
				go func() {
					select {
					case <-e.stopCh:
						cancel()
					case <-ctx.Done():
					}
				}()
				if _, err := e.RunScheduledSweep(ctx); err != nil {
					e.log.Warn("scheduled sweep", zap.Error(err))
				}
				cancel()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines. In-flight scheduled
// sweeps are cancelled between items.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
