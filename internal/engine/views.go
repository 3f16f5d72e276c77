package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lazypower/affinity/internal/store"
)

// Cache keys. Every write invalidates all of them. Entries are stored under
// the key suffixed with the cache generation shared through the database,
// so a write from another process orphans this process's entries too.
const (
	GraphCacheKey    = "graph:full"
	OverviewCacheKey = "graph:overview"
)

var cacheKeys = []string{GraphCacheKey, OverviewCacheKey}

func generationKey(key string, gen int64) string {
	return fmt.Sprintf("%s@%d", key, gen)
}

// invalidate advances the cache generation and drops this process's
// entries of the previous one. Failures are logged and swallowed: the
// cache only saves work, stale entries expire with their TTL.
func (e *Engine) invalidate(ctx context.Context) {
	gen, err := e.links.BumpCacheGeneration(ctx)
	if err == nil {
		for _, key := range cacheKeys {
			err = multierr.Append(err, e.cache.Invalidate(ctx, generationKey(key, gen-1)))
		}
	}
	if err != nil {
		e.metrics.CacheInvalidations.WithLabelValues("error").Inc()
		e.log.Warn("cache invalidation failed", zap.Errors("errors", multierr.Errors(err)))
		return
	}
	e.metrics.CacheInvalidations.WithLabelValues("ok").Inc()
}

// GetEffectiveLinks returns the ids exposed as neighbours of itemID, manual
// links first. Items never calculated have none.
func (e *Engine) GetEffectiveLinks(ctx context.Context, itemID int64) ([]int64, error) {
	ls, err := e.links.ReadLinkSet(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if ls == nil {
		return []int64{}, nil
	}
	return ls.EffectiveLinks, nil
}

// RelationshipStats counts one item's links.
type RelationshipStats struct {
	ItemID           int64 `json:"item_id"`
	AutoCount        int   `json:"auto_count"`
	ManualCount      int   `json:"manual_count"`
	TotalCount       int   `json:"total_count"`
	LastCalculatedAt int64 `json:"last_calculated_at,omitempty"`
}

func (e *Engine) GetRelationshipStats(ctx context.Context, itemID int64) (RelationshipStats, error) {
	stats := RelationshipStats{ItemID: itemID}
	ls, err := e.links.ReadLinkSet(ctx, itemID)
	if err != nil || ls == nil {
		return stats, err
	}
	stats.AutoCount = len(ls.AutoLinks)
	stats.ManualCount = len(ls.ManualLinks)
	stats.TotalCount = len(ls.EffectiveLinks)
	stats.LastCalculatedAt = ls.LastCalculatedAt
	return stats, nil
}

// State is where an item stands in graph maintenance.
type State string

const (
	StateDeleted  State = "deleted"
	StateUnscored State = "unscored"
	StateStale    State = "stale"
	StateScored   State = "scored"
)

// ItemState reports whether itemID is gone, never calculated, changed since
// its last calculation, or up to date.
func (e *Engine) ItemState(ctx context.Context, itemID int64) (State, error) {
	item, err := e.content.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item == nil {
		return StateDeleted, nil
	}
	ls, err := e.links.ReadLinkSet(ctx, itemID)
	if err != nil {
		return "", err
	}
	switch {
	case ls == nil || ls.LastCalculatedAt == 0:
		return StateUnscored, nil
	case item.UpdatedAt > ls.LastCalculatedAt:
		return StateStale, nil
	default:
		return StateScored, nil
	}
}

// SetManualLinks replaces the curated links of itemID. Duplicates, self and
// unknown ids are dropped. Automatic links are kept as they are.
func (e *Engine) SetManualLinks(ctx context.Context, itemID int64, ids []int64) (*store.LinkSet, error) {
	item, err := e.content.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, itemID)
	}

	manual := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == itemID || slices.Contains(manual, id) {
			continue
		}
		other, err := e.content.GetItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if other == nil {
			e.log.Debug("drop unknown manual link", zap.Int64("item", itemID), zap.Int64("target", id))
			continue
		}
		manual = append(manual, id)
	}

	ls, err := e.links.UpdateLinkSet(ctx, itemID, func(ls *store.LinkSet) error {
		ls.ManualLinks = manual
		ls.EffectiveLinks = effective(itemID, manual, ls.AutoIDs())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: item %d: %w", ErrPersistence, itemID, err)
	}
	e.invalidate(ctx)
	return ls, nil
}

// Explain scores an arbitrary pair with the full factor breakdown.
func (e *Engine) Explain(ctx context.Context, a, b int64) (Result, error) {
	if a == b {
		return Result{}, ErrSelfPair
	}
	ia, err := e.content.GetItem(ctx, a)
	if err != nil {
		return Result{}, err
	}
	ib, err := e.content.GetItem(ctx, b)
	if err != nil {
		return Result{}, err
	}
	if ia == nil {
		return Result{}, fmt.Errorf("%w: %d", ErrNotFound, a)
	}
	if ib == nil {
		return Result{}, fmt.Errorf("%w: %d", ErrNotFound, b)
	}
	res, err := e.score(ctx, NewScorer(e.taxonomy), ia, ib)
	if err != nil {
		return Result{}, &CandidateError{ItemID: a, CandidateID: b, Err: err}
	}
	return res, nil
}

// LastSweep returns the most recent sweep report, nil if none ran yet.
func (e *Engine) LastSweep(ctx context.Context) (*store.SweepRun, error) {
	return e.links.LastSweepRun(ctx)
}

// Node is an item in the graph view.
type Node struct {
	ID    int64      `json:"id"`
	Title string     `json:"title"`
	Kind  store.Kind `json:"kind"`
}

// Link is a directed edge of the graph view. Manual links that the scorer
// did not retain carry no score.
type Link struct {
	Source   int64  `json:"source"`
	Target   int64  `json:"target"`
	Score    int    `json:"score,omitempty"`
	Strength string `json:"strength,omitempty"`
	Manual   bool   `json:"manual"`
}

// Graph is the full node/link view consumed by the front-end.
type Graph struct {
	Nodes       []Node `json:"nodes"`
	Links       []Link `json:"links"`
	GeneratedAt int64  `json:"generated_at"`
}

// GraphView returns the whole graph, served from cache when possible.
func (e *Engine) GraphView(ctx context.Context) (*Graph, error) {
	data, err := e.GraphJSON(ctx)
	if err != nil {
		return nil, err
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode graph view: %w", err)
	}
	return &g, nil
}

// GraphJSON is GraphView already encoded, as stored in the cache.
func (e *Engine) GraphJSON(ctx context.Context) ([]byte, error) {
	return e.cached(ctx, GraphCacheKey, func() (any, error) { return e.buildGraph(ctx) })
}

func (e *Engine) buildGraph(ctx context.Context) (*Graph, error) {
	items, err := e.content.ListEligibleItems(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list eligible items: %w", err)
	}
	sets, err := e.links.ListLinkSets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list link sets: %w", err)
	}

	g := &Graph{
		Nodes:       make([]Node, 0, len(items)),
		Links:       []Link{},
		GeneratedAt: e.now().UnixMilli(),
	}
	visible := make(map[int64]bool, len(items))
	for _, it := range items {
		visible[it.ID] = true
		g.Nodes = append(g.Nodes, Node{ID: it.ID, Title: it.Title, Kind: it.Kind})
	}

	for _, ls := range sets {
		if !visible[ls.ItemID] {
			continue
		}
		scores := make(map[int64]store.AutoLink, len(ls.AutoLinks))
		for _, l := range ls.AutoLinks {
			scores[l.ID] = l
		}
		for _, target := range ls.EffectiveLinks {
			if !visible[target] {
				continue
			}
			auto := scores[target]
			g.Links = append(g.Links, Link{
				Source:   ls.ItemID,
				Target:   target,
				Score:    auto.Score,
				Strength: auto.Strength,
				Manual:   slices.Contains(ls.ManualLinks, target),
			})
		}
	}
	return g, nil
}

// Overview summarizes the whole graph.
type Overview struct {
	EligibleItems int             `json:"eligible_items"`
	ScoredItems   int             `json:"scored_items"`
	AutoLinks     int             `json:"auto_links"`
	ManualLinks   int             `json:"manual_links"`
	LastSweep     *store.SweepRun `json:"last_sweep,omitempty"`
	GeneratedAt   int64           `json:"generated_at"`
}

// Overview returns graph-wide counts, served from cache when possible.
func (e *Engine) Overview(ctx context.Context) (*Overview, error) {
	data, err := e.cached(ctx, OverviewCacheKey, func() (any, error) { return e.buildOverview(ctx) })
	if err != nil {
		return nil, err
	}
	var o Overview
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode overview: %w", err)
	}
	return &o, nil
}

func (e *Engine) buildOverview(ctx context.Context) (*Overview, error) {
	items, err := e.content.ListEligibleItems(ctx, 0)
	if err != nil {
		return nil, err
	}
	sets, err := e.links.ListLinkSets(ctx)
	if err != nil {
		return nil, err
	}
	last, err := e.links.LastSweepRun(ctx)
	if err != nil {
		return nil, err
	}

	o := &Overview{EligibleItems: len(items), LastSweep: last, GeneratedAt: e.now().UnixMilli()}
	for _, ls := range sets {
		if ls.LastCalculatedAt > 0 {
			o.ScoredItems++
		}
		o.AutoLinks += len(ls.AutoLinks)
		o.ManualLinks += len(ls.ManualLinks)
	}
	return o, nil
}

// cached returns the JSON stored under name for the current generation,
// building and storing it on a miss. Concurrent misses share one build.
// Cache errors degrade to a build.
func (e *Engine) cached(ctx context.Context, name string, build func() (any, error)) ([]byte, error) {
	gen, err := e.links.CacheGeneration(ctx)
	if err != nil {
		e.log.Warn("cache generation unavailable, bypassing cache", zap.String("key", name), zap.Error(err))
		e.metrics.CacheLookups.WithLabelValues("miss").Inc()
		view, err := build()
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	}
	key := generationKey(name, gen)

	if data, ok, err := e.cache.Get(ctx, key); err != nil {
		e.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		e.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return data, nil
	}
	e.metrics.CacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := e.views.Do(key, func() (any, error) {
		view, err := build()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := e.cache.Set(ctx, key, data, e.opts.CacheTTL); err != nil {
			e.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
