package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/affinity/internal/store"
)

// Sweep triggers recorded on SweepRun.Trigger.
const (
	TriggerScheduled = "scheduled"
	TriggerBatch     = "batch"
	TriggerAll       = "all"
)

// RecalcStats summarizes one item's recalculation. Skipped is set when the
// item was missing or not visible and nothing was written.
type RecalcStats struct {
	ItemID           int64 `json:"item_id"`
	AutoLinksFound   int   `json:"auto_links_found"`
	ManualLinksKept  int   `json:"manual_links_kept"`
	ScoredCandidates int   `json:"scored_candidates"`
	Skipped          bool  `json:"skipped,omitempty"`
}

// BatchStats is the aggregate report of a sweep.
type BatchStats struct {
	RunID                 string             `json:"run_id"`
	Trigger               string             `json:"trigger"`
	TotalProcessed        int                `json:"total_processed"`
	TotalLinksCreated     int                `json:"total_links_created"`
	ProcessingTimeSeconds float64            `json:"processing_time_seconds"`
	Errors                []store.SweepError `json:"errors"`
}

// RecalculateForItem rebuilds the automatic links of one item. Missing or
// invisible items are a no-op. Candidate failures come back as
// *CandidateError, write failures wrap ErrPersistence.
func (e *Engine) RecalculateForItem(ctx context.Context, itemID int64) (RecalcStats, error) {
	return e.recalculate(ctx, NewScorer(e.taxonomy), itemID)
}

func (e *Engine) recalculate(ctx context.Context, sc *Scorer, itemID int64) (RecalcStats, error) {
	stats := RecalcStats{ItemID: itemID}

	item, err := e.content.GetItem(ctx, itemID)
	if err != nil {
		e.metrics.Recalculations.WithLabelValues("failed").Inc()
		return stats, fmt.Errorf("get item %d: %w", itemID, err)
	}
	if item == nil || !e.content.IsVisible(item) {
		e.log.Debug("skip recalculation of ineligible item", zap.Int64("item", itemID))
		e.metrics.Recalculations.WithLabelValues("skipped").Inc()
		stats.Skipped = true
		return stats, nil
	}

	if err := item.CheckAttributes(); err != nil {
		e.log.Warn("unusable attributes count as unknown",
			zap.Int64("item", itemID), zap.Error(err))
	}

	auto, err := e.rank(ctx, sc, item, &stats)
	if err != nil {
		e.metrics.Recalculations.WithLabelValues("failed").Inc()
		return stats, err
	}

	// Manual links are read in the write transaction so a concurrent
	// SetManualLinks is never overwritten with a stale copy.
	_, err = e.links.UpdateLinkSet(ctx, itemID, func(ls *store.LinkSet) error {
		ls.AutoLinks = auto
		ls.EffectiveLinks = effective(itemID, ls.ManualLinks, ls.AutoIDs())
		ls.LastCalculatedAt = e.now().UnixMilli()
		stats.ManualLinksKept = len(ls.ManualLinks)
		return nil
	})
	if err != nil {
		e.metrics.Recalculations.WithLabelValues("failed").Inc()
		return stats, fmt.Errorf("%w: item %d: %w", ErrPersistence, itemID, err)
	}
	e.invalidate(ctx)

	e.metrics.Recalculations.WithLabelValues("ok").Inc()
	e.metrics.AutoLinksFound.Observe(float64(stats.AutoLinksFound))
	e.log.Debug("recalculated item",
		zap.Int64("item", itemID),
		zap.Int("candidates", stats.ScoredCandidates),
		zap.Int("auto_links", stats.AutoLinksFound),
		zap.Int("manual_links", stats.ManualLinksKept),
	)
	return stats, nil
}

// rank scores every eligible candidate against item and returns the
// retained automatic links, best first.
func (e *Engine) rank(ctx context.Context, sc *Scorer, item *store.Item, stats *RecalcStats) ([]store.AutoLink, error) {
	candidates, err := e.content.ListEligibleItems(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("list candidates for %d: %w", item.ID, err)
	}

	var auto []store.AutoLink
	for i := range candidates {
		cand := &candidates[i]
		if cand.ID == item.ID {
			continue
		}
		res, err := e.score(ctx, sc, item, cand)
		if err != nil {
			return nil, &CandidateError{ItemID: item.ID, CandidateID: cand.ID, Err: err}
		}
		stats.ScoredCandidates++
		if res.Score >= e.opts.MinScore {
			auto = append(auto, store.AutoLink{ID: cand.ID, Score: res.Score, Strength: res.Strength})
		}
	}
	e.metrics.PairsScored.Add(float64(stats.ScoredCandidates))

	sort.Slice(auto, func(i, j int) bool {
		if auto[i].Score != auto[j].Score {
			return auto[i].Score > auto[j].Score
		}
		return auto[i].ID < auto[j].ID
	})
	if len(auto) > e.opts.MaxAutoLinks {
		auto = auto[:e.opts.MaxAutoLinks]
	}

	stats.AutoLinksFound = len(auto)
	return auto, nil
}

// effective merges manual then auto ids, dropping duplicates and self.
func effective(self int64, manual, auto []int64) []int64 {
	out := make([]int64, 0, len(manual)+len(auto))
	for _, id := range slices.Concat(manual, auto) {
		if id == self || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RecalculateBatch recalculates the pageSize stalest eligible items.
func (e *Engine) RecalculateBatch(ctx context.Context, pageSize int) (BatchStats, error) {
	return e.sweepPage(ctx, TriggerBatch, pageSize)
}

// RunScheduledSweep is RecalculateBatch with the configured batch size, as
// run by the sweep timer.
func (e *Engine) RunScheduledSweep(ctx context.Context) (BatchStats, error) {
	return e.sweepPage(ctx, TriggerScheduled, e.opts.BatchSize)
}

func (e *Engine) sweepPage(ctx context.Context, trigger string, pageSize int) (BatchStats, error) {
	if pageSize <= 0 {
		pageSize = e.opts.BatchSize
	}
	items, err := e.content.ListSweepPage(ctx, pageSize)
	if err != nil {
		return BatchStats{Trigger: trigger}, fmt.Errorf("list sweep page: %w", err)
	}
	return e.sweep(ctx, trigger, items)
}

// RecalculateAll recalculates every eligible item, batch by batch.
func (e *Engine) RecalculateAll(ctx context.Context) (BatchStats, error) {
	items, err := e.content.ListEligibleItems(ctx, 0)
	if err != nil {
		return BatchStats{Trigger: TriggerAll}, fmt.Errorf("list eligible items: %w", err)
	}
	return e.sweep(ctx, TriggerAll, items)
}

// sweep recalculates items with bounded parallelism. Per-item failures are
// collected, never fatal. The only error returned is ctx's, alongside the
// partial report. The report is persisted as the last sweep run.
func (e *Engine) sweep(ctx context.Context, trigger string, items []store.Item) (BatchStats, error) {
	start := e.now()
	stats := BatchStats{
		RunID:   uuid.NewString(),
		Trigger: trigger,
		Errors:  []store.SweepError{},
	}
	var mu sync.Mutex

	for page := range slices.Chunk(items, e.opts.BatchSize) {
		if ctx.Err() != nil {
			break
		}
		// One scorer per page bounds the similarity memo.
		sc := NewScorer(e.taxonomy)

		var g errgroup.Group
		g.SetLimit(e.opts.Workers)
		for _, it := range page {
			if ctx.Err() != nil {
				break
			}
			id := it.ID
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				res, err := e.recalculate(ctx, sc, id)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					stats.Errors = append(stats.Errors, sweepError(id, err))
					e.log.Warn("sweep: item failed", zap.Int64("item", id), zap.Error(err))
				case !res.Skipped:
					stats.TotalProcessed++
					stats.TotalLinksCreated += res.AutoLinksFound
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	sort.Slice(stats.Errors, func(i, j int) bool {
		return stats.Errors[i].ItemID < stats.Errors[j].ItemID
	})
	elapsed := e.now().Sub(start)
	stats.ProcessingTimeSeconds = elapsed.Seconds()

	run := &store.SweepRun{
		ID:                    stats.RunID,
		Trigger:               trigger,
		StartedAt:             start.UnixMilli(),
		TotalProcessed:        stats.TotalProcessed,
		TotalLinksCreated:     stats.TotalLinksCreated,
		ProcessingTimeSeconds: stats.ProcessingTimeSeconds,
		Errors:                stats.Errors,
	}
	// A fresh context: a cancelled sweep still records its partial report.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.links.SaveSweepRun(saveCtx, run); err != nil {
		e.log.Error("save sweep run", zap.String("run", run.ID), zap.Error(err))
	}

	e.metrics.Sweeps.WithLabelValues(trigger).Inc()
	e.metrics.SweepDuration.Observe(elapsed.Seconds())
	e.log.Info("sweep finished",
		zap.String("run", run.ID),
		zap.String("trigger", trigger),
		zap.Int("items", len(items)),
		zap.Int("processed", stats.TotalProcessed),
		zap.Int("links", stats.TotalLinksCreated),
		zap.Int("errors", len(stats.Errors)),
		zap.Duration("elapsed", elapsed),
	)
	return stats, ctx.Err()
}

func sweepError(itemID int64, err error) store.SweepError {
	se := store.SweepError{ItemID: itemID, Message: err.Error()}
	var ce *CandidateError
	if errors.As(err, &ce) {
		se.CandidateID = ce.CandidateID
		se.Message = ce.Err.Error()
	}
	return se
}
