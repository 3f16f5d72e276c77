package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/lazypower/affinity/internal/cache"
	"github.com/lazypower/affinity/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEngine(t *testing.T, tweak ...func(*Options)) (*Engine, *store.DB) {
	t.Helper()
	db := testDB(t)
	mem := cache.NewMemory(16, time.Minute)
	t.Cleanup(func() { mem.Close() })

	opts := DefaultOptions()
	for _, f := range tweak {
		f(&opts)
	}
	return NewFromDB(db, mem, zaptest.NewLogger(t), nil, opts), db
}

func seed(t *testing.T, db *store.DB, it *store.Item) int64 {
	t.Helper()
	if !it.ShowInGraph && it.Status == "" {
		it.ShowInGraph = true
	}
	_, err := db.UpsertItem(context.Background(), it)
	require.NoError(t, err)
	return it.ID
}

// project returns a visible project in the given categories. Titles are
// made distinct enough to stay under the title threshold.
func project(title string, cats ...int64) *store.Item {
	return &store.Item{Kind: store.KindProject, Title: title, Categories: terms(cats...)}
}

func readLinks(t *testing.T, db *store.DB, id int64) *store.LinkSet {
	t.Helper()
	ls, err := db.ReadLinkSet(context.Background(), id)
	require.NoError(t, err)
	return ls
}

func TestRecalculateMissingItem(t *testing.T) {
	e, db := newTestEngine(t)
	stats, err := e.RecalculateForItem(context.Background(), 404)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.Nil(t, readLinks(t, db, 404))
}

func TestRecalculateInvisibleItem(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	draft := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Brouillon", Status: "draft", ShowInGraph: true})
	hidden := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Caché", Status: store.StatusPublish, ShowInGraph: false})

	for _, id := range []int64{draft, hidden} {
		stats, err := e.RecalculateForItem(ctx, id)
		require.NoError(t, err)
		assert.True(t, stats.Skipped)
		assert.Nil(t, readLinks(t, db, id), "nothing persisted for %d", id)
	}
}

func TestRecalculateThresholdAndSelfExclusion(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Halle Tony Garnier", 1))
	b := seed(t, db, project("Quai Perrache", 1))
	c := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Recette de saison"})
	hidden := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Halle Tony Garnier", Status: "draft", ShowInGraph: true, Categories: terms(1)})

	stats, err := e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, RecalcStats{ItemID: a, AutoLinksFound: 1, ScoredCandidates: 2}, stats)

	ls := readLinks(t, db, a)
	require.NotNil(t, ls)
	assert.Equal(t, []int64{b}, ls.AutoIDs())
	assert.Equal(t, 55, ls.AutoLinks[0].Score)
	assert.Equal(t, StrengthMedium, ls.AutoLinks[0].Strength)
	assert.Equal(t, []int64{b}, ls.EffectiveLinks)
	assert.NotContains(t, ls.EffectiveLinks, a)
	assert.NotContains(t, ls.EffectiveLinks, c)
	assert.NotContains(t, ls.EffectiveLinks, hidden)
	assert.NotZero(t, ls.LastCalculatedAt)
}

func TestRecalculateCapAndOrder(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	names := []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot", "Golf",
		"Hotel", "India", "Juliett", "Kilo", "Lima", "Mike"}
	ids := make([]int64, len(names))
	for i, n := range names {
		ids[i] = seed(t, db, project(n, 1))
	}
	// a few items get a second shared category and climb the ranking
	for _, i := range []int{7, 9, 11} {
		require.NoError(t, db.SetTerms(ctx, ids[i], store.TaxCategory, terms(1, 2)))
	}
	require.NoError(t, db.SetTerms(ctx, ids[0], store.TaxCategory, terms(1, 2)))

	stats, err := e.RecalculateForItem(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 12, stats.ScoredCandidates)
	assert.Equal(t, 10, stats.AutoLinksFound)

	ls := readLinks(t, db, ids[0])
	require.Len(t, ls.AutoLinks, 10)
	assert.Equal(t, []int64{ids[7], ids[9], ids[11]}, ls.AutoIDs()[:3])
	assert.True(t, slices.IsSortedFunc(ls.AutoLinks, func(x, y store.AutoLink) int {
		if x.Score != y.Score {
			return y.Score - x.Score
		}
		return int(x.ID - y.ID)
	}), "auto links must be sorted by score desc, id asc: %+v", ls.AutoLinks)
}

func TestRecalculateIdempotent(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	var ids []int64
	for i := range 6 {
		ids = append(ids, seed(t, db, project(fmt.Sprintf("Projet %c", 'A'+i), 1)))
	}

	_, err := e.RecalculateForItem(ctx, ids[0])
	require.NoError(t, err)
	first := readLinks(t, db, ids[0]).AutoLinks

	_, err = e.RecalculateForItem(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, first, readLinks(t, db, ids[0]).AutoLinks)
}

func TestManualLinkPriority(t *testing.T) {
	e, db := newTestEngine(t, func(o *Options) { o.MinScore = 50 })
	ctx := context.Background()

	x := seed(t, db, project("Villa Savoye", 1))
	y := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Recette de saison"})
	z := seed(t, db, project("Cité radieuse", 1))

	_, err := e.SetManualLinks(ctx, x, []int64{y})
	require.NoError(t, err)

	res, err := e.Explain(ctx, x, y)
	require.NoError(t, err)
	require.Less(t, res.Score, 50, "y must not qualify on its own")

	stats, err := e.RecalculateForItem(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ManualLinksKept)

	ls := readLinks(t, db, x)
	assert.Equal(t, []int64{z}, ls.AutoIDs())
	assert.Equal(t, []int64{y}, ls.ManualLinks)
	assert.Equal(t, []int64{y, z}, ls.EffectiveLinks, "manual links come first")
}

func TestSetManualLinks(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	c := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Charlie"})

	_, err := e.RecalculateForItem(ctx, a)
	require.NoError(t, err)

	ls, err := e.SetManualLinks(ctx, a, []int64{c, a, c, 999, b})
	require.NoError(t, err)
	assert.Equal(t, []int64{c, b}, ls.ManualLinks, "self, duplicates and unknown ids dropped")
	assert.Equal(t, []int64{b}, ls.AutoIDs(), "auto links untouched")
	assert.Equal(t, []int64{c, b}, ls.EffectiveLinks)

	links, err := e.GetEffectiveLinks(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int64{c, b}, links)

	_, err = e.SetManualLinks(ctx, 999, []int64{a})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesReferences(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	c := seed(t, db, project("Charlie", 1))

	_, err := e.RecalculateAll(ctx)
	require.NoError(t, err)
	_, err = e.SetManualLinks(ctx, a, []int64{c})
	require.NoError(t, err)
	require.Contains(t, readLinks(t, db, b).EffectiveLinks, c)

	existed, err := e.DeleteItem(ctx, c)
	require.NoError(t, err)
	assert.True(t, existed)

	sets, err := db.ListLinkSets(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	for _, ls := range sets {
		assert.NotContains(t, ls.AutoIDs(), c, "item %d auto links", ls.ItemID)
		assert.NotContains(t, ls.ManualLinks, c, "item %d manual links", ls.ItemID)
		assert.NotContains(t, ls.EffectiveLinks, c, "item %d effective links", ls.ItemID)
	}
	assert.Nil(t, readLinks(t, db, c))

	state, err := e.ItemState(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)
}

func TestDeletedEventAloneRemovesItem(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	_, err := e.RecalculateAll(ctx)
	require.NoError(t, err)
	require.Contains(t, readLinks(t, db, a).EffectiveLinks, b)

	// the CMS reports the delete without touching the store itself
	_, err = e.OnContentEvent(ctx, ContentMutationEvent{ItemID: b, Kind: EventDeleted})
	require.NoError(t, err)

	stats, err := e.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalProcessed)

	it, err := db.GetItem(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, it)
	assert.Nil(t, readLinks(t, db, b))
	assert.NotContains(t, readLinks(t, db, a).EffectiveLinks, b)

	state, err := e.ItemState(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)

	g, err := e.GraphView(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Links)

	// a repeated delete is harmless
	existed, err := e.DeleteItem(ctx, b)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestOnContentEvent(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	seed(t, db, project("Bravo", 1))

	stats, err := e.OnContentEvent(ctx, ContentMutationEvent{ItemID: a, Kind: EventCreated})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoLinksFound)

	_, err = e.OnContentEvent(ctx, ContentMutationEvent{ItemID: a, Kind: "renamed"})
	assert.ErrorContains(t, err, "unknown event kind")

	_, err = e.OnContentEvent(ctx, ContentMutationEvent{Kind: EventUpdated})
	assert.Error(t, err)
}

func TestBatchSweepIsolatesCandidateFailure(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	one := seed(t, db, project("Alpha", 1))
	two := seed(t, db, project("Bravo", 1))
	three := seed(t, db, project("Charlie", 1))

	e.score = func(ctx context.Context, sc *Scorer, a, b *store.Item) (Result, error) {
		if a.ID == two && b.ID == three {
			return Result{}, errors.New("malformed attribute")
		}
		return sc.Score(ctx, a, b)
	}

	stats, err := e.RecalculateBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.Equal(t, 4, stats.TotalLinksCreated)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, store.SweepError{ItemID: two, CandidateID: three, Message: "malformed attribute"}, stats.Errors[0])
	assert.GreaterOrEqual(t, stats.ProcessingTimeSeconds, 0.0)

	assert.NotNil(t, readLinks(t, db, one))
	assert.Nil(t, readLinks(t, db, two), "failed item keeps its previous (absent) link set")
	assert.NotNil(t, readLinks(t, db, three))

	last, err := e.LastSweep(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, stats.RunID, last.ID)
	assert.Equal(t, TriggerBatch, last.Trigger)
	assert.Equal(t, 2, last.TotalProcessed)
	assert.Equal(t, stats.Errors, last.Errors)
}

func TestSweepUnusableAttributes(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	article := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Alpha", Categories: terms(1)})
	bad := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Bravo", Categories: terms(1),
		Attributes: map[string]string{store.AttrCost: "sur devis", store.AttrSurface: "100-120 m²"}})
	good := seed(t, db, project("Charlie", 1))

	stats, err := e.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalProcessed)
	assert.Empty(t, stats.Errors)
	assert.NotNil(t, readLinks(t, db, article))
	assert.Contains(t, readLinks(t, db, good).EffectiveLinks, bad)
	assert.Contains(t, readLinks(t, db, bad).EffectiveLinks, good)

	_, err = e.RecalculateForItem(ctx, bad)
	require.NoError(t, err)
}

func TestScheduledSweepTakesStalestFirst(t *testing.T) {
	e, db := newTestEngine(t, func(o *Options) { o.BatchSize = 2 })
	ctx := context.Background()

	var ids []int64
	for _, n := range []string{"Alpha", "Bravo", "Charlie", "Delta"} {
		ids = append(ids, seed(t, db, project(n, 1)))
	}

	stats, err := e.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.NotNil(t, readLinks(t, db, ids[0]))
	assert.NotNil(t, readLinks(t, db, ids[1]))
	assert.Nil(t, readLinks(t, db, ids[2]))

	stats, err = e.RunScheduledSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalProcessed)
	assert.NotNil(t, readLinks(t, db, ids[2]))
	assert.NotNil(t, readLinks(t, db, ids[3]))

	last, err := e.LastSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, TriggerScheduled, last.Trigger)
}

func TestRecalculateAllPages(t *testing.T) {
	e, db := newTestEngine(t, func(o *Options) {
		o.BatchSize = 2
		o.Workers = 3
	})
	ctx := context.Background()

	for _, n := range []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"} {
		seed(t, db, project(n, 1))
	}
	stats, err := e.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalProcessed)
	assert.Equal(t, 20, stats.TotalLinksCreated)
	assert.Empty(t, stats.Errors)

	sets, err := db.ListLinkSets(ctx)
	require.NoError(t, err)
	assert.Len(t, sets, 5)
}

func TestSweepCancellation(t *testing.T) {
	e, db := newTestEngine(t, func(o *Options) { o.Workers = 1 })
	for _, n := range []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"} {
		seed(t, db, project(n, 1))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.score = func(ctx context.Context, sc *Scorer, a, b *store.Item) (Result, error) {
		cancel()
		return sc.Score(ctx, a, b)
	}

	stats, err := e.RecalculateAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, stats.TotalProcessed+len(stats.Errors), 5, "sweep should stop between items")

	last, err := e.LastSweep(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last, "partial report is still recorded")
	assert.Equal(t, stats.RunID, last.ID)
}

type failingWrites struct{ *store.DB }

func (failingWrites) UpdateLinkSet(context.Context, int64, func(*store.LinkSet) error) (*store.LinkSet, error) {
	return nil, errors.New("disk full")
}

// interleavedLinks runs before ahead of every link set update, standing in
// for a writer that commits between scoring and persisting.
type interleavedLinks struct {
	*store.DB
	before func()
}

func (l interleavedLinks) UpdateLinkSet(ctx context.Context, itemID int64, fn func(*store.LinkSet) error) (*store.LinkSet, error) {
	l.before()
	return l.DB.UpdateLinkSet(ctx, itemID, fn)
}

func TestRecalculateKeepsConcurrentManualLinks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	c := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Charlie"})

	editor := NewFromDB(db, nil, zaptest.NewLogger(t), nil, DefaultOptions())
	var edited bool
	links := interleavedLinks{DB: db, before: func() {
		if edited {
			return
		}
		edited = true
		_, err := editor.SetManualLinks(ctx, a, []int64{c})
		require.NoError(t, err)
	}}
	e := New(Deps{Content: db, Taxonomy: db, Links: links, Logger: zaptest.NewLogger(t)}, DefaultOptions())

	stats, err := e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	require.True(t, edited)
	assert.Equal(t, 1, stats.AutoLinksFound)
	assert.Equal(t, 1, stats.ManualLinksKept)

	ls := readLinks(t, db, a)
	assert.Equal(t, []int64{c}, ls.ManualLinks)
	assert.Equal(t, []int64{c, b}, ls.EffectiveLinks)
	assert.Equal(t, []int64{b}, ls.AutoIDs())
}

func TestPersistenceFailure(t *testing.T) {
	db := testDB(t)
	e := New(Deps{Content: db, Taxonomy: db, Links: failingWrites{db}, Logger: zaptest.NewLogger(t)}, DefaultOptions())
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	seed(t, db, project("Bravo", 1))

	_, err := e.RecalculateForItem(ctx, a)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorContains(t, err, "disk full")

	stats, err := e.RecalculateBatch(ctx, 10)
	require.NoError(t, err, "batch reports failures instead of returning them")
	assert.Equal(t, 0, stats.TotalProcessed)
	assert.Len(t, stats.Errors, 2)
}

type brokenCache struct{ cache.Noop }

func (brokenCache) Invalidate(context.Context, string) error { return errors.New("cache down") }

func TestCacheUnavailableDoesNotBlock(t *testing.T) {
	db := testDB(t)
	e := NewFromDB(db, brokenCache{}, zaptest.NewLogger(t), nil, DefaultOptions())
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	seed(t, db, project("Bravo", 1))

	stats, err := e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoLinksFound)
	assert.NotNil(t, readLinks(t, db, a))
}

func TestGraphViewCachedAndInvalidated(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	c := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Charlie"})
	seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Draft", Status: "draft"})

	g, err := e.GraphView(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 3)
	assert.Empty(t, g.Links)

	first, err := e.GraphJSON(ctx)
	require.NoError(t, err)
	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	again, err := e.GraphJSON(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again, "second read is served from cache")

	_, err = e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	_, err = e.SetManualLinks(ctx, a, []int64{c})
	require.NoError(t, err)

	g, err = e.GraphView(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Link{
		{Source: a, Target: c, Manual: true},
		{Source: a, Target: b, Score: 55, Strength: StrengthMedium},
	}, g.Links)
}

func TestGraphCacheSharedAcrossProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "affinity.db")
	open := func() *Engine {
		db, err := store.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		mem := cache.NewMemory(16, time.Hour)
		t.Cleanup(func() { mem.Close() })
		return NewFromDB(db, mem, zaptest.NewLogger(t), nil, DefaultOptions())
	}
	server, cli := open(), open()
	ctx := context.Background()

	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))

	_, err = server.RecalculateAll(ctx)
	require.NoError(t, err)
	g, err := server.GraphView(ctx)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 2)
	require.Len(t, g.Links, 2)

	// a write through another process's engine and cache
	_, err = cli.DeleteItem(ctx, b)
	require.NoError(t, err)

	g, err = server.GraphView(ctx)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Links)
}

func TestNewDefaultsZeroOptions(t *testing.T) {
	db := testDB(t)
	e := New(Deps{Content: db, Taxonomy: db, Links: db}, Options{})

	def := DefaultOptions()
	got := e.Options()
	assert.Equal(t, def.MinScore, got.MinScore)
	assert.Equal(t, def.MaxAutoLinks, got.MaxAutoLinks)
	assert.Equal(t, def.BatchSize, got.BatchSize)
	assert.Equal(t, def.CacheTTL, got.CacheTTL)
	assert.Equal(t, 1, got.Workers)

	// zero-scoring pairs are never linked
	a := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Alpha"})
	seed(t, db, &store.Item{Kind: store.KindProject, Title: "Zulu"})
	stats, err := e.RecalculateForItem(context.Background(), a)
	require.NoError(t, err)
	assert.Zero(t, stats.AutoLinksFound)
}

func TestOverview(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	seed(t, db, project("Charlie", 2))

	_, err := e.RecalculateBatch(ctx, 10)
	require.NoError(t, err)
	_, err = e.SetManualLinks(ctx, a, []int64{b})
	require.NoError(t, err)

	o, err := e.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, o.EligibleItems)
	assert.Equal(t, 3, o.ScoredItems)
	assert.Equal(t, 2, o.AutoLinks)
	assert.Equal(t, 1, o.ManualLinks)
	require.NotNil(t, o.LastSweep)
	assert.Equal(t, TriggerBatch, o.LastSweep.Trigger)
}

func TestItemState(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	seed(t, db, project("Bravo", 1))

	state, err := e.ItemState(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, StateUnscored, state)

	e.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	state, err = e.ItemState(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, StateScored, state)

	ls := readLinks(t, db, a)
	ls.LastCalculatedAt = 1
	require.NoError(t, db.WriteLinkSet(ctx, ls))
	state, err = e.ItemState(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, StateStale, state)

	state, err = e.ItemState(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, state)
}

func TestRelationshipStats(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))
	c := seed(t, db, &store.Item{Kind: store.KindArticle, Title: "Charlie"})

	stats, err := e.GetRelationshipStats(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, RelationshipStats{ItemID: a}, stats)

	_, err = e.RecalculateForItem(ctx, a)
	require.NoError(t, err)
	_, err = e.SetManualLinks(ctx, a, []int64{c, b})
	require.NoError(t, err)

	stats, err = e.GetRelationshipStats(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AutoCount)
	assert.Equal(t, 2, stats.ManualCount)
	assert.Equal(t, 2, stats.TotalCount)
	assert.NotZero(t, stats.LastCalculatedAt)
}

func TestExplain(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, project("Alpha", 1))
	b := seed(t, db, project("Bravo", 1))

	res, err := e.Explain(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 55, res.Score)
	assert.Equal(t, map[string]float64{FactorSharedCategories: 40, FactorSameKind: 15}, res.Factors)

	_, err = e.Explain(ctx, a, a)
	assert.ErrorIs(t, err, ErrSelfPair)

	_, err = e.Explain(ctx, a, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomTaxonomiesFromStore(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()

	a := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Alpha",
		Terms: map[string][]store.Term{store.TaxProjectType: terms(100)}})
	b := seed(t, db, &store.Item{Kind: store.KindProject, Title: "Bravo",
		Terms: map[string][]store.Term{store.TaxProjectType: terms(100)}})

	res, err := e.Explain(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.Equal(t, 35.0, res.Factors[FactorProjectType])
}

func TestSweepTimer(t *testing.T) {
	db := testDB(t)
	e := NewFromDB(db, nil, zap.NewNop(), nil, DefaultOptions())
	seed(t, db, project("Alpha", 1))
	seed(t, db, project("Bravo", 1))

	e.StartSweepTimer(10 * time.Millisecond)
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool {
		run, err := e.LastSweep(context.Background())
		return err == nil && run != nil && run.Trigger == TriggerScheduled
	}, 5*time.Second, 10*time.Millisecond)

	e.Stop()
	e.Stop() // idempotent
}
