package engine

import (
	"context"
	"time"

	"github.com/lazypower/affinity/internal/store"
)

// ContentProvider is the content store. The engine only writes to it to
// delete items.
type ContentProvider interface {
	GetItem(ctx context.Context, id int64) (*store.Item, error)
	DeleteItem(ctx context.Context, id int64) (bool, error)
	ListEligibleItems(ctx context.Context, excludeID int64) ([]store.Item, error)
	ListSweepPage(ctx context.Context, limit int) ([]store.Item, error)
	IsVisible(it *store.Item) bool
}

// TaxonomyProvider resolves custom taxonomy membership.
type TaxonomyProvider interface {
	TermsOf(ctx context.Context, itemID int64, taxonomy string) ([]store.Term, error)
}

// Cache backs the graph view. Misses are reported with ok == false.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// PersistenceStore owns link sets and sweep bookkeeping.
type PersistenceStore interface {
	ReadLinkSet(ctx context.Context, itemID int64) (*store.LinkSet, error)
	UpdateLinkSet(ctx context.Context, itemID int64, fn func(*store.LinkSet) error) (*store.LinkSet, error)
	DeleteLinkSet(ctx context.Context, itemID int64) error
	ListLinkSets(ctx context.Context) ([]store.LinkSet, error)
	RemoveReferenceEverywhere(ctx context.Context, itemID int64) (int, error)
	SaveSweepRun(ctx context.Context, run *store.SweepRun) error
	LastSweepRun(ctx context.Context) (*store.SweepRun, error)
	CacheGeneration(ctx context.Context) (int64, error)
	BumpCacheGeneration(ctx context.Context) (int64, error)
}

var (
	_ ContentProvider  = (*store.DB)(nil)
	_ TaxonomyProvider = (*store.DB)(nil)
	_ PersistenceStore = (*store.DB)(nil)
)
