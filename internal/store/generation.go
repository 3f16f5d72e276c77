package store

import (
	"context"
	"fmt"
)

// CacheGeneration returns the current view cache generation. Every process
// sharing the database keys its cached views by it.
func (db *DB) CacheGeneration(ctx context.Context) (int64, error) {
	var gen int64
	if err := db.QueryRowContext(ctx, "SELECT generation FROM cache_generation WHERE id = 1").Scan(&gen); err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

// BumpCacheGeneration advances the generation, orphaning the views every
// process cached under the previous one. Returns the new generation.
func (db *DB) BumpCacheGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := db.QueryRowContext(ctx,
		"UPDATE cache_generation SET generation = generation + 1 WHERE id = 1 RETURNING generation",
	).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("bump cache generation: %w", err)
	}
	return gen, nil
}
