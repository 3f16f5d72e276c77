package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// AutoLink is a scorer-inferred edge to a neighbour.
type AutoLink struct {
	ID       int64  `json:"id"`
	Score    int    `json:"score"`
	Strength string `json:"strength"`
}

// LinkSet is the persisted edge list of one item.
type LinkSet struct {
	ItemID           int64      `json:"item_id"`
	AutoLinks        []AutoLink `json:"auto_links"`
	ManualLinks      []int64    `json:"manual_links"`
	EffectiveLinks   []int64    `json:"effective_links"`
	LastCalculatedAt int64      `json:"last_calculated_at,omitempty"` // unix ms, 0 if never
}

// AutoIDs returns the neighbour ids of the auto links, in rank order.
func (ls *LinkSet) AutoIDs() []int64 {
	ids := make([]int64, len(ls.AutoLinks))
	for i, l := range ls.AutoLinks {
		ids[i] = l.ID
	}
	return ids
}

// without returns the link set with id removed everywhere, and whether
// anything changed.
func (ls LinkSet) without(id int64) (LinkSet, bool) {
	changed := false
	auto := ls.AutoLinks[:0:0]
	for _, l := range ls.AutoLinks {
		if l.ID == id {
			changed = true
			continue
		}
		auto = append(auto, l)
	}
	drop := func(ids []int64) []int64 {
		out := slices.DeleteFunc(slices.Clone(ids), func(v int64) bool { return v == id })
		if len(out) != len(ids) {
			changed = true
		}
		return out
	}
	ls.AutoLinks = auto
	ls.ManualLinks = drop(ls.ManualLinks)
	ls.EffectiveLinks = drop(ls.EffectiveLinks)
	return ls, changed
}

// ReadLinkSet returns the link set of an item, or nil if none was ever written.
func (db *DB) ReadLinkSet(ctx context.Context, itemID int64) (*LinkSet, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, auto_links, manual_links, effective_links, last_calculated_at
		FROM link_sets WHERE item_id = ?
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("read link set: %w", err)
	}
	sets, err := scanLinkSets(rows)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	return &sets[0], nil
}

// WriteLinkSet stores or replaces the link set of an item.
func (db *DB) WriteLinkSet(ctx context.Context, ls *LinkSet) error {
	return writeLinkSet(ctx, db.DB, ls)
}

// UpdateLinkSet applies fn to the stored link set of an item, or to an
// empty one if none exists, and writes the result in the same transaction.
// Concurrent updates of the same item are serialized, so fn always sees
// the latest manual links. An error from fn aborts the write.
func (db *DB) UpdateLinkSet(ctx context.Context, itemID int64, fn func(*LinkSet) error) (*LinkSet, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin link set update: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, auto_links, manual_links, effective_links, last_calculated_at
		FROM link_sets WHERE item_id = ?
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("read link set: %w", err)
	}
	sets, err := scanLinkSets(rows)
	if err != nil {
		return nil, err
	}
	ls := &LinkSet{ItemID: itemID}
	if len(sets) > 0 {
		ls = &sets[0]
	}

	if err := fn(ls); err != nil {
		return nil, err
	}
	ls.ItemID = itemID
	if err := writeLinkSet(ctx, tx, ls); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit link set %d: %w", itemID, err)
	}
	return ls, nil
}

// ListLinkSets returns every stored link set, by item id.
func (db *DB) ListLinkSets(ctx context.Context) ([]LinkSet, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT item_id, auto_links, manual_links, effective_links, last_calculated_at
		FROM link_sets ORDER BY item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list link sets: %w", err)
	}
	return scanLinkSets(rows)
}

// DeleteLinkSet removes the link set of an item.
func (db *DB) DeleteLinkSet(ctx context.Context, itemID int64) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM link_sets WHERE item_id = ?", itemID); err != nil {
		return fmt.Errorf("delete link set %d: %w", itemID, err)
	}
	return nil
}

// RemoveReferenceEverywhere prunes itemID from the auto, manual and
// effective links of every other item. Returns the number of link sets
// rewritten.
func (db *DB) RemoveReferenceEverywhere(ctx context.Context, itemID int64) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, auto_links, manual_links, effective_links, last_calculated_at
		FROM link_sets WHERE item_id != ?
	`, itemID)
	if err != nil {
		return 0, fmt.Errorf("scan references: %w", err)
	}
	sets, err := scanLinkSets(rows)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, ls := range sets {
		pruned, changed := ls.without(itemID)
		if !changed {
			continue
		}
		if err := writeLinkSet(ctx, tx, &pruned); err != nil {
			return updated, err
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cleanup: %w", err)
	}
	return updated, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeLinkSet(ctx context.Context, ex execer, ls *LinkSet) error {
	auto, err := json.Marshal(nonNilAuto(ls.AutoLinks))
	if err != nil {
		return fmt.Errorf("encode auto links: %w", err)
	}
	manual, err := json.Marshal(nonNilIDs(ls.ManualLinks))
	if err != nil {
		return fmt.Errorf("encode manual links: %w", err)
	}
	effective, err := json.Marshal(nonNilIDs(ls.EffectiveLinks))
	if err != nil {
		return fmt.Errorf("encode effective links: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO link_sets (item_id, auto_links, manual_links, effective_links, last_calculated_at)
		VALUES (?, ?, ?, ?, NULLIF(?, 0))
		ON CONFLICT(item_id) DO UPDATE SET auto_links = excluded.auto_links,
			manual_links = excluded.manual_links, effective_links = excluded.effective_links,
			last_calculated_at = excluded.last_calculated_at
	`, ls.ItemID, string(auto), string(manual), string(effective), ls.LastCalculatedAt)
	if err != nil {
		return fmt.Errorf("write link set %d: %w", ls.ItemID, err)
	}
	return nil
}

func scanLinkSets(rows *sql.Rows) ([]LinkSet, error) {
	defer rows.Close()

	var sets []LinkSet
	for rows.Next() {
		var ls LinkSet
		var auto, manual, effective string
		var calculated sql.NullInt64
		if err := rows.Scan(&ls.ItemID, &auto, &manual, &effective, &calculated); err != nil {
			return nil, fmt.Errorf("scan link set: %w", err)
		}
		if err := json.Unmarshal([]byte(auto), &ls.AutoLinks); err != nil {
			return nil, fmt.Errorf("decode auto links for %d: %w", ls.ItemID, err)
		}
		if err := json.Unmarshal([]byte(manual), &ls.ManualLinks); err != nil {
			return nil, fmt.Errorf("decode manual links for %d: %w", ls.ItemID, err)
		}
		if err := json.Unmarshal([]byte(effective), &ls.EffectiveLinks); err != nil {
			return nil, fmt.Errorf("decode effective links for %d: %w", ls.ItemID, err)
		}
		ls.LastCalculatedAt = calculated.Int64
		sets = append(sets, ls)
	}
	return sets, rows.Err()
}

func nonNilAuto(l []AutoLink) []AutoLink {
	if l == nil {
		return []AutoLink{}
	}
	return l
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
