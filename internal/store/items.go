package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the content type of an item.
type Kind string

const (
	KindArticle      Kind = "article"
	KindProject      Kind = "project"
	KindIllustration Kind = "illustration"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindArticle, KindProject, KindIllustration:
		return true
	}
	return false
}

// StatusPublish is the only status whose items take part in the graph.
const StatusPublish = "publish"

// Item is a scorable unit of content. The engine reads items and only
// writes them to delete one.
type Item struct {
	ID          int64             `json:"id"`
	Kind        Kind              `json:"kind"`
	Title       string            `json:"title"`
	Excerpt     string            `json:"excerpt"`
	Author      string            `json:"author,omitempty"`
	Status      string            `json:"status"`
	ShowInGraph bool              `json:"show_in_graph"`
	PublishedAt int64             `json:"published_at,omitempty"` // unix ms, 0 if unknown
	Attributes  map[string]string `json:"attributes,omitempty"`
	Categories  []Term            `json:"categories,omitempty"`
	Tags        []Term            `json:"tags,omitempty"`

	// Terms holds custom taxonomies (project_type, ...). Only written by
	// UpsertItem; loaders leave it empty, read them through TermsOf.
	Terms map[string][]Term `json:"terms,omitempty"`

	// ManualLinks mirrors the curated links of the item's link set.
	ManualLinks []int64 `json:"manual_links,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Visible reports whether the item belongs in the relationship graph.
func (it *Item) Visible() bool {
	return it.Status == StatusPublish && it.ShowInGraph
}

const itemColumns = `id, kind, title, excerpt, author, status, show_in_graph, published_at, attributes, created_at, updated_at`

// UpsertItem inserts a new item (ID 0 gets an assigned id) or replaces an
// existing one, together with its categories, tags and custom terms.
// Reports whether the item was created.
func (db *DB) UpsertItem(ctx context.Context, it *Item) (bool, error) {
	if !it.Kind.Valid() {
		return false, fmt.Errorf("upsert item: invalid kind %q", it.Kind)
	}
	if it.Status == "" {
		it.Status = StatusPublish
	}
	attrs, err := json.Marshal(it.Attributes)
	if err != nil {
		return false, fmt.Errorf("encode attributes: %w", err)
	}
	if it.Attributes == nil {
		attrs = []byte("{}")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	created := true
	if it.ID != 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ?", it.ID).Scan(&count); err != nil {
			return false, fmt.Errorf("check item: %w", err)
		}
		created = count == 0
	}

	if created {
		it.CreatedAt = now
		it.UpdatedAt = now
		result, err := tx.ExecContext(ctx, `
			INSERT INTO items (id, kind, title, excerpt, author, status, show_in_graph, published_at, attributes, created_at, updated_at)
			VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, NULLIF(?, 0), ?, ?, ?)
		`, it.ID, it.Kind, it.Title, it.Excerpt, it.Author, it.Status, boolInt(it.ShowInGraph),
			it.PublishedAt, string(attrs), now, now)
		if err != nil {
			return false, fmt.Errorf("insert item: %w", err)
		}
		if it.ID == 0 {
			id, _ := result.LastInsertId()
			it.ID = id
		}
	} else {
		it.UpdatedAt = now
		_, err := tx.ExecContext(ctx, `
			UPDATE items SET kind = ?, title = ?, excerpt = ?, author = ?, status = ?, show_in_graph = ?,
				published_at = NULLIF(?, 0), attributes = ?, updated_at = ?
			WHERE id = ?
		`, it.Kind, it.Title, it.Excerpt, it.Author, it.Status, boolInt(it.ShowInGraph),
			it.PublishedAt, string(attrs), now, it.ID)
		if err != nil {
			return false, fmt.Errorf("update item: %w", err)
		}
	}

	if err := setTermsTx(ctx, tx, it.ID, TaxCategory, it.Categories); err != nil {
		return false, err
	}
	if err := setTermsTx(ctx, tx, it.ID, TaxTag, it.Tags); err != nil {
		return false, err
	}
	for taxonomy, terms := range it.Terms {
		if err := setTermsTx(ctx, tx, it.ID, taxonomy, terms); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return created, nil
}

// GetItem returns an item with its categories, tags and manual links,
// or nil if not found.
func (db *DB) GetItem(ctx context.Context, id int64) (*Item, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	if err := db.hydrate(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListEligibleItems returns every published, graph-visible item except
// excludeID, ordered by id.
func (db *DB) ListEligibleItems(ctx context.Context, excludeID int64) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE status = 'publish' AND show_in_graph = 1 AND id != ?
		ORDER BY id
	`, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list eligible items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	return items, db.hydrate(ctx, items)
}

// ListSweepPage returns up to limit eligible items, stalest first: items
// never calculated, then oldest last_calculated_at, then id.
func (db *DB) ListSweepPage(ctx context.Context, limit int) ([]Item, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT i.id, i.kind, i.title, i.excerpt, i.author, i.status, i.show_in_graph, i.published_at,
			i.attributes, i.created_at, i.updated_at
		FROM items i
		LEFT JOIN link_sets l ON l.item_id = i.id
		WHERE i.status = 'publish' AND i.show_in_graph = 1
		ORDER BY l.last_calculated_at IS NOT NULL, l.last_calculated_at, i.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweep page: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	return items, db.hydrate(ctx, items)
}

// CountEligible returns the number of published, graph-visible items.
func (db *DB) CountEligible(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE status = 'publish' AND show_in_graph = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count eligible: %w", err)
	}
	return n, nil
}

// IsVisible reports whether the item is published and shown in the graph.
func (db *DB) IsVisible(it *Item) bool {
	return it != nil && it.Visible()
}

// DeleteItem removes an item. Its terms and link set go with it; references
// held by other items are not touched (see RemoveReferenceEverywhere).
// Reports whether a row was deleted.
func (db *DB) DeleteItem(ctx context.Context, id int64) (bool, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete item %d: %w", id, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// hydrate fills categories, tags and manual links for the given items.
func (db *DB) hydrate(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	index := make(map[int64]int, len(items))
	ids := make([]any, len(items))
	for i := range items {
		index[items[i].ID] = i
		ids[i] = items[i].ID
	}
	ph := placeholders(len(ids))

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, taxonomy, term_id, name FROM item_terms
		WHERE taxonomy IN ('category', 'tag') AND item_id IN (%s)
		ORDER BY item_id, taxonomy, term_id
	`, ph), ids...)
	if err != nil {
		return fmt.Errorf("load terms: %w", err)
	}
	for rows.Next() {
		var itemID int64
		var taxonomy string
		var t Term
		if err := rows.Scan(&itemID, &taxonomy, &t.ID, &t.Name); err != nil {
			rows.Close()
			return fmt.Errorf("scan term: %w", err)
		}
		it := &items[index[itemID]]
		if taxonomy == TaxCategory {
			it.Categories = append(it.Categories, t)
		} else {
			it.Tags = append(it.Tags, t)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = db.QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, manual_links FROM link_sets WHERE item_id IN (%s)
	`, ph), ids...)
	if err != nil {
		return fmt.Errorf("load manual links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var itemID int64
		var raw string
		if err := rows.Scan(&itemID, &raw); err != nil {
			return fmt.Errorf("scan manual links: %w", err)
		}
		var manual []int64
		if err := json.Unmarshal([]byte(raw), &manual); err != nil {
			return fmt.Errorf("decode manual links for %d: %w", itemID, err)
		}
		items[index[itemID]].ManualLinks = manual
	}
	return rows.Err()
}

// scanItems reads all rows and closes them.
func scanItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var kind, attrs string
		var show int
		var publishedAt sql.NullInt64
		if err := rows.Scan(&it.ID, &kind, &it.Title, &it.Excerpt, &it.Author, &it.Status,
			&show, &publishedAt, &attrs, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Kind = Kind(kind)
		it.ShowInGraph = show != 0
		it.PublishedAt = publishedAt.Int64
		if attrs != "" && attrs != "{}" && attrs != "null" {
			if err := json.Unmarshal([]byte(attrs), &it.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for %d: %w", it.ID, err)
			}
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
