package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Taxonomy names.
const (
	TaxCategory         = "category"
	TaxTag              = "tag"
	TaxProjectType      = "project_type"
	TaxProjectStatus    = "project_status"
	TaxIllustrationType = "illustration_type"
)

// Term is a taxonomy term attached to an item.
type Term struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// TermsOf returns the terms of one taxonomy attached to an item, by term id.
func (db *DB) TermsOf(ctx context.Context, itemID int64, taxonomy string) ([]Term, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT term_id, name FROM item_terms
		WHERE item_id = ? AND taxonomy = ?
		ORDER BY term_id
	`, itemID, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("terms of %d/%s: %w", itemID, taxonomy, err)
	}
	defer rows.Close()

	var terms []Term
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

// SetTerms replaces an item's terms for one taxonomy.
func (db *DB) SetTerms(ctx context.Context, itemID int64, taxonomy string, terms []Term) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set terms: %w", err)
	}
	defer tx.Rollback()

	if err := setTermsTx(ctx, tx, itemID, taxonomy, terms); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE items SET updated_at = ? WHERE id = ?", nowMillis(), itemID); err != nil {
		return fmt.Errorf("touch item: %w", err)
	}
	return tx.Commit()
}

func setTermsTx(ctx context.Context, tx *sql.Tx, itemID int64, taxonomy string, terms []Term) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM item_terms WHERE item_id = ? AND taxonomy = ?", itemID, taxonomy); err != nil {
		return fmt.Errorf("clear %s terms: %w", taxonomy, err)
	}
	for _, t := range terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO item_terms (item_id, taxonomy, term_id, name) VALUES (?, ?, ?, ?)
		`, itemID, taxonomy, t.ID, t.Name); err != nil {
			return fmt.Errorf("insert %s term %d: %w", taxonomy, t.ID, err)
		}
	}
	return nil
}
