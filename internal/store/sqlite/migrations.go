package sqlite

import "database/sql"

// schema runs on startup to ensure tables exist.
// Amounts are stored as decimal strings, dates as YYYY-MM-DD text.
// seq preserves insertion order across replaces.
const schema = `
CREATE TABLE IF NOT EXISTS purchases (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    merchant TEXT NOT NULL,
    purchase_date TEXT,
    total TEXT NOT NULL,
    currency TEXT NOT NULL,
    payment_method TEXT NOT NULL DEFAULT '',
    raw_text TEXT NOT NULL DEFAULT '',
    needs_review INTEGER NOT NULL DEFAULT 0,
    review_notes TEXT NOT NULL DEFAULT '[]',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
    purchase_id TEXT NOT NULL,
    line_index INTEGER NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    unit_price TEXT NOT NULL,
    quantity TEXT NOT NULL,
    line_total TEXT NOT NULL,
    PRIMARY KEY (purchase_id, line_index),
    FOREIGN KEY (purchase_id) REFERENCES purchases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_purchases_date ON purchases(purchase_date);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category);
`

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
