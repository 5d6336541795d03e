package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// ---------------------------------------------------------------------------
// Schema DDL
// ---------------------------------------------------------------------------

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	total_10    REAL NOT NULL DEFAULT 0,
	total_20    REAL NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL DEFAULT 0,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	number             TEXT NOT NULL,
	counterparty_id    TEXT NOT NULL,
	counterparty_name  TEXT NOT NULL DEFAULT '',
	group_label        TEXT NOT NULL DEFAULT '',
	subtotal           TEXT NOT NULL,
	tax                TEXT NOT NULL,
	total              TEXT NOT NULL,
	status             TEXT NOT NULL,
	chargeable_excess  REAL NOT NULL DEFAULT 0,
	trip_count_10      INTEGER NOT NULL DEFAULT 0,
	trip_count_20      INTEGER NOT NULL DEFAULT 0,
	items              TEXT NOT NULL,
	created_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_counterparty ON documents(counterparty_id);
`

// SQLiteStore keeps records in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (types.CounterpartyAccount, error) {
	var acc types.CounterpartyAccount
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, total_10, total_20, version, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&acc.ID, &acc.Name, &acc.Total10, &acc.Total20, &acc.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.CounterpartyAccount{}, fmt.Errorf("get account %q: %w", id, err)
	}
	acc.UpdatedAt = parseTime(updated)
	return acc, nil
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, account types.CounterpartyAccount) (types.CounterpartyAccount, error) {
	saved := account
	saved.Version = account.Version + 1
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now().UTC()
	}
	updated := saved.UpdatedAt.UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if account.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO accounts (id, name, total_10, total_20, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			saved.ID, saved.Name, saved.Total10, saved.Total20, saved.Version, updated)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE accounts SET name = ?, total_10 = ?, total_20 = ?, version = ?, updated_at = ?
			 WHERE id = ? AND version = ?`,
			saved.Name, saved.Total10, saved.Total20, saved.Version, updated, saved.ID, account.Version)
	}
	if err != nil {
		return types.CounterpartyAccount{}, fmt.Errorf("save account %q: %w", account.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return types.CounterpartyAccount{}, fmt.Errorf("save account %q: %w", account.ID, err)
	}
	if n == 0 {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q at version %d: %w", account.ID, account.Version, ErrVersionConflict)
	}
	return saved, nil
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc types.BillingDocument) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	items, err := json.Marshal(doc.Items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, number, counterparty_id, counterparty_name, group_label,
			subtotal, tax, total, status, chargeable_excess, trip_count_10, trip_count_20, items, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Number, doc.CounterpartyID, doc.CounterpartyName, doc.GroupLabel,
		doc.Subtotal.String(), doc.Tax.String(), doc.Total.String(), doc.Status,
		doc.ChargeableExcess, doc.TripCount10, doc.TripCount20, string(items),
		doc.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("save document %q: %w", doc.Number, err)
	}
	return doc.ID, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]types.CounterpartyAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, total_10, total_20, version, updated_at FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []types.CounterpartyAccount
	for rows.Next() {
		var acc types.CounterpartyAccount
		var updated string
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Total10, &acc.Total20, &acc.Version, &updated); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acc.UpdatedAt = parseTime(updated)
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, counterpartyID string) ([]types.BillingDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, counterparty_id, counterparty_name, group_label, subtotal, tax, total,
			status, chargeable_excess, trip_count_10, trip_count_20, items, created_at
		 FROM documents
		 WHERE ? = '' OR counterparty_id = ?
		 ORDER BY created_at, rowid`, counterpartyID, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []types.BillingDocument
	for rows.Next() {
		var doc types.BillingDocument
		var subtotal, tax, total, items, created string
		if err := rows.Scan(&doc.ID, &doc.Number, &doc.CounterpartyID, &doc.CounterpartyName, &doc.GroupLabel,
			&subtotal, &tax, &total, &doc.Status, &doc.ChargeableExcess, &doc.TripCount10, &doc.TripCount20,
			&items, &created); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := decodeDocument(&doc, subtotal, tax, total, items); err != nil {
			return nil, err
		}
		doc.CreatedAt = parseTime(created)
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// decodeDocument fills the money fields and items of a scanned document.
func decodeDocument(doc *types.BillingDocument, subtotal, tax, total, items string) error {
	var err error
	if doc.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return fmt.Errorf("document %q subtotal: %w", doc.ID, err)
	}
	if doc.Tax, err = decimal.NewFromString(tax); err != nil {
		return fmt.Errorf("document %q tax: %w", doc.ID, err)
	}
	if doc.Total, err = decimal.NewFromString(total); err != nil {
		return fmt.Errorf("document %q total: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(items), &doc.Items); err != nil {
		return fmt.Errorf("document %q items: %w", doc.ID, err)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
