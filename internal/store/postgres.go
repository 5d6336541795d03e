package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS recon_accounts (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	total_10    DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_20    DOUBLE PRECISION NOT NULL DEFAULT 0,
	version     INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS recon_documents (
	id                 TEXT PRIMARY KEY,
	number             TEXT NOT NULL,
	counterparty_id    TEXT NOT NULL,
	counterparty_name  TEXT NOT NULL DEFAULT '',
	group_label        TEXT NOT NULL DEFAULT '',
	subtotal           NUMERIC(18,2) NOT NULL,
	tax                NUMERIC(18,2) NOT NULL,
	total              NUMERIC(18,2) NOT NULL,
	status             TEXT NOT NULL,
	chargeable_excess  DOUBLE PRECISION NOT NULL DEFAULT 0,
	trip_count_10      INTEGER NOT NULL DEFAULT 0,
	trip_count_20      INTEGER NOT NULL DEFAULT 0,
	items              JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	seq                BIGSERIAL
);

CREATE INDEX IF NOT EXISTS idx_recon_documents_counterparty ON recon_documents(counterparty_id);
`

// PostgresStore keeps records in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: dsn is required")
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (types.CounterpartyAccount, error) {
	var acc types.CounterpartyAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, total_10, total_20, version, updated_at FROM recon_accounts WHERE id = $1`, id,
	).Scan(&acc.ID, &acc.Name, &acc.Total10, &acc.Total20, &acc.Version, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.CounterpartyAccount{}, fmt.Errorf("get account %q: %w", id, err)
	}
	return acc, nil
}

func (s *PostgresStore) SaveAccount(ctx context.Context, account types.CounterpartyAccount) (types.CounterpartyAccount, error) {
	saved := account
	saved.Version = account.Version + 1
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now().UTC()
	}

	var query string
	args := []any{saved.ID, saved.Name, saved.Total10, saved.Total20, saved.Version, saved.UpdatedAt}
	if account.Version == 0 {
		query = `INSERT INTO recon_accounts (id, name, total_10, total_20, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`
	} else {
		query = `UPDATE recon_accounts SET name = $2, total_10 = $3, total_20 = $4, version = $5, updated_at = $6
			WHERE id = $1 AND version = $7`
		args = append(args, account.Version)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return types.CounterpartyAccount{}, fmt.Errorf("save account %q: %w", account.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q at version %d: %w", account.ID, account.Version, ErrVersionConflict)
	}
	return saved, nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc types.BillingDocument) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	items, err := json.Marshal(doc.Items)
	if err != nil {
		return "", fmt.Errorf("encode items: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO recon_documents (id, number, counterparty_id, counterparty_name, group_label,
			subtotal, tax, total, status, chargeable_excess, trip_count_10, trip_count_20, items, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9, $10, $11, $12, $13::text::jsonb, $14)`,
		doc.ID, doc.Number, doc.CounterpartyID, doc.CounterpartyName, doc.GroupLabel,
		doc.Subtotal.String(), doc.Tax.String(), doc.Total.String(), doc.Status,
		doc.ChargeableExcess, doc.TripCount10, doc.TripCount20, string(items), doc.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("save document %q: %w", doc.Number, err)
	}
	return doc.ID, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]types.CounterpartyAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, total_10, total_20, version, updated_at FROM recon_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []types.CounterpartyAccount
	for rows.Next() {
		var acc types.CounterpartyAccount
		if err := rows.Scan(&acc.ID, &acc.Name, &acc.Total10, &acc.Total20, &acc.Version, &acc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListDocuments(ctx context.Context, counterpartyID string) ([]types.BillingDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, number, counterparty_id, counterparty_name, group_label,
			subtotal::text, tax::text, total::text, status, chargeable_excess,
			trip_count_10, trip_count_20, items::text, created_at
		 FROM recon_documents
		 WHERE $1::text = '' OR counterparty_id = $1
		 ORDER BY created_at, seq`, counterpartyID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []types.BillingDocument
	for rows.Next() {
		var doc types.BillingDocument
		var subtotal, tax, total, items string
		if err := rows.Scan(&doc.ID, &doc.Number, &doc.CounterpartyID, &doc.CounterpartyName, &doc.GroupLabel,
			&subtotal, &tax, &total, &doc.Status, &doc.ChargeableExcess, &doc.TripCount10, &doc.TripCount20,
			&items, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := decodeDocument(&doc, subtotal, tax, total, items); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
