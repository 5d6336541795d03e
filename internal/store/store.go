// =============================================================================
// Ledger Reconciliation - Record Store
// =============================================================================
//
// The record store owns counterparty accounts (cumulative 10mm/20mm history)
// and the draft billing documents generated from them. The reconciler only
// needs the narrow RecordStore contract below; three backends implement it:
//
//   json      a single JSON file, rewritten atomically on every save
//   sqlite    an embedded SQLite database (modernc.org/sqlite, no cgo)
//   postgres  a PostgreSQL database through a pgx connection pool
//
// VERSIONING:
//   Every account carries a Version. SaveAccount takes the account with the
//   Version the caller read (0 for an account that did not exist) and stores
//   it with Version+1. If the stored version has moved on, the save fails
//   with ErrVersionConflict and nothing is written.
//
// =============================================================================

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

var (
	// ErrNotFound is returned by GetAccount for an unknown account ID.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned by SaveAccount when the stored account
	// version differs from the expected version.
	ErrVersionConflict = errors.New("account version conflict")
)

// RecordStore persists accounts and billing documents.
type RecordStore interface {
	// GetAccount returns the account with the given ID or ErrNotFound.
	GetAccount(ctx context.Context, id string) (types.CounterpartyAccount, error)

	// SaveAccount stores account if its Version matches the stored one and
	// returns the saved value (with the incremented Version).
	SaveAccount(ctx context.Context, account types.CounterpartyAccount) (types.CounterpartyAccount, error)

	// SaveDocument stores doc and returns its ID, assigning one if empty.
	SaveDocument(ctx context.Context, doc types.BillingDocument) (string, error)

	// ListAccounts returns every account ordered by ID.
	ListAccounts(ctx context.Context) ([]types.CounterpartyAccount, error)

	// ListDocuments returns the documents of one counterparty (all when
	// counterpartyID is empty), oldest first.
	ListDocuments(ctx context.Context, counterpartyID string) ([]types.BillingDocument, error)

	Close() error
}

// Drivers.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	// Driver is one of DriverJSON, DriverSQLite, DriverPostgres.
	Driver string

	// Path is the JSON file or SQLite database path.
	Path string

	// DSN is the PostgreSQL connection string.
	DSN string
}

// Open returns the backend selected by opts.
func Open(ctx context.Context, opts Options) (RecordStore, error) {
	var (
		s   RecordStore
		err error
	)
	switch strings.ToLower(opts.Driver) {
	case "", DriverJSON:
		s, err = OpenJSON(opts.Path)
	case DriverSQLite, "sqlite3":
		s, err = OpenSQLite(ctx, opts.Path)
	case DriverPostgres, "postgresql", "pgx":
		s, err = OpenPostgres(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
