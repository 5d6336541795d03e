package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// jsonData is the on-disk layout of a JSON store.
type jsonData struct {
	Accounts  map[string]types.CounterpartyAccount `json:"accounts"`
	Documents []types.BillingDocument             `json:"documents"`
}

// JSONStore keeps all records in one JSON file. Every save rewrites the
// file through a temporary file and a rename.
type JSONStore struct {
	mu   sync.Mutex
	path string
	data jsonData
}

// OpenJSON loads path, or starts empty if it does not exist yet.
func OpenJSON(path string) (*JSONStore, error) {
	if path == "" {
		return nil, fmt.Errorf("json store: path is required")
	}
	s := &JSONStore{
		path: path,
		data: jsonData{Accounts: make(map[string]types.CounterpartyAccount)},
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json store: failed to read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("json store: failed to parse %s: %w", path, err)
	}
	if s.data.Accounts == nil {
		s.data.Accounts = make(map[string]types.CounterpartyAccount)
	}
	return s, nil
}

func (s *JSONStore) GetAccount(ctx context.Context, id string) (types.CounterpartyAccount, error) {
	if err := ctx.Err(); err != nil {
		return types.CounterpartyAccount{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.data.Accounts[id]
	if !ok {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return acc, nil
}

func (s *JSONStore) SaveAccount(ctx context.Context, account types.CounterpartyAccount) (types.CounterpartyAccount, error) {
	if err := ctx.Err(); err != nil {
		return types.CounterpartyAccount{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data.Accounts[account.ID]
	if (!exists && account.Version != 0) || (exists && current.Version != account.Version) {
		return types.CounterpartyAccount{}, fmt.Errorf("account %q at version %d: %w", account.ID, account.Version, ErrVersionConflict)
	}

	saved := account
	saved.Version = account.Version + 1
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now().UTC()
	}

	s.data.Accounts[account.ID] = saved
	if err := s.flush(); err != nil {
		if exists {
			s.data.Accounts[account.ID] = current
		} else {
			delete(s.data.Accounts, account.ID)
		}
		return types.CounterpartyAccount{}, err
	}
	return saved, nil
}

func (s *JSONStore) SaveDocument(ctx context.Context, doc types.BillingDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	for _, existing := range s.data.Documents {
		if existing.ID == doc.ID {
			return "", fmt.Errorf("document %q already exists", doc.ID)
		}
	}

	s.data.Documents = append(s.data.Documents, doc)
	if err := s.flush(); err != nil {
		s.data.Documents = s.data.Documents[:len(s.data.Documents)-1]
		return "", err
	}
	return doc.ID, nil
}

func (s *JSONStore) ListAccounts(ctx context.Context) ([]types.CounterpartyAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.CounterpartyAccount, 0, len(s.data.Accounts))
	for _, acc := range s.data.Accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *JSONStore) ListDocuments(ctx context.Context, counterpartyID string) ([]types.BillingDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.BillingDocument
	for _, doc := range s.data.Documents {
		if counterpartyID == "" || doc.CounterpartyID == counterpartyID {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Close is a no-op; every save is already on disk.
func (s *JSONStore) Close() error {
	return nil
}

// flush writes the whole store. Callers hold s.mu.
func (s *JSONStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("json store: failed to encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("json store: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("json store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("json store: failed to write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("json store: failed to write: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("json store: failed to replace %s: %w", s.path, err)
	}
	return nil
}
