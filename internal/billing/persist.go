package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ginjaninja78/ledger-reconciliation/internal/logger"
	"github.com/ginjaninja78/ledger-reconciliation/internal/store"
	"github.com/ginjaninja78/ledger-reconciliation/internal/types"
)

// Persistence operations reported in PersistenceError.Op.
const (
	OpReadAccount  = "read account"
	OpSaveDocument = "save document"
	OpSaveAccount  = "save account"
)

// PersistenceError reports a failed store operation for one counterparty.
type PersistenceError struct {
	CounterpartyID string
	DocumentNumber string
	Op             string
	Attempts       int
	Err            error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("counterparty %s: %s", e.CounterpartyID, e.Op)
	if e.DocumentNumber != "" {
		msg += " " + e.DocumentNumber
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" (after %d attempts)", e.Attempts)
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Outcome counts persisted and failed counterparties.
type Outcome struct {
	SuccessCount int                 `json:"success_count"`
	FailCount    int                 `json:"fail_count"`
	Failures     []*PersistenceError `json:"-"`

	// Saved maps counterparty ID to the account as stored after the run.
	Saved map[string]types.CounterpartyAccount `json:"-"`
}

// Persister writes a Batch to the record store.
type Persister struct {
	Store    store.RecordStore
	Attempts int
	Backoff  time.Duration
	Logger   logger.Logger
	Now      func() time.Time
}

// NewPersister returns a Persister making up to attempts tries per save.
func NewPersister(s store.RecordStore, attempts int, log logger.Logger) *Persister {
	if log == nil {
		log = logger.Nop()
	}
	return &Persister{
		Store:    s,
		Attempts: attempts,
		Backoff:  200 * time.Millisecond,
		Logger:   log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Persist saves each plan sequentially: the document first, then the
// account update. A failure is counted and the next counterparty is
// processed; a failed document save skips that counterparty's update.
func (p *Persister) Persist(ctx context.Context, batch *Batch) Outcome {
	out := Outcome{Saved: make(map[string]types.CounterpartyAccount)}
	for _, f := range batch.Failures {
		out.FailCount++
		out.Failures = append(out.Failures, f)
	}

	for _, plan := range batch.Plans {
		doc := plan.Document
		cp := doc.CounterpartyID

		attempts, err := p.retry(ctx, func() error {
			id, err := p.Store.SaveDocument(ctx, doc)
			if err == nil {
				doc.ID = id
			}
			return err
		})
		if err != nil {
			p.fail(&out, &PersistenceError{CounterpartyID: cp, DocumentNumber: doc.Number, Op: OpSaveDocument, Attempts: attempts, Err: err})
			continue
		}
		p.Logger.Info("saved document %s for %s (total %s)", doc.Number, cp, doc.Total.StringFixed(2))

		if plan.Update != nil {
			var saved types.CounterpartyAccount
			attempts, err = p.retry(ctx, func() error {
				var err error
				saved, err = p.Store.SaveAccount(ctx, plan.Update.Apply(p.Now()))
				return err
			})
			if err != nil {
				p.fail(&out, &PersistenceError{CounterpartyID: cp, DocumentNumber: doc.Number, Op: OpSaveAccount, Attempts: attempts, Err: err})
				continue
			}
			out.Saved[cp] = saved
			p.Logger.Info("account %s now 10mm=%.3f 20mm=%.3f (version %d)", cp, saved.Total10, saved.Total20, saved.Version)
		}
		out.SuccessCount++
	}
	return out
}

func (p *Persister) fail(out *Outcome, err *PersistenceError) {
	p.Logger.Error("%v", err)
	out.FailCount++
	out.Failures = append(out.Failures, err)
}

// retry runs fn up to p.Attempts times. Version conflicts and context
// cancellation are not retried.
func (p *Persister) retry(ctx context.Context, fn func() error) (int, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return i, nil
		}
		if errors.Is(err, store.ErrVersionConflict) || ctx.Err() != nil || i == attempts {
			return i, err
		}
		p.Logger.Warn("attempt %d/%d failed: %v", i, attempts, err)

		select {
		case <-ctx.Done():
			return i, ctx.Err()
		case <-time.After(p.Backoff * time.Duration(i)):
		}
	}
	return attempts, err
}
