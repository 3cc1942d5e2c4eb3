package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by store lookups for unknown ids.
var ErrNotFound = errors.New("ledger: not found")

// PersistenceError wraps a storage-layer failure. The engine propagates these
// unmodified so the orchestrator can decide whether to retry the whole draft;
// a draft is never partially committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WrapPersistence wraps err into a PersistenceError unless it is nil or a
// not-found, which callers handle as a domain condition rather than a fault.
func WrapPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// TransactionFilter narrows ListTransactions results.
type TransactionFilter struct {
	Status     Status
	Provenance Provenance
	Limit      int
}

// Store is the persistence contract of the reconciliation engine. The exact
// storage technology is a collaborator concern; implementations live in
// memory (tests, single-process runs) and mongostore (persistent).
//
// AddContribution and DeleteContribution are atomic with respect to the
// parent goal's CurrentAmount: a reader never observes the goal total updated
// without its contribution row, or vice versa.
type Store interface {
	// Transactions.
	InsertTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status Status) error
	// UpdateTransactionDetails applies the only edits allowed after commit.
	UpdateTransactionDetails(ctx context.Context, id, description, memo string, category *Category) error
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, ledgerID string, f TransactionFilter) ([]*Transaction, error)
	// RecentTransactions returns committed and held records with OccurredAt
	// at or after since; this is the dedup window.
	RecentTransactions(ctx context.Context, ledgerID string, since time.Time) ([]*Transaction, error)
	// CommittedTotal sums committed amounts for one direction.
	CommittedTotal(ctx context.Context, ledgerID string, d Direction) (int64, error)

	// Savings goals.
	CreateGoal(ctx context.Context, g *SavingsGoal) error
	GetGoal(ctx context.Context, id string) (*SavingsGoal, error)
	UpdateGoal(ctx context.Context, g *SavingsGoal) error
	// DeleteGoal removes the goal and all of its contributions.
	DeleteGoal(ctx context.Context, id string) error
	// ListActiveGoals returns incomplete goals for a ledger.
	ListActiveGoals(ctx context.Context, ledgerID string) ([]*SavingsGoal, error)

	// Contributions. Add increments and Delete decrements the parent goal's
	// CurrentAmount by exactly the contribution amount, atomically.
	AddContribution(ctx context.Context, c *SavingsContribution) error
	GetContribution(ctx context.Context, id string) (*SavingsContribution, error)
	UpdateContribution(ctx context.Context, c *SavingsContribution) error
	DeleteContribution(ctx context.Context, id string) error
	ListContributions(ctx context.Context, goalID string) ([]*SavingsContribution, error)
}
