// Package memory provides an in-memory ledger.Store. It is safe for
// concurrent use and backs tests and single-process deployments; data is lost
// on restart; use mongostore for persistence.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/seojinlee/notiledger/internal/ledger"
)

// Store is an in-memory implementation of ledger.Store.
type Store struct {
	mu            sync.RWMutex
	transactions  map[string]*ledger.Transaction
	goals         map[string]*ledger.SavingsGoal
	contributions map[string]*ledger.SavingsContribution
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		transactions:  make(map[string]*ledger.Transaction),
		goals:         make(map[string]*ledger.SavingsGoal),
		contributions: make(map[string]*ledger.SavingsContribution),
	}
}

// InsertTransaction implements ledger.Store.
func (s *Store) InsertTransaction(ctx context.Context, tx *ledger.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tx
	s.transactions[tx.ID] = &cp
	return nil
}

// GetTransaction implements ledger.Store.
func (s *Store) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

// UpdateTransactionStatus implements ledger.Store.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status ledger.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	tx.Status = status
	return nil
}

// UpdateTransactionDetails implements ledger.Store.
func (s *Store) UpdateTransactionDetails(ctx context.Context, id, description, memo string, category *ledger.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	tx.Description = description
	tx.Memo = memo
	tx.Category = category
	return nil
}

// DeleteTransaction implements ledger.Store.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

// ListTransactions implements ledger.Store. Results are ordered newest first.
func (s *Store) ListTransactions(ctx context.Context, ledgerID string, f ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.Transaction
	for _, tx := range s.transactions {
		if tx.LedgerID != ledgerID {
			continue
		}
		if f.Status != "" && tx.Status != f.Status {
			continue
		}
		if f.Provenance != "" && tx.Provenance != f.Provenance {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.After(result[j].OccurredAt)
	})
	if f.Limit > 0 && f.Limit < len(result) {
		result = result[:f.Limit]
	}
	return result, nil
}

// RecentTransactions implements ledger.Store.
func (s *Store) RecentTransactions(ctx context.Context, ledgerID string, since time.Time) ([]*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.Transaction
	for _, tx := range s.transactions {
		if tx.LedgerID != ledgerID {
			continue
		}
		if !tx.CountsTowardTotals() && !tx.Held() {
			continue
		}
		if tx.OccurredAt.Before(since) {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}
	return result, nil
}

// CommittedTotal implements ledger.Store.
func (s *Store) CommittedTotal(ctx context.Context, ledgerID string, d ledger.Direction) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, tx := range s.transactions {
		if tx.LedgerID == ledgerID && tx.Direction == d && tx.CountsTowardTotals() {
			total += tx.Amount
		}
	}
	return total, nil
}

// CreateGoal implements ledger.Store.
func (s *Store) CreateGoal(ctx context.Context, g *ledger.SavingsGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *g
	if cp.AutoDeposit != nil {
		link := *cp.AutoDeposit
		cp.AutoDeposit = &link
	}
	s.goals[g.ID] = &cp
	return nil
}

// GetGoal implements ledger.Store.
func (s *Store) GetGoal(ctx context.Context, id string) (*ledger.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyGoalLocked(id)
}

func (s *Store) copyGoalLocked(id string) (*ledger.SavingsGoal, error) {
	g, ok := s.goals[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *g
	if cp.AutoDeposit != nil {
		link := *cp.AutoDeposit
		cp.AutoDeposit = &link
	}
	return &cp, nil
}

// UpdateGoal implements ledger.Store. CurrentAmount is preserved from the
// stored goal; it only moves through contribution operations.
func (s *Store) UpdateGoal(ctx context.Context, g *ledger.SavingsGoal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.goals[g.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	cp := *g
	cp.CurrentAmount = existing.CurrentAmount
	if cp.AutoDeposit != nil {
		link := *cp.AutoDeposit
		cp.AutoDeposit = &link
	}
	s.goals[g.ID] = &cp
	return nil
}

// DeleteGoal implements ledger.Store. Contributions cascade.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.goals[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(s.goals, id)
	for cid, c := range s.contributions {
		if c.GoalID == id {
			delete(s.contributions, cid)
		}
	}
	return nil
}

// ListActiveGoals implements ledger.Store.
func (s *Store) ListActiveGoals(ctx context.Context, ledgerID string) ([]*ledger.SavingsGoal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.SavingsGoal
	for _, g := range s.goals {
		if g.LedgerID != ledgerID || g.Completed() {
			continue
		}
		cp := *g
		if cp.AutoDeposit != nil {
			link := *cp.AutoDeposit
			cp.AutoDeposit = &link
		}
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// AddContribution implements ledger.Store. The contribution insert and the
// goal increment happen under one lock so no reader observes them apart.
func (s *Store) AddContribution(ctx context.Context, c *ledger.SavingsContribution) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.goals[c.GoalID]
	if !ok {
		return ledger.ErrNotFound
	}
	cp := *c
	s.contributions[c.ID] = &cp
	g.CurrentAmount += c.Amount
	g.UpdatedAt = time.Now()
	return nil
}

// GetContribution implements ledger.Store.
func (s *Store) GetContribution(ctx context.Context, id string) (*ledger.SavingsContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contributions[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// UpdateContribution implements ledger.Store. An amount change adjusts the
// parent goal total by the delta under the same lock.
func (s *Store) UpdateContribution(ctx context.Context, c *ledger.SavingsContribution) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contributions[c.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	g, ok := s.goals[existing.GoalID]
	if !ok {
		return ledger.ErrNotFound
	}
	g.CurrentAmount += c.Amount - existing.Amount
	g.UpdatedAt = time.Now()

	cp := *c
	cp.GoalID = existing.GoalID
	s.contributions[c.ID] = &cp
	return nil
}

// DeleteContribution implements ledger.Store.
func (s *Store) DeleteContribution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contributions[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if g, ok := s.goals[c.GoalID]; ok {
		g.CurrentAmount -= c.Amount
		g.UpdatedAt = time.Now()
	}
	delete(s.contributions, id)
	return nil
}

// ListContributions implements ledger.Store.
func (s *Store) ListContributions(ctx context.Context, goalID string) ([]*ledger.SavingsContribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.SavingsContribution
	for _, c := range s.contributions {
		if c.GoalID != goalID {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Ensure Store implements the ledger.Store interface.
var _ ledger.Store = (*Store)(nil)
