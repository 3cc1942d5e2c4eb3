// Package allowance drives the recurring-allowance lifecycle for dependents.
// Each dependent has an independent state machine; gives materialize income
// drafts that flow through the same reconciliation pipeline as parsed
// notifications.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/reconcile"
)

// ErrNotConfigured is returned when a lifecycle action requires a state the
// dependent is not in: starting before configuration, or giving before start.
var ErrNotConfigured = errors.New("allowance: not configured")

// State is the allowance lifecycle state of one dependent.
type State string

const (
	StateUnset      State = "UNSET"
	StateConfigured State = "CONFIGURED"
	StateActive     State = "ACTIVE"
	StateCancelled  State = "CANCELLED"
)

// Frequency is the allowance cycle length.
type Frequency string

const (
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Next returns the cycle boundary after t.
func (f Frequency) Next(t time.Time) time.Time {
	if f == FrequencyWeekly {
		return t.AddDate(0, 0, 7)
	}
	return t.AddDate(0, 1, 0)
}

// Config is the allowance configuration and live state of one dependent.
// PreSavingsAmount is the next cycle's accrual: non-zero only while active,
// cleared on cancel, reset on every give.
type Config struct {
	DependentID   string    `json:"dependent_id"`
	DependentName string    `json:"dependent_name"`
	LedgerID      string    `json:"ledger_id"`
	Amount        int64     `json:"amount"`
	Frequency     Frequency `json:"frequency"`
	State         State     `json:"state"`

	PreSavingsAmount int64     `json:"pre_savings_amount"`
	NextAccrualAt    time.Time `json:"next_accrual_at,omitempty"`
}

// Submitter enters an income draft into the reconciliation pipeline. The
// engine satisfies this.
type Submitter interface {
	Submit(ctx context.Context, draft *ledger.Transaction) (reconcile.Outcome, error)
}

// Scheduler owns the per-dependent allowance state machines of a process.
// All methods are safe for concurrent use.
type Scheduler struct {
	submitter Submitter
	log       zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	configs map[string]*Config
}

// NewScheduler creates a scheduler that injects gives through submitter.
func NewScheduler(submitter Submitter, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		log:       log,
		now:       time.Now,
		configs:   make(map[string]*Config),
	}
}

// SetAllowance stores amount and frequency for a dependent and moves it to
// Configured. It never creates a transaction. Any running accrual is
// discarded; the dependent must be started again. Cancelled is terminal:
// a cancelled dependent cannot be reconfigured.
func (s *Scheduler) SetAllowance(ledgerID, dependentID, dependentName string, amount int64, freq Frequency) (*Config, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("SetAllowance: amount must be positive, got %d", amount)
	}
	if freq != FrequencyWeekly && freq != FrequencyMonthly {
		return nil, fmt.Errorf("SetAllowance: unknown frequency %q", freq)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[dependentID]
	if ok && cfg.State == StateCancelled {
		return nil, fmt.Errorf("SetAllowance %s: allowance is cancelled: %w", dependentID, ErrNotConfigured)
	}
	if !ok {
		cfg = &Config{DependentID: dependentID, LedgerID: ledgerID}
		s.configs[dependentID] = cfg
	}
	cfg.DependentName = dependentName
	cfg.Amount = amount
	cfg.Frequency = freq
	cfg.State = StateConfigured
	cfg.PreSavingsAmount = 0
	cfg.NextAccrualAt = time.Time{}
	return snapshot(cfg), nil
}

// Start activates a configured dependent and begins the first cycle's
// accrual. Any other state fails with ErrNotConfigured.
func (s *Scheduler) Start(dependentID string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[dependentID]
	if !ok || cfg.State != StateConfigured {
		return nil, fmt.Errorf("Start %s: %w", dependentID, ErrNotConfigured)
	}
	cfg.State = StateActive
	cfg.PreSavingsAmount = cfg.Amount
	cfg.NextAccrualAt = cfg.Frequency.Next(s.now())
	return snapshot(cfg), nil
}

// Give materializes the dependent's allowance as an income draft and resets
// the next cycle's accrual. Valid only while Active; it does not change
// state, so gives repeat every cycle. amount zero gives the configured
// amount.
func (s *Scheduler) Give(ctx context.Context, dependentID string, amount int64) (reconcile.Outcome, error) {
	s.mu.Lock()
	cfg, ok := s.configs[dependentID]
	if !ok || cfg.State != StateActive {
		s.mu.Unlock()
		return reconcile.Outcome{}, fmt.Errorf("Give %s: %w", dependentID, ErrNotConfigured)
	}
	if amount == 0 {
		amount = cfg.Amount
	}
	draft := &ledger.Transaction{
		LedgerID:    cfg.LedgerID,
		Direction:   ledger.DirectionIncome,
		Amount:      amount,
		Description: fmt.Sprintf("Allowance for %s", cfg.DependentName),
		Category:    &ledger.Category{Code: ledger.CategoryAllowance},
		SourceName:  "Allowance",
		OccurredAt:  s.now(),
		Provenance:  ledger.ProvenanceManualEntry,
		DependentID: cfg.DependentID,
	}
	s.mu.Unlock()

	// Submit outside the scheduler lock; the engine serializes per ledger.
	o, err := s.submitter.Submit(ctx, draft)
	if err != nil {
		return reconcile.Outcome{}, fmt.Errorf("Give %s: %w", dependentID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.State == StateActive {
		cfg.PreSavingsAmount = 0
		cfg.NextAccrualAt = cfg.Frequency.Next(s.now())
	}
	s.log.Info().
		Str("dependent_id", dependentID).
		Int64("amount", amount).
		Str("transaction_id", o.TransactionID).
		Msg("Allowance given")
	return o, nil
}

// Cancel moves an active or configured dependent to Cancelled and discards
// any accrual. Transactions already given stay in the ledger.
func (s *Scheduler) Cancel(dependentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[dependentID]
	if !ok || (cfg.State != StateActive && cfg.State != StateConfigured) {
		return fmt.Errorf("Cancel %s: %w", dependentID, ErrNotConfigured)
	}
	cfg.State = StateCancelled
	cfg.PreSavingsAmount = 0
	cfg.NextAccrualAt = time.Time{}
	return nil
}

// Tick advances calendar accrual for every active dependent. Accrual only
// grows the pending pre-savings amount; nothing is committed until an
// explicit give.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.configs {
		if cfg.State != StateActive {
			continue
		}
		for !cfg.NextAccrualAt.IsZero() && !now.Before(cfg.NextAccrualAt) {
			cfg.PreSavingsAmount += cfg.Amount
			cfg.NextAccrualAt = cfg.Frequency.Next(cfg.NextAccrualAt)
			s.log.Debug().
				Str("dependent_id", cfg.DependentID).
				Int64("pre_savings", cfg.PreSavingsAmount).
				Msg("Allowance cycle accrued")
		}
	}
}

// Get returns a snapshot of one dependent's allowance state. Unknown
// dependents report StateUnset.
func (s *Scheduler) Get(dependentID string) *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[dependentID]
	if !ok {
		return &Config{DependentID: dependentID, State: StateUnset}
	}
	return snapshot(cfg)
}

// List returns snapshots of every dependent's allowance state for a ledger.
func (s *Scheduler) List(ledgerID string) []*Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*Config
	for _, cfg := range s.configs {
		if ledgerID != "" && cfg.LedgerID != ledgerID {
			continue
		}
		result = append(result, snapshot(cfg))
	}
	return result
}

func snapshot(cfg *Config) *Config {
	cp := *cfg
	return &cp
}
