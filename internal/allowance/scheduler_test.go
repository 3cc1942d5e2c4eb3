package allowance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/ledger/memory"
	"github.com/seojinlee/notiledger/internal/normalize"
	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/reconcile"
	"github.com/seojinlee/notiledger/internal/source"
)

func newTestScheduler(t *testing.T) (*Scheduler, ledger.Store) {
	t.Helper()
	reg, err := source.NewRegistry(source.Builtin()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := memory.NewStore()
	eng := reconcile.New(reconcile.Deps{
		Store:      store,
		Parser:     parse.New(reg),
		Normalizer: normalize.New(reg, normalize.DefaultMerchantCategories()),
		Log:        zerolog.Nop(),
	}, reconcile.Config{ActingUser: "Kim Mina"})
	return NewScheduler(eng, zerolog.Nop()), store
}

func TestSetAllowanceValidation(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 0, FrequencyMonthly); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, "DAILY"); err == nil {
		t.Error("expected error for unknown frequency")
	}
}

func TestGiveBeforeStartFails(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)

	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyMonthly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	_, err := s.Give(ctx, "dep-1", 0)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Give err = %v, want ErrNotConfigured", err)
	}

	txs, err := store.ListTransactions(ctx, "house", ledger.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("got %d transactions, want none for a rejected give", len(txs))
	}
}

func TestStartRequiresConfiguration(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.Start("dep-unknown"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start err = %v, want ErrNotConfigured", err)
	}
}

func TestAllowanceLifecycle(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)

	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyMonthly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if got := s.Get("dep-1").State; got != StateConfigured {
		t.Fatalf("state = %s, want CONFIGURED", got)
	}

	cfg, err := s.Start("dep-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if cfg.State != StateActive || cfg.PreSavingsAmount != 30000 {
		t.Fatalf("after start: state %s, pre-savings %d", cfg.State, cfg.PreSavingsAmount)
	}

	o, err := s.Give(ctx, "dep-1", 0)
	if err != nil {
		t.Fatalf("Give: %v", err)
	}
	if o.Kind != reconcile.OutcomeCommitted {
		t.Fatalf("give outcome = %s, want COMMITTED", o.Kind)
	}

	tx, err := store.GetTransaction(ctx, o.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Direction != ledger.DirectionIncome || tx.Amount != 30000 {
		t.Errorf("got %s %d, want INCOME 30000", tx.Direction, tx.Amount)
	}
	if tx.DependentID != "dep-1" {
		t.Errorf("dependent = %q, want dep-1", tx.DependentID)
	}
	if tx.Provenance != ledger.ProvenanceManualEntry {
		t.Errorf("provenance = %s, want MANUAL_ENTRY", tx.Provenance)
	}
	if tx.Category == nil || tx.Category.Code != ledger.CategoryAllowance {
		t.Errorf("category = %v, want ALLOWANCE", tx.Category)
	}

	// The give resets the accrual without changing state.
	cfg = s.Get("dep-1")
	if cfg.State != StateActive || cfg.PreSavingsAmount != 0 {
		t.Errorf("after give: state %s, pre-savings %d", cfg.State, cfg.PreSavingsAmount)
	}
}

func TestTickAccruesWhileActive(t *testing.T) {
	s, _ := newTestScheduler(t)
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyWeekly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if _, err := s.Start("dep-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Before the boundary nothing changes.
	s.Tick(base.AddDate(0, 0, 6))
	if got := s.Get("dep-1").PreSavingsAmount; got != 30000 {
		t.Errorf("pre-savings = %d, want 30000 before the boundary", got)
	}

	// One boundary passed.
	s.Tick(base.AddDate(0, 0, 7))
	if got := s.Get("dep-1").PreSavingsAmount; got != 60000 {
		t.Errorf("pre-savings = %d, want 60000 after one cycle", got)
	}

	// Two further missed cycles catch up in one tick.
	s.Tick(base.AddDate(0, 0, 21))
	if got := s.Get("dep-1").PreSavingsAmount; got != 120000 {
		t.Errorf("pre-savings = %d, want 120000 after catch-up", got)
	}

	// Ticks never touch configured or cancelled dependents.
	if _, err := s.SetAllowance("house", "dep-2", "Seoyeon", 10000, FrequencyWeekly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	s.Tick(base.AddDate(0, 0, 30))
	if got := s.Get("dep-2").PreSavingsAmount; got != 0 {
		t.Errorf("configured dependent pre-savings = %d, want 0", got)
	}
}

func TestCancelClearsAccrual(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestScheduler(t)

	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyMonthly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if _, err := s.Start("dep-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Cancel("dep-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	cfg := s.Get("dep-1")
	if cfg.State != StateCancelled || cfg.PreSavingsAmount != 0 {
		t.Errorf("after cancel: state %s, pre-savings %d", cfg.State, cfg.PreSavingsAmount)
	}
	if _, err := s.Give(ctx, "dep-1", 0); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Give after cancel err = %v, want ErrNotConfigured", err)
	}
	if err := s.Cancel("dep-1"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("double cancel err = %v, want ErrNotConfigured", err)
	}
}

func TestSiblingGivesSameAmountBothCommit(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScheduler(t)

	for _, dep := range []struct{ id, name string }{
		{"dep-1", "Minjun"},
		{"dep-2", "Seoyeon"},
	} {
		if _, err := s.SetAllowance("house", dep.id, dep.name, 50000, FrequencyWeekly); err != nil {
			t.Fatalf("SetAllowance %s: %v", dep.id, err)
		}
		if _, err := s.Start(dep.id); err != nil {
			t.Fatalf("Start %s: %v", dep.id, err)
		}
	}

	// Equal amounts, back to back: gives to different dependents are
	// distinct transactions, not re-sends of each other.
	for _, id := range []string{"dep-1", "dep-2"} {
		o, err := s.Give(ctx, id, 0)
		if err != nil {
			t.Fatalf("Give %s: %v", id, err)
		}
		if o.Kind != reconcile.OutcomeCommitted {
			t.Fatalf("give %s outcome = %s, want COMMITTED", id, o.Kind)
		}
	}

	total, err := store.CommittedTotal(ctx, "house", ledger.DirectionIncome)
	if err != nil {
		t.Fatalf("CommittedTotal: %v", err)
	}
	if total != 100000 {
		t.Errorf("committed income = %d, want 100000 for two gives", total)
	}
}

func TestSetAllowanceAfterCancelFails(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyMonthly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if err := s.Cancel("dep-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 50000, FrequencyWeekly); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SetAllowance after cancel err = %v, want ErrNotConfigured", err)
	}
	if got := s.Get("dep-1").State; got != StateCancelled {
		t.Errorf("state = %s, want CANCELLED to stay terminal", got)
	}
}

func TestReconfigureFromActive(t *testing.T) {
	s, _ := newTestScheduler(t)
	if _, err := s.SetAllowance("house", "dep-1", "Minjun", 30000, FrequencyMonthly); err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if _, err := s.Start("dep-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg, err := s.SetAllowance("house", "dep-1", "Minjun", 50000, FrequencyWeekly)
	if err != nil {
		t.Fatalf("SetAllowance: %v", err)
	}
	if cfg.State != StateConfigured || cfg.PreSavingsAmount != 0 {
		t.Errorf("after reconfigure: state %s, pre-savings %d", cfg.State, cfg.PreSavingsAmount)
	}
	if cfg.Amount != 50000 || cfg.Frequency != FrequencyWeekly {
		t.Errorf("amount/frequency = %d/%s", cfg.Amount, cfg.Frequency)
	}
}
