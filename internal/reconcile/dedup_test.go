package reconcile

import (
	"testing"
	"time"

	"github.com/seojinlee/notiledger/internal/ledger"
)

func windowTx(id, sourceName string, amount int64, dir ledger.Direction, at time.Time) *ledger.Transaction {
	return &ledger.Transaction{
		ID:         id,
		LedgerID:   "house",
		Direction:  dir,
		Amount:     amount,
		SourceName: sourceName,
		OccurredAt: at,
		Status:     ledger.StatusCommitted,
	}
}

func TestResolveDuplicate(t *testing.T) {
	cfg := DefaultDedupConfig()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	draft := windowTx("draft", "OOBank", 15000, ledger.DirectionExpense, base)

	tests := []struct {
		name        string
		window      []*ledger.Transaction
		wantDecided DedupDecision
		wantMatched string
	}{
		{
			name:        "empty window accepts",
			window:      nil,
			wantDecided: DedupAccept,
		},
		{
			name: "certain duplicate rejected",
			window: []*ledger.Transaction{
				windowTx("prior", "OOBank", 15000, ledger.DirectionExpense, base.Add(-2*time.Second)),
			},
			wantDecided: DedupReject,
			wantMatched: "prior",
		},
		{
			name: "same source beyond certain window held",
			window: []*ledger.Transaction{
				windowTx("prior", "OOBank", 15000, ledger.DirectionExpense, base.Add(-5*time.Minute)),
			},
			wantDecided: DedupHold,
			wantMatched: "prior",
		},
		{
			name: "different source inside certain window held",
			window: []*ledger.Transaction{
				windowTx("prior", "KKCard", 15000, ledger.DirectionExpense, base.Add(-time.Second)),
			},
			wantDecided: DedupHold,
			wantMatched: "prior",
		},
		{
			name: "beyond wide window accepted",
			window: []*ledger.Transaction{
				windowTx("prior", "OOBank", 15000, ledger.DirectionExpense, base.Add(-cfg.WideWindow-time.Minute)),
			},
			wantDecided: DedupAccept,
		},
		{
			name: "different amount accepted",
			window: []*ledger.Transaction{
				windowTx("prior", "OOBank", 15001, ledger.DirectionExpense, base.Add(-time.Second)),
			},
			wantDecided: DedupAccept,
		},
		{
			name: "different direction accepted",
			window: []*ledger.Transaction{
				windowTx("prior", "OOBank", 15000, ledger.DirectionIncome, base.Add(-time.Second)),
			},
			wantDecided: DedupAccept,
		},
		{
			name: "certain match wins over earlier probable",
			window: []*ledger.Transaction{
				windowTx("probable", "KKCard", 15000, ledger.DirectionExpense, base.Add(-time.Minute)),
				windowTx("certain", "OOBank", 15000, ledger.DirectionExpense, base.Add(-time.Second)),
			},
			wantDecided: DedupReject,
			wantMatched: "certain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveDuplicate(draft, tt.window, cfg)
			if res.Decision != tt.wantDecided {
				t.Errorf("decision = %s, want %s", res.Decision, tt.wantDecided)
			}
			if res.MatchedID != tt.wantMatched {
				t.Errorf("matched = %q, want %q", res.MatchedID, tt.wantMatched)
			}
		})
	}
}

func TestResolveDuplicateDistinctDependents(t *testing.T) {
	cfg := DefaultDedupConfig()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	give := func(id, dependentID string, at time.Time) *ledger.Transaction {
		tx := windowTx(id, "Allowance", 50000, ledger.DirectionIncome, at)
		tx.DependentID = dependentID
		tx.Provenance = ledger.ProvenanceManualEntry
		return tx
	}

	draft := give("draft", "dep-2", base)

	// A sibling's give seconds earlier is a different transaction.
	res := ResolveDuplicate(draft, []*ledger.Transaction{give("prior", "dep-1", base.Add(-2*time.Second))}, cfg)
	if res.Decision != DedupAccept {
		t.Errorf("decision = %s, want accept for a different dependent", res.Decision)
	}

	// A give to the same dependent inside the certain window is a re-send.
	res = ResolveDuplicate(draft, []*ledger.Transaction{give("prior", "dep-2", base.Add(-2*time.Second))}, cfg)
	if res.Decision != DedupReject {
		t.Errorf("decision = %s, want reject for a repeated give", res.Decision)
	}
}

func TestResolveDuplicateFutureTimestampTolerance(t *testing.T) {
	// The prior record may be timestamped after the draft when the platform
	// batch-delivers out of order; the gap is absolute.
	base := time.Now()
	draft := windowTx("draft", "OOBank", 9000, ledger.DirectionExpense, base)
	prior := windowTx("prior", "OOBank", 9000, ledger.DirectionExpense, base.Add(90*time.Second))

	res := ResolveDuplicate(draft, []*ledger.Transaction{prior}, DefaultDedupConfig())
	if res.Decision != DedupReject {
		t.Errorf("decision = %s, want reject for out-of-order re-send", res.Decision)
	}
}
