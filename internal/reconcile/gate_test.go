package reconcile

import (
	"testing"

	"github.com/seojinlee/notiledger/internal/ledger"
)

func TestGate(t *testing.T) {
	tests := []struct {
		name      string
		amount    int64
		threshold int64
		want      GateDecision
	}{
		{"below threshold commits", 999999, 1000000, GateCommit},
		{"exactly at threshold is held", 1000000, 1000000, GateHoldForConfirmation},
		{"above threshold is held", 2000000, 1000000, GateHoldForConfirmation},
		{"zero threshold disables the gate", 99000000, 0, GateCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			draft := &ledger.Transaction{Amount: tt.amount, Direction: ledger.DirectionExpense}
			if got := Gate(draft, tt.threshold); got != tt.want {
				t.Errorf("Gate(%d, %d) = %s, want %s", tt.amount, tt.threshold, got, tt.want)
			}
		})
	}
}
