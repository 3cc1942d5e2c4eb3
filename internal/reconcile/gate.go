package reconcile

import "github.com/seojinlee/notiledger/internal/ledger"

// GateDecision is the outcome of the high-value gate.
type GateDecision string

const (
	GateCommit              GateDecision = "COMMIT"
	GateHoldForConfirmation GateDecision = "HOLD_FOR_CONFIRMATION"
)

// Gate compares an accepted draft against the per-ledger threshold. The
// boundary is inclusive: an amount exactly equal to the threshold is held.
// A threshold of zero disables the gate.
func Gate(draft *ledger.Transaction, threshold int64) GateDecision {
	if threshold > 0 && draft.Amount >= threshold {
		return GateHoldForConfirmation
	}
	return GateCommit
}
