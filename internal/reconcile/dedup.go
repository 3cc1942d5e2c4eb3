// Package reconcile implements the reconciliation engine: duplicate
// detection, the high-value gate, savings-goal auto-matching, the hold queue
// of pending user decisions, and the orchestrator that wires them into one
// pipeline over a ledger store.
package reconcile

import (
	"time"

	"github.com/seojinlee/notiledger/internal/ledger"
)

// DedupDecision is the outcome of duplicate resolution.
type DedupDecision string

const (
	// DedupAccept lets the draft continue to the gate.
	DedupAccept DedupDecision = "ACCEPT"
	// DedupReject silently rejects a certain duplicate; banks re-send alerts
	// often enough that this must not interrupt the user.
	DedupReject DedupDecision = "REJECT_DUPLICATE"
	// DedupHold parks a probable duplicate for user review. A probable
	// duplicate is never auto-discarded.
	DedupHold DedupDecision = "HOLD_FOR_REVIEW"
)

// DedupConfig carries the two tolerance windows. CertainWindow bounds
// same-source re-sends; WideWindow bounds the probable-duplicate search.
type DedupConfig struct {
	CertainWindow time.Duration
	WideWindow    time.Duration
}

// DefaultDedupConfig returns the tolerances used in production.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		CertainWindow: 2 * time.Minute,
		WideWindow:    10 * time.Minute,
	}
}

// DedupResult pairs the decision with the prior transaction it was made
// against, so a rejection stays explainable and undoable.
type DedupResult struct {
	Decision  DedupDecision
	MatchedID string
}

// ResolveDuplicate compares a draft against the recent-transaction window.
//
// Certain duplicate: same amount, direction and source, timestamps within
// CertainWindow; rejected. Probable duplicate: amount and direction match
// but the source differs, or only the wide window holds; held for review.
// Anything else is accepted.
//
// Records carrying different dependent ids are never duplicates of each
// other: an allowance give is stamped with its dependent, so equal-amount
// gives to siblings stay distinct no matter how close their timestamps.
func ResolveDuplicate(draft *ledger.Transaction, window []*ledger.Transaction, cfg DedupConfig) DedupResult {
	var probable string
	for _, prior := range window {
		if prior.ID == draft.ID {
			continue
		}
		if prior.Amount != draft.Amount || prior.Direction != draft.Direction {
			continue
		}
		if prior.DependentID != "" && draft.DependentID != "" && prior.DependentID != draft.DependentID {
			continue
		}
		gap := draft.OccurredAt.Sub(prior.OccurredAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > cfg.WideWindow {
			continue
		}
		if prior.SourceName == draft.SourceName && gap <= cfg.CertainWindow {
			return DedupResult{Decision: DedupReject, MatchedID: prior.ID}
		}
		if probable == "" {
			probable = prior.ID
		}
	}
	if probable != "" {
		return DedupResult{Decision: DedupHold, MatchedID: probable}
	}
	return DedupResult{Decision: DedupAccept}
}
