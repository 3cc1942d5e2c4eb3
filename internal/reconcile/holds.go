package reconcile

import (
	"sort"
	"sync"
	"time"
)

// HoldKind is the closed set of pending-decision kinds.
type HoldKind string

const (
	// HoldDuplicate is a probable duplicate awaiting keep/discard.
	HoldDuplicate HoldKind = "DUPLICATE"
	// HoldHighValue is a transaction at or above the threshold awaiting
	// confirm/dismiss.
	HoldHighValue HoldKind = "HIGH_VALUE"
	// HoldGoalAmbiguity is an auto-detected contribution whose goal
	// attribution needs a user decision.
	HoldGoalAmbiguity HoldKind = "GOAL_AMBIGUITY"
)

// Hold is one parked decision. The hold queue replaces ad hoc dialogs: the
// UI polls it and decision logic stays in the engine. Holds persist until an
// explicit user action or a cascade invalidation (e.g. goal deletion).
type Hold struct {
	ID       string   `json:"id"`
	Kind     HoldKind `json:"kind"`
	LedgerID string   `json:"ledger_id"`

	TransactionID  string `json:"transaction_id,omitempty"`
	ContributionID string `json:"contribution_id,omitempty"`
	GoalID         string `json:"goal_id,omitempty"`

	// MatchedID is the prior transaction a duplicate hold was raised
	// against; part of the "why was this held" explanation.
	MatchedID string    `json:"matched_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// holdQueue is the engine-owned queue of pending decisions. Unbounded; the
// pipeline never blocks on an unresolved hold.
type holdQueue struct {
	mu    sync.RWMutex
	holds map[string]*Hold
}

func newHoldQueue() *holdQueue {
	return &holdQueue{holds: make(map[string]*Hold)}
}

func (q *holdQueue) add(h *Hold) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *h
	q.holds[h.ID] = &cp
}

func (q *holdQueue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.holds, id)
}

// removeWhere deletes all holds the predicate selects and returns them.
func (q *holdQueue) removeWhere(pred func(*Hold) bool) []*Hold {
	q.mu.Lock()
	defer q.mu.Unlock()
	var removed []*Hold
	for id, h := range q.holds {
		if pred(h) {
			removed = append(removed, h)
			delete(q.holds, id)
		}
	}
	return removed
}

func (q *holdQueue) byTransaction(txID string) (*Hold, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, h := range q.holds {
		if h.TransactionID == txID {
			cp := *h
			return &cp, true
		}
	}
	return nil, false
}

func (q *holdQueue) list(ledgerID string) []*Hold {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var result []*Hold
	for _, h := range q.holds {
		if ledgerID != "" && h.LedgerID != ledgerID {
			continue
		}
		cp := *h
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// pendingDecisions counts the holds surfaced as the UI badge: duplicates and
// ambiguous goal matches awaiting a decision.
func (q *holdQueue) pendingDecisions(ledgerID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, h := range q.holds {
		if ledgerID != "" && h.LedgerID != ledgerID {
			continue
		}
		if h.Kind == HoldDuplicate || h.Kind == HoldGoalAmbiguity {
			n++
		}
	}
	return n
}
