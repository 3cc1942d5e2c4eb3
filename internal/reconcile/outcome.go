package reconcile

import "time"

// OutcomeKind is the closed set of reconciliation outcomes.
type OutcomeKind string

const (
	OutcomeCommitted         OutcomeKind = "COMMITTED"
	OutcomeRejectedDuplicate OutcomeKind = "REJECTED_DUPLICATE"
	OutcomeHeldDuplicate     OutcomeKind = "HELD_DUPLICATE"
	OutcomeHeldHighValue     OutcomeKind = "HELD_HIGH_VALUE"
	OutcomeHeldAmbiguousGoal OutcomeKind = "HELD_AMBIGUOUS_GOAL"
	OutcomeDismissed         OutcomeKind = "DISMISSED"
	OutcomeParseFailed       OutcomeKind = "PARSE_FAILED"
)

// Outcome is one reconciliation decision, published to subscribers for UI
// display and carried into the audit log. It names the rule that fired and
// the prior transaction or goal the decision was made against.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	LedgerID string      `json:"ledger_id"`

	TransactionID  string `json:"transaction_id,omitempty"`
	ContributionID string `json:"contribution_id,omitempty"`
	GoalID         string `json:"goal_id,omitempty"`
	MatchedID      string `json:"matched_id,omitempty"`
	RuleID         string `json:"rule_id,omitempty"`

	// Error carries the typed parse failure text for OutcomeParseFailed.
	Error string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// Subscriber receives outcomes as they are decided. Subscribers must not
// block; the engine invokes them synchronously on the deciding goroutine.
type Subscriber func(Outcome)
