// Package ledger defines the domain model of the household ledger: committed
// transactions, savings goals with their contributions, and the storage
// contract the reconciliation engine runs against.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the ledger-facing direction of a transaction.
type Direction string

const (
	// DirectionIncome represents money coming into the ledger.
	DirectionIncome Direction = "INCOME"
	// DirectionExpense represents money leaving the ledger.
	DirectionExpense Direction = "EXPENSE"
)

// IsValid checks if the direction is a known value.
func (d Direction) IsValid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// Provenance records how a transaction entered the ledger.
type Provenance string

const (
	// ProvenanceNotification marks transactions parsed from a push notification.
	ProvenanceNotification Provenance = "NOTIFICATION"
	// ProvenanceManualText marks transactions parsed from user-pasted bank text.
	ProvenanceManualText Provenance = "MANUAL_TEXT"
	// ProvenanceManualEntry marks transactions entered by hand (including
	// allowance gives, which are materialized on the user's behalf).
	ProvenanceManualEntry Provenance = "MANUAL_ENTRY"
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	// StatusDraft is a parsed/normalized candidate not yet resolved.
	StatusDraft Status = "DRAFT"
	// StatusCommitted is a transaction counted in ledger totals.
	StatusCommitted Status = "COMMITTED"
	// StatusHeldDuplicate is a probable duplicate awaiting a user decision.
	StatusHeldDuplicate Status = "HELD_DUPLICATE"
	// StatusHeldHighValue is a transaction above the threshold awaiting confirmation.
	StatusHeldHighValue Status = "HELD_HIGH_VALUE"
	// StatusRejectedDuplicate is a certain duplicate, retained for audit/undo.
	StatusRejectedDuplicate Status = "REJECTED_DUPLICATE"
	// StatusDismissed is a held transaction permanently discarded by the user.
	StatusDismissed Status = "DISMISSED"
)

// CategoryCode is the closed set of spending categories.
type CategoryCode string

const (
	CategoryFood      CategoryCode = "FOOD"
	CategoryCafe      CategoryCode = "CAFE"
	CategoryGroceries CategoryCode = "GROCERIES"
	CategoryTransport CategoryCode = "TRANSPORT"
	CategoryShopping  CategoryCode = "SHOPPING"
	CategoryHousing   CategoryCode = "HOUSING"
	CategoryHealth    CategoryCode = "HEALTH"
	CategoryLeisure   CategoryCode = "LEISURE"
	CategoryEducation CategoryCode = "EDUCATION"
	CategorySalary    CategoryCode = "SALARY"
	CategoryAllowance CategoryCode = "ALLOWANCE"
	// CategoryOther carries a user-supplied name in Category.Custom.
	CategoryOther CategoryCode = "OTHER"
)

// Category is a closed category code with an escape hatch for custom names.
type Category struct {
	Code   CategoryCode `json:"code" bson:"code"`
	Custom string       `json:"custom,omitempty" bson:"custom,omitempty"`
}

// OtherCategory builds the Other(name) case.
func OtherCategory(name string) *Category {
	return &Category{Code: CategoryOther, Custom: name}
}

// Display returns the user-facing category name.
func (c *Category) Display() string {
	if c == nil {
		return ""
	}
	if c.Code == CategoryOther && c.Custom != "" {
		return c.Custom
	}
	return string(c.Code)
}

// Transaction is one ledger record. Drafts are produced by the normalizer and
// mutated only by the reconciliation engine until committed; after commit only
// Description, Memo and Category may change, through user edits.
type Transaction struct {
	ID          string      `json:"id" bson:"_id"`
	LedgerID    string      `json:"ledger_id" bson:"ledger_id"`
	Direction   Direction   `json:"direction" bson:"direction"`
	Amount      int64       `json:"amount" bson:"amount"` // smallest currency unit, > 0
	Description string      `json:"description" bson:"description"`
	Category    *Category   `json:"category,omitempty" bson:"category,omitempty"`
	Merchant    string      `json:"merchant,omitempty" bson:"merchant,omitempty"`
	SourceName  string      `json:"source_name,omitempty" bson:"source_name,omitempty"`
	Memo        string      `json:"memo,omitempty" bson:"memo,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at" bson:"occurred_at"`
	Provenance  Provenance  `json:"provenance" bson:"provenance"`
	DependentID string      `json:"dependent_id,omitempty" bson:"dependent_id,omitempty"`
	NeedsReview bool        `json:"needs_review,omitempty" bson:"needs_review,omitempty"`
	Status      Status      `json:"status" bson:"status"`

	// DuplicateOf is the id of the prior transaction this one was rejected or
	// held against. Required for "why was this held" explanations and undo.
	DuplicateOf string `json:"duplicate_of,omitempty" bson:"duplicate_of,omitempty"`

	// AccountTail and SenderName are carried from the parsed notification for
	// goal matching; OriginalText is the raw notification and RuleID the
	// extraction rule that fired, both retained for audit.
	RuleID       string `json:"rule_id,omitempty" bson:"rule_id,omitempty"`
	AccountTail  string `json:"account_tail,omitempty" bson:"account_tail,omitempty"`
	SenderName   string `json:"sender_name,omitempty" bson:"sender_name,omitempty"`
	OriginalText string `json:"original_text,omitempty" bson:"original_text,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Validate performs basic validation on the transaction.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("transaction id cannot be empty")
	}
	if strings.TrimSpace(t.LedgerID) == "" {
		return fmt.Errorf("transaction ledger id cannot be empty")
	}
	if !t.Direction.IsValid() {
		return fmt.Errorf("invalid direction: %s", t.Direction)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("transaction amount must be positive, got %d", t.Amount)
	}
	if t.OccurredAt.IsZero() {
		return fmt.Errorf("transaction occurred-at cannot be zero")
	}
	return nil
}

// CountsTowardTotals reports whether this record is part of ledger totals.
// Held and rejected records are excluded until resolved.
func (t *Transaction) CountsTowardTotals() bool {
	return t.Status == StatusCommitted
}

// Held reports whether the record is parked for a human decision.
func (t *Transaction) Held() bool {
	return t.Status == StatusHeldDuplicate || t.Status == StatusHeldHighValue
}

// AutoDepositLink ties a savings goal to incoming deposits on one account.
type AutoDepositLink struct {
	BankName    string `json:"bank_name" bson:"bank_name"`
	AccountTail string `json:"account_tail" bson:"account_tail"`
}

// SavingsGoal is a target the household saves toward. CurrentAmount is
// derived state: it always equals the sum of the goal's contribution amounts
// and is only ever adjusted by the store's contribution operations.
type SavingsGoal struct {
	ID            string           `json:"id" bson:"_id"`
	LedgerID      string           `json:"ledger_id" bson:"ledger_id"`
	Name          string           `json:"name" bson:"name"`
	TargetAmount  int64            `json:"target_amount" bson:"target_amount"`
	CurrentAmount int64            `json:"current_amount" bson:"current_amount"`
	AutoDeposit   *AutoDepositLink `json:"auto_deposit,omitempty" bson:"auto_deposit,omitempty"`
	CreatedAt     time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" bson:"updated_at"`
}

// Completed reports whether the goal has reached its target.
func (g *SavingsGoal) Completed() bool {
	return g.CurrentAmount >= g.TargetAmount
}

// SavingsContribution is one payment into a goal.
type SavingsContribution struct {
	ID          string    `json:"id" bson:"_id"`
	GoalID      string    `json:"goal_id" bson:"goal_id"`
	Contributor string    `json:"contributor" bson:"contributor"`
	Amount      int64     `json:"amount" bson:"amount"` // > 0
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`

	// Set only for auto-detected contributions.
	IsAutoDetected           bool   `json:"is_auto_detected,omitempty" bson:"is_auto_detected,omitempty"`
	DetectedSenderName       string `json:"detected_sender_name,omitempty" bson:"detected_sender_name,omitempty"`
	OriginalNotificationText string `json:"original_notification_text,omitempty" bson:"original_notification_text,omitempty"`

	// NeedsReview flags ambiguous auto-matches; IsModified is set once a
	// human edits an auto-detected contribution.
	NeedsReview bool `json:"needs_review,omitempty" bson:"needs_review,omitempty"`
	IsModified  bool `json:"is_modified,omitempty" bson:"is_modified,omitempty"`

	// TransactionID links back to the deposit transaction that produced this
	// contribution, when auto-detected.
	TransactionID string `json:"transaction_id,omitempty" bson:"transaction_id,omitempty"`
}

// Validate performs basic validation on the contribution.
func (c *SavingsContribution) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("contribution id cannot be empty")
	}
	if strings.TrimSpace(c.GoalID) == "" {
		return fmt.Errorf("contribution goal id cannot be empty")
	}
	if c.Amount <= 0 {
		return fmt.Errorf("contribution amount must be positive, got %d", c.Amount)
	}
	return nil
}
