package parse

import "fmt"

// FailureKind is the closed taxonomy of parse failures.
type FailureKind string

const (
	// KindUnknownSource means the source id is unregistered or disabled.
	KindUnknownSource FailureKind = "UNKNOWN_SOURCE"
	// KindAmbiguousDirection means both keyword sets matched; the parser
	// fails rather than guess.
	KindAmbiguousDirection FailureKind = "AMBIGUOUS_DIRECTION"
	// KindInvalidAmount means the amount figure was non-numeric or zero.
	KindInvalidAmount FailureKind = "INVALID_AMOUNT"
	// KindNoRuleMatched means no rule found its required fields in the text.
	KindNoRuleMatched FailureKind = "NO_RULE_MATCHED"
)

// Error is a typed, non-fatal parse failure. Callers log/drop it or surface
// the raw event to the manual-entry fallback; it is never escalated.
type Error struct {
	Kind     FailureKind
	SourceID string
	RuleID   string
	Detail   string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("parse %s (source %s): %s", e.Kind, e.SourceID, e.Detail)
	}
	return fmt.Sprintf("parse %s (source %s)", e.Kind, e.SourceID)
}

// KindOf extracts the failure kind, or "" for non-parse errors.
func KindOf(err error) FailureKind {
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return ""
}
