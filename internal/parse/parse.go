// Package parse turns raw notification text into structured transaction
// candidates using the extraction rules of the source registry. Parsing is a
// pure function over its inputs and a registry snapshot; every failure is
// typed and non-fatal.
package parse

import (
	"strings"
	"time"

	"github.com/seojinlee/notiledger/internal/source"
)

// Direction is the bank-facing direction of a parsed candidate, before the
// normalizer maps it onto the ledger's income/expense.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Candidate is the ephemeral result of parsing one notification.
// Amount > 0 and Direction is always one of debit/credit.
type Candidate struct {
	SourceID   string
	SourceName string
	RuleID     string

	Amount    int64 // smallest currency unit
	Direction Direction

	Merchant     string // raw merchant/description text, may be empty
	AccountTail  string
	BalanceAfter *int64
	SenderName   string

	RawText  string // original text, retained for audit
	PostedAt time.Time

	// FromFallback marks candidates produced by the model fallback rather
	// than a registry rule; the normalizer flags these for review.
	FromFallback bool
}

// Parser evaluates registry rules against notification text.
type Parser struct {
	reg *source.Registry
}

// New creates a parser over the given registry snapshot.
func New(reg *source.Registry) *Parser {
	return &Parser{reg: reg}
}

// Parse evaluates the source's rules in priority order and returns the first
// structurally valid candidate. The required fields are amount and direction;
// a rule that finds neither is skipped, and a rule that finds both keyword
// sets fails with AmbiguousDirection rather than guessing.
func (p *Parser) Parse(sourceID, rawText string, postedAt time.Time) (*Candidate, error) {
	if !p.reg.Enabled(sourceID) {
		return nil, &Error{Kind: KindUnknownSource, SourceID: sourceID}
	}
	src, ok := p.reg.Lookup(sourceID)
	if !ok {
		return nil, &Error{Kind: KindUnknownSource, SourceID: sourceID}
	}

	lowered := strings.ToLower(rawText)
	for _, rule := range src.Rules {
		figure, found := rule.AmountMatch(rawText)
		if !found {
			continue
		}
		debit := containsAny(lowered, rule.DebitKeywords)
		credit := containsAny(lowered, rule.CreditKeywords)
		switch {
		case debit && credit:
			return nil, &Error{
				Kind: KindAmbiguousDirection, SourceID: sourceID, RuleID: rule.ID,
				Detail: "both debit and credit keywords matched",
			}
		case !debit && !credit:
			// Direction not structurally found; the rule does not match.
			continue
		}

		amount, err := ParseAmount(figure)
		if err != nil {
			return nil, &Error{
				Kind: KindInvalidAmount, SourceID: sourceID, RuleID: rule.ID,
				Detail: err.Error(),
			}
		}

		cand := &Candidate{
			SourceID:   sourceID,
			SourceName: src.DisplayName,
			RuleID:     rule.ID,
			Amount:     amount,
			Direction:  DirectionDebit,
			RawText:    rawText,
			PostedAt:   postedAt,
		}
		if credit {
			cand.Direction = DirectionCredit
		}
		if m, ok := rule.MerchantMatch(rawText); ok {
			cand.Merchant = strings.TrimSpace(m)
		}
		if tail, ok := rule.TailMatch(rawText); ok {
			cand.AccountTail = tail
		}
		if sender, ok := rule.SenderMatch(rawText); ok {
			cand.SenderName = strings.TrimSpace(sender)
		}
		if figure, ok := rule.BalanceMatch(rawText); ok {
			// Balance is best-effort; a malformed figure does not fail the parse.
			if bal, err := ParseAmount(figure); err == nil {
				cand.BalanceAfter = &bal
			}
		}
		return cand, nil
	}

	return nil, &Error{Kind: KindNoRuleMatched, SourceID: sourceID}
}

func containsAny(lowered string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lowered, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
