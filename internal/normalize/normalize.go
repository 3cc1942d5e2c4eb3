// Package normalize converts parsed notification candidates into canonical
// transaction drafts. Normalization is deterministic and side-effect free:
// ids and timestamps are assigned later by the reconciliation engine.
package normalize

import (
	"strings"

	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/source"
)

// Normalizer maps candidates onto ledger transaction drafts.
type Normalizer struct {
	reg   *source.Registry
	table map[string]ledger.Category
}

// New creates a normalizer. merchantCategories maps normalized merchant text
// to a category guess; pass nil to disable guessing.
func New(reg *source.Registry, merchantCategories map[string]ledger.Category) *Normalizer {
	table := make(map[string]ledger.Category, len(merchantCategories))
	for merchant, cat := range merchantCategories {
		table[normalizeMerchant(merchant)] = cat
	}
	return &Normalizer{reg: reg, table: table}
}

// DefaultMerchantCategories is the built-in merchant-to-category table.
// A table hit is a convenience guess, never authoritative.
func DefaultMerchantCategories() map[string]ledger.Category {
	return map[string]ledger.Category{
		"CoffeeShop":  {Code: ledger.CategoryCafe},
		"Starbucks":   {Code: ledger.CategoryCafe},
		"GS25":        {Code: ledger.CategoryGroceries},
		"CU":          {Code: ledger.CategoryGroceries},
		"E-Mart":      {Code: ledger.CategoryGroceries},
		"Kakao Taxi":  {Code: ledger.CategoryTransport},
		"Korail":      {Code: ledger.CategoryTransport},
		"Kyobo Books": {Code: ledger.CategoryEducation},
	}
}

// Normalize maps a candidate onto an uncommitted transaction draft. The
// amount is copied verbatim (single-currency system, no conversion); the
// ledger direction follows the bank direction; the description falls back to
// the source display name when stripping leaves nothing.
func (n *Normalizer) Normalize(ledgerID string, c *parse.Candidate, prov ledger.Provenance) *ledger.Transaction {
	direction := ledger.DirectionExpense
	if c.Direction == parse.DirectionCredit {
		direction = ledger.DirectionIncome
	}

	desc := n.stripBoilerplate(c.SourceID, c.Merchant)
	merchant := desc
	if desc == "" {
		desc = c.SourceName
	}

	tx := &ledger.Transaction{
		LedgerID:     ledgerID,
		Direction:    direction,
		Amount:       c.Amount,
		Description:  desc,
		Merchant:     merchant,
		SourceName:   c.SourceName,
		OccurredAt:   c.PostedAt,
		Provenance:   prov,
		Status:       ledger.StatusDraft,
		RuleID:       c.RuleID,
		AccountTail:  c.AccountTail,
		SenderName:   c.SenderName,
		OriginalText: c.RawText,
		NeedsReview:  c.FromFallback,
	}

	if cat, ok := n.table[normalizeMerchant(merchant)]; ok {
		catCopy := cat
		tx.Category = &catCopy
	}
	return tx
}

// stripBoilerplate removes the source's known disclaimer phrases and
// collapses the leftover whitespace.
func (n *Normalizer) stripBoilerplate(sourceID, text string) string {
	if src, ok := n.reg.Lookup(sourceID); ok {
		for _, phrase := range src.Boilerplate {
			text = strings.ReplaceAll(text, phrase, " ")
		}
	}
	return strings.Join(strings.Fields(text), " ")
}

func normalizeMerchant(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
