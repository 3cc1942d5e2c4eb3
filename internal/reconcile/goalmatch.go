package reconcile

import (
	"strings"

	"github.com/seojinlee/notiledger/internal/ledger"
)

// ContributionCandidate is a proposed savings contribution produced by
// auto-deposit matching, not yet persisted.
type ContributionCandidate struct {
	GoalID             string
	Amount             int64
	Contributor        string
	IsAutoDetected     bool
	NeedsReview        bool
	DetectedSenderName string
	OriginalText       string
}

// MatchGoal checks a deposit draft against the active goals' auto-deposit
// linkage. Only income drafts with a non-empty account tail are considered.
//
// Exactly one matching goal produces a clean candidate attributed to the
// acting user, unless the notification independently asserts a different
// sender, which keeps the candidate but flags it for review. Multiple
// matching goals attach the candidate to the most-recently-updated one,
// flagged for review. No match produces no candidate.
func MatchGoal(draft *ledger.Transaction, goals []*ledger.SavingsGoal, actingUser string) *ContributionCandidate {
	if draft.Direction != ledger.DirectionIncome || draft.AccountTail == "" {
		return nil
	}

	var matched []*ledger.SavingsGoal
	for _, g := range goals {
		if g.AutoDeposit == nil {
			continue
		}
		if g.AutoDeposit.BankName == draft.SourceName && g.AutoDeposit.AccountTail == draft.AccountTail {
			matched = append(matched, g)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	cand := &ContributionCandidate{
		Amount:         draft.Amount,
		Contributor:    actingUser,
		IsAutoDetected: true,
		OriginalText:   draft.OriginalText,
	}

	if len(matched) > 1 {
		best := matched[0]
		for _, g := range matched[1:] {
			if g.UpdatedAt.After(best.UpdatedAt) {
				best = g
			}
		}
		cand.GoalID = best.ID
		cand.NeedsReview = true
		return cand
	}

	cand.GoalID = matched[0].ID
	if draft.SenderName != "" && !sameName(draft.SenderName, actingUser) {
		// The bank text rarely identifies the depositor reliably, so the
		// contribution still goes to the acting user, flagged for review.
		cand.NeedsReview = true
		cand.DetectedSenderName = draft.SenderName
	}
	return cand
}

// sameName compares sender names exactly after normalization: whitespace
// collapsed, case folded, trailing honorific stripped.
func sameName(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}

func normalizeName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ToLower(s)
	s = strings.TrimSuffix(s, "님")
	return strings.TrimSpace(s)
}
