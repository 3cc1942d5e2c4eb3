package source

// Builtin returns the sources shipped with the engine. Deployments normally
// extend or replace these via a JSON registry file; the builtins cover the
// senders used by the demo ledger and the test suite.
//
// The returned slice is freshly allocated on every call so callers may hand
// it to NewRegistry without sharing compiled state.
func Builtin() []*Source {
	return []*Source{
		{
			ID:          "oobank",
			DisplayName: "OOBank",
			PackageIDs:  []string{"com.oobank.smartbank", "com.oobank.alert"},
			Boilerplate: []string{"[Web발신]", "OOBank:", "(Ad)"},
			Rules: []*ExtractionRule{
				{
					ID:             "oobank-card",
					Priority:       1,
					AmountPattern:  `[-−]?\s*([0-9][0-9,.]*)\s*won`,
					DebitKeywords:  []string{"used at", "withdrawn"},
					CreditKeywords: []string{"deposited", "received"},
					MerchantPattern: `used at ([^,]+)`,
					TailPattern:     `acct \*?([0-9]{3,4})`,
					BalancePattern:  `balance ([0-9][0-9,.]*)`,
					SenderPattern:   `from ([^,]+)`,
				},
			},
		},
		{
			ID:          "kkcard",
			DisplayName: "KKCard",
			PackageIDs:  []string{"com.kkcard.app"},
			Boilerplate: []string{"KKCard"},
			Rules: []*ExtractionRule{
				{
					ID:              "kkcard-approval",
					Priority:        1,
					AmountPattern:   `([0-9][0-9,]*)\s*won`,
					DebitKeywords:   []string{"approval"},
					CreditKeywords:  []string{"cancelled"},
					MerchantPattern: `(?:approval|cancelled) (.+?)(?: [0-9]{2}/[0-9]{2}| balance|$)`,
					BalancePattern:  `balance ([0-9][0-9,]*)`,
				},
			},
		},
		{
			ID:          "hnbank",
			DisplayName: "HNBank",
			PackageIDs:  []string{"com.hnbank.push"},
			Boilerplate: []string{"HNBank", "[HNBank]"},
			Rules: []*ExtractionRule{
				{
					ID:             "hnbank-transfer",
					Priority:       1,
					AmountPattern:  `([0-9][0-9,]*)\s*won`,
					DebitKeywords:  []string{"transfer out", "withdrawal"},
					CreditKeywords: []string{"deposit"},
					TailPattern:    `\*([0-9]{3,4})`,
					SenderPattern:  `sender ([A-Za-z가-힣 ]+?)(?: balance|$)`,
					BalancePattern: `balance ([0-9][0-9,]*)`,
				},
				{
					// Older HNBank layout without an account tail; lower
					// priority so the transfer rule is tried first.
					ID:             "hnbank-legacy",
					Priority:       2,
					AmountPattern:  `KRW ?([0-9][0-9,]*)`,
					DebitKeywords:  []string{"out"},
					CreditKeywords: []string{"in"},
					BalancePattern: `bal ([0-9][0-9,]*)`,
				},
			},
		},
	}
}
