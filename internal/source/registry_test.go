package source

import (
	"strings"
	"testing"
)

func TestNewRegistryBuiltin(t *testing.T) {
	reg, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("NewRegistry(Builtin): %v", err)
	}

	src, ok := reg.Lookup("oobank")
	if !ok {
		t.Fatal("oobank not registered")
	}
	if src.DisplayName != "OOBank" {
		t.Errorf("display name = %q", src.DisplayName)
	}
	if !reg.Enabled("oobank") {
		t.Error("sources should be enabled by default")
	}
}

func TestNewRegistryRejectsPriorityTies(t *testing.T) {
	_, err := NewRegistry(&Source{
		ID:          "dupbank",
		DisplayName: "DupBank",
		Rules: []*ExtractionRule{
			{ID: "a", Priority: 1, AmountPattern: `(\d+)`, DebitKeywords: []string{"out"}},
			{ID: "b", Priority: 1, AmountPattern: `(\d+)`, DebitKeywords: []string{"out"}},
		},
	})
	if err == nil || !strings.Contains(err.Error(), "priority") {
		t.Errorf("expected priority-tie error, got %v", err)
	}
}

func TestNewRegistryRejectsCapturelessAmount(t *testing.T) {
	_, err := NewRegistry(&Source{
		ID:          "bad",
		DisplayName: "Bad",
		Rules: []*ExtractionRule{
			{ID: "a", Priority: 1, AmountPattern: `\d+`, DebitKeywords: []string{"out"}},
		},
	})
	if err == nil || !strings.Contains(err.Error(), "capture group") {
		t.Errorf("expected capture-group error, got %v", err)
	}
}

func TestRulesSortedByPriority(t *testing.T) {
	reg, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	src, _ := reg.Lookup("hnbank")
	if len(src.Rules) != 2 {
		t.Fatalf("hnbank rules = %d, want 2", len(src.Rules))
	}
	if src.Rules[0].Priority > src.Rules[1].Priority {
		t.Error("rules not sorted by ascending priority")
	}
}

func TestAllowSet(t *testing.T) {
	reg, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	reg.SetAllowed([]string{"kkcard"})
	if reg.Enabled("oobank") {
		t.Error("oobank should be disabled outside the allow-set")
	}
	if !reg.Enabled("kkcard") {
		t.Error("kkcard should stay enabled")
	}
	if reg.Enabled("no-such-source") {
		t.Error("unregistered source must never be enabled")
	}

	reg.SetAllowed([]string{})
	if reg.Enabled("kkcard") {
		t.Error("empty allow-set disables everything")
	}

	reg.SetAllowed(nil)
	if !reg.Enabled("oobank") {
		t.Error("nil allow-set re-enables all sources")
	}
}

func TestLoadJSON(t *testing.T) {
	const raw = `[
		{
			"id": "testbank",
			"display_name": "TestBank",
			"rules": [
				{
					"id": "r1",
					"priority": 1,
					"amount_pattern": "([0-9,]+)won",
					"debit_keywords": ["spent"],
					"merchant_pattern": "at (.+)$"
				}
			]
		}
	]`
	reg, err := Load(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	src, ok := reg.Lookup("testbank")
	if !ok {
		t.Fatal("testbank not registered after Load")
	}
	got, ok := src.Rules[0].AmountMatch("spent 12,000won at Store")
	if !ok || got != "12,000" {
		t.Errorf("AmountMatch = %q, %v", got, ok)
	}
}

func TestRuleFieldMatches(t *testing.T) {
	reg, _ := NewRegistry(Builtin()...)
	src, _ := reg.Lookup("oobank")
	rule := src.Rules[0]

	text := "OOBank: 50,000won deposited to acct *1234 from Kim Mina, balance 135,000"

	if got, ok := rule.AmountMatch(text); !ok || got != "50,000" {
		t.Errorf("amount = %q, %v", got, ok)
	}
	if got, ok := rule.TailMatch(text); !ok || got != "1234" {
		t.Errorf("tail = %q, %v", got, ok)
	}
	if got, ok := rule.SenderMatch(text); !ok || got != "Kim Mina" {
		t.Errorf("sender = %q, %v", got, ok)
	}
	if got, ok := rule.BalanceMatch(text); !ok || got != "135,000" {
		t.Errorf("balance = %q, %v", got, ok)
	}
	if _, ok := rule.MerchantMatch(text); ok {
		t.Error("deposit text should not match the merchant pattern")
	}
}
