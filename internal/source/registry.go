// Package source holds the closed registry of notification-producing apps
// and banks, and the extraction rules that locate transaction fields inside
// their notification text. Adding a bank is a data change: registries load
// from JSON, and the rules are patterns, not code.
package source

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
	"sync"
)

// Source is the identity of one notification-producing app or bank.
// Immutable reference data; created or updated only by configuration change.
type Source struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	// PackageIDs are the platform package identifiers this source's
	// notifications may originate from.
	PackageIDs []string `json:"package_ids,omitempty"`
	// Boilerplate phrases are stripped from descriptions by the normalizer.
	Boilerplate []string          `json:"boilerplate,omitempty"`
	Rules       []*ExtractionRule `json:"rules"`
}

// ExtractionRule describes how to find transaction fields in one notification
// layout. Rules are tried in ascending Priority; the first rule whose required
// fields (amount, direction) are structurally present wins.
type ExtractionRule struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`

	// AmountPattern must have one capture group over the numeric figure.
	AmountPattern string `json:"amount_pattern"`

	// Direction keyword sets. A rule may carry both; the matching set decides
	// direction, and a text matching both is ambiguous.
	DebitKeywords  []string `json:"debit_keywords,omitempty"`
	CreditKeywords []string `json:"credit_keywords,omitempty"`

	// Optional field patterns, each with one capture group.
	MerchantPattern string `json:"merchant_pattern,omitempty"`
	TailPattern     string `json:"tail_pattern,omitempty"`
	BalancePattern  string `json:"balance_pattern,omitempty"`
	SenderPattern   string `json:"sender_pattern,omitempty"`

	amountRe   *regexp.Regexp
	merchantRe *regexp.Regexp
	tailRe     *regexp.Regexp
	balanceRe  *regexp.Regexp
	senderRe   *regexp.Regexp
}

func (r *ExtractionRule) compile() error {
	if r.AmountPattern == "" {
		return fmt.Errorf("rule %s: amount pattern is required", r.ID)
	}
	if len(r.DebitKeywords) == 0 && len(r.CreditKeywords) == 0 {
		return fmt.Errorf("rule %s: at least one direction keyword set is required", r.ID)
	}
	var err error
	if r.amountRe, err = regexp.Compile(r.AmountPattern); err != nil {
		return fmt.Errorf("rule %s: amount pattern: %w", r.ID, err)
	}
	if r.amountRe.NumSubexp() < 1 {
		return fmt.Errorf("rule %s: amount pattern needs a capture group", r.ID)
	}
	compileOpt := func(pattern, name string) (*regexp.Regexp, error) {
		if pattern == "" {
			return nil, nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %s pattern: %w", r.ID, name, err)
		}
		return re, nil
	}
	if r.merchantRe, err = compileOpt(r.MerchantPattern, "merchant"); err != nil {
		return err
	}
	if r.tailRe, err = compileOpt(r.TailPattern, "tail"); err != nil {
		return err
	}
	if r.balanceRe, err = compileOpt(r.BalancePattern, "balance"); err != nil {
		return err
	}
	if r.senderRe, err = compileOpt(r.SenderPattern, "sender"); err != nil {
		return err
	}
	return nil
}

func firstGroup(re *regexp.Regexp, text string) (string, bool) {
	if re == nil {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// AmountMatch returns the captured amount figure, if the pattern matches.
func (r *ExtractionRule) AmountMatch(text string) (string, bool) {
	return firstGroup(r.amountRe, text)
}

// MerchantMatch returns the captured merchant/description text.
func (r *ExtractionRule) MerchantMatch(text string) (string, bool) {
	return firstGroup(r.merchantRe, text)
}

// TailMatch returns the captured account-tail.
func (r *ExtractionRule) TailMatch(text string) (string, bool) {
	return firstGroup(r.tailRe, text)
}

// BalanceMatch returns the captured running-balance figure.
func (r *ExtractionRule) BalanceMatch(text string) (string, bool) {
	return firstGroup(r.balanceRe, text)
}

// SenderMatch returns the captured sender name.
func (r *ExtractionRule) SenderMatch(text string) (string, bool) {
	return firstGroup(r.senderRe, text)
}

// Registry is a snapshot of known sources plus the user's allow-set.
// Lookup and Enabled are safe for concurrent use with SetAllowed.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	allowed map[string]bool // nil means every registered source is enabled
}

// NewRegistry builds a registry from the given sources, compiling every rule
// and checking that rule priorities within a source form a total order.
func NewRegistry(sources ...*Source) (*Registry, error) {
	reg := &Registry{sources: make(map[string]*Source, len(sources))}
	for _, src := range sources {
		if src.ID == "" {
			return nil, fmt.Errorf("source with display name %q has empty id", src.DisplayName)
		}
		if _, dup := reg.sources[src.ID]; dup {
			return nil, fmt.Errorf("duplicate source id %q", src.ID)
		}
		if len(src.Rules) == 0 {
			return nil, fmt.Errorf("source %s has no extraction rules", src.ID)
		}
		seen := make(map[int]string, len(src.Rules))
		for _, rule := range src.Rules {
			if prev, ok := seen[rule.Priority]; ok {
				return nil, fmt.Errorf("source %s: rules %s and %s share priority %d", src.ID, prev, rule.ID, rule.Priority)
			}
			seen[rule.Priority] = rule.ID
			if err := rule.compile(); err != nil {
				return nil, fmt.Errorf("source %s: %w", src.ID, err)
			}
		}
		sort.Slice(src.Rules, func(i, j int) bool {
			return src.Rules[i].Priority < src.Rules[j].Priority
		})
		reg.sources[src.ID] = src
	}
	return reg, nil
}

// Load reads a JSON array of sources and builds a registry from it.
func Load(r io.Reader) (*Registry, error) {
	var sources []*Source
	if err := json.NewDecoder(r).Decode(&sources); err != nil {
		return nil, fmt.Errorf("source.Load: decoding registry: %w", err)
	}
	return NewRegistry(sources...)
}

// Lookup returns the source for the given id.
func (reg *Registry) Lookup(id string) (*Source, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	src, ok := reg.sources[id]
	return src, ok
}

// Enabled reports whether the source is registered and inside the allow-set.
func (reg *Registry) Enabled(id string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if _, ok := reg.sources[id]; !ok {
		return false
	}
	if reg.allowed == nil {
		return true
	}
	return reg.allowed[id]
}

// SetAllowed replaces the allow-set. It is supplied by the settings surface;
// an empty slice disables every source, nil re-enables all of them.
func (reg *Registry) SetAllowed(ids []string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if ids == nil {
		reg.allowed = nil
		return
	}
	allowed := make(map[string]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	reg.allowed = allowed
}

// IDs returns the registered source ids, sorted.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	ids := make([]string, 0, len(reg.sources))
	for id := range reg.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
