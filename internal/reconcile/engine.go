package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/normalize"
	"github.com/seojinlee/notiledger/internal/parse"
)

// ErrNotHeld is returned when a confirmation call targets a transaction that
// is not in the expected held state.
var ErrNotHeld = errors.New("reconcile: transaction is not held")

// FallbackParser produces a candidate for text no registry rule matched.
// Implementations are model-backed and may be slow; the engine only consults
// one when configured.
type FallbackParser interface {
	Parse(ctx context.Context, sourceID, rawText string, postedAt time.Time) (*parse.Candidate, error)
}

// Archiver stores raw notification text for cold audit retention.
type Archiver interface {
	Archive(ctx context.Context, ledgerID, sourceID, rawText string, postedAt time.Time) error
}

// Exporter ships committed transactions and outcomes to an analytics sink.
type Exporter interface {
	ExportTransaction(ctx context.Context, tx *ledger.Transaction) error
	ExportOutcome(ctx context.Context, o Outcome) error
}

// Config is the per-deployment engine configuration. The high-value
// threshold and acting user are per-ledger concerns owned by the settings
// surface; they arrive here as plain inputs.
type Config struct {
	HighValueThreshold int64
	Dedup              DedupConfig
	// ActingUser is the contributor identity for auto-detected contributions.
	ActingUser string
}

// Deps bundles the engine's collaborators. Fallback, Archiver and Exporter
// are optional.
type Deps struct {
	Store      ledger.Store
	Parser     *parse.Parser
	Normalizer *normalize.Normalizer
	Fallback   FallbackParser
	Archiver   Archiver
	Exporter   Exporter
	Log        zerolog.Logger
}

// Engine is the reconciliation orchestrator. Parsing and normalization are
// pure and run on the caller's goroutine; duplicate resolution and goal
// matching are read-then-write against shared state and therefore serialize
// per ledger.
type Engine struct {
	store      ledger.Store
	parser     *parse.Parser
	normalizer *normalize.Normalizer
	fallback   FallbackParser
	archiver   Archiver
	exporter   Exporter
	cfg        Config
	log        zerolog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	holds *holdQueue

	subMu sync.RWMutex
	subs  []Subscriber
}

// New creates an engine. A zero Dedup config falls back to the defaults.
func New(deps Deps, cfg Config) *Engine {
	if cfg.Dedup.WideWindow == 0 {
		cfg.Dedup = DefaultDedupConfig()
	}
	return &Engine{
		store:      deps.Store,
		parser:     deps.Parser,
		normalizer: deps.Normalizer,
		fallback:   deps.Fallback,
		archiver:   deps.Archiver,
		exporter:   deps.Exporter,
		cfg:        cfg,
		log:        deps.Log,
		locks:      make(map[string]*sync.Mutex),
		holds:      newHoldQueue(),
	}
}

// Subscribe registers an outcome subscriber. Subscribers run synchronously
// on the deciding goroutine and must not block.
func (e *Engine) Subscribe(fn Subscriber) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.subs = append(e.subs, fn)
}

// RawNotification is one event from the platform notification listener.
type RawNotification struct {
	SourceID string    `json:"source_id"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
}

// IngestNotification runs the full pipeline for one notification event.
// Parse failures are typed and non-fatal: the outcome records the failure
// and the returned error lets the caller route the raw event to a
// manual-entry fallback.
func (e *Engine) IngestNotification(ctx context.Context, ledgerID string, raw RawNotification) (Outcome, error) {
	return e.ingest(ctx, ledgerID, raw, ledger.ProvenanceNotification)
}

// IngestManualText runs user-pasted bank text through the same pipeline.
func (e *Engine) IngestManualText(ctx context.Context, ledgerID string, raw RawNotification) (Outcome, error) {
	return e.ingest(ctx, ledgerID, raw, ledger.ProvenanceManualText)
}

func (e *Engine) ingest(ctx context.Context, ledgerID string, raw RawNotification, prov ledger.Provenance) (Outcome, error) {
	if e.archiver != nil {
		go func() {
			actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.archiver.Archive(actx, ledgerID, raw.SourceID, raw.Text, raw.PostedAt); err != nil {
				e.log.Warn().Err(err).Str("source_id", raw.SourceID).Msg("Raw notification archive failed")
			}
		}()
	}

	cand, err := e.parser.Parse(raw.SourceID, raw.Text, raw.PostedAt)
	if err != nil && parse.KindOf(err) == parse.KindNoRuleMatched && e.fallback != nil {
		fc, ferr := e.fallback.Parse(ctx, raw.SourceID, raw.Text, raw.PostedAt)
		if ferr != nil {
			e.log.Warn().Err(ferr).Str("source_id", raw.SourceID).Msg("Fallback parse failed")
		} else {
			fc.FromFallback = true
			cand, err = fc, nil
		}
	}
	if err != nil {
		o := Outcome{
			Kind:     OutcomeParseFailed,
			LedgerID: ledgerID,
			Error:    err.Error(),
			At:       time.Now(),
		}
		e.emit(o)
		return o, err
	}

	draft := e.normalizer.Normalize(ledgerID, cand, prov)
	return e.Submit(ctx, draft)
}

// Submit enters a normalized draft into the reconciliation pipeline. This is
// also the injection point for synthetic drafts (allowance gives, manual
// entry): they flow through dedup and the gate exactly like parsed ones.
func (e *Engine) Submit(ctx context.Context, draft *ledger.Transaction) (Outcome, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	if err := draft.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("Submit: invalid draft: %w", err)
	}

	lock := e.ledgerLock(draft.LedgerID)
	lock.Lock()
	defer lock.Unlock()
	return e.resolveLocked(ctx, draft)
}

func (e *Engine) resolveLocked(ctx context.Context, draft *ledger.Transaction) (Outcome, error) {
	since := draft.OccurredAt.Add(-e.cfg.Dedup.WideWindow)
	window, err := e.store.RecentTransactions(ctx, draft.LedgerID, since)
	if err != nil {
		return Outcome{}, ledger.WrapPersistence("RecentTransactions", err)
	}

	res := ResolveDuplicate(draft, window, e.cfg.Dedup)
	switch res.Decision {
	case DedupReject:
		draft.Status = ledger.StatusRejectedDuplicate
		draft.DuplicateOf = res.MatchedID
		if err := e.store.InsertTransaction(ctx, draft); err != nil {
			return Outcome{}, ledger.WrapPersistence("InsertTransaction", err)
		}
		o := e.outcome(OutcomeRejectedDuplicate, draft)
		o.MatchedID = res.MatchedID
		e.emit(o)
		return o, nil

	case DedupHold:
		draft.Status = ledger.StatusHeldDuplicate
		draft.DuplicateOf = res.MatchedID
		if err := e.store.InsertTransaction(ctx, draft); err != nil {
			return Outcome{}, ledger.WrapPersistence("InsertTransaction", err)
		}
		e.holds.add(&Hold{
			ID:            uuid.NewString(),
			Kind:          HoldDuplicate,
			LedgerID:      draft.LedgerID,
			TransactionID: draft.ID,
			MatchedID:     res.MatchedID,
			Reason:        "amount and direction match a recent transaction",
			CreatedAt:     time.Now(),
		})
		o := e.outcome(OutcomeHeldDuplicate, draft)
		o.MatchedID = res.MatchedID
		e.emit(o)
		return o, nil
	}

	if Gate(draft, e.cfg.HighValueThreshold) == GateHoldForConfirmation {
		draft.Status = ledger.StatusHeldHighValue
		if err := e.store.InsertTransaction(ctx, draft); err != nil {
			return Outcome{}, ledger.WrapPersistence("InsertTransaction", err)
		}
		e.holds.add(&Hold{
			ID:            uuid.NewString(),
			Kind:          HoldHighValue,
			LedgerID:      draft.LedgerID,
			TransactionID: draft.ID,
			Reason:        fmt.Sprintf("amount %d at or above threshold %d", draft.Amount, e.cfg.HighValueThreshold),
			CreatedAt:     time.Now(),
		})
		o := e.outcome(OutcomeHeldHighValue, draft)
		e.emit(o)
		return o, nil
	}

	draft.Status = ledger.StatusCommitted
	if err := e.store.InsertTransaction(ctx, draft); err != nil {
		return Outcome{}, ledger.WrapPersistence("InsertTransaction", err)
	}
	return e.commitLocked(ctx, draft)
}

// commitLocked finishes a commit: deposit drafts are offered to the goal
// auto-matcher, and the matched contribution commits atomically with the
// goal-total increment. A storage failure here rolls the transaction back so
// the draft is retried whole rather than half-committed.
func (e *Engine) commitLocked(ctx context.Context, tx *ledger.Transaction) (Outcome, error) {
	o := e.outcome(OutcomeCommitted, tx)

	if tx.Direction == ledger.DirectionIncome && tx.AccountTail != "" {
		goals, err := e.store.ListActiveGoals(ctx, tx.LedgerID)
		if err != nil {
			e.rollback(ctx, tx)
			return Outcome{}, ledger.WrapPersistence("ListActiveGoals", err)
		}
		if cand := MatchGoal(tx, goals, e.cfg.ActingUser); cand != nil {
			c := &ledger.SavingsContribution{
				ID:                       uuid.NewString(),
				GoalID:                   cand.GoalID,
				Contributor:              cand.Contributor,
				Amount:                   cand.Amount,
				CreatedAt:                time.Now(),
				IsAutoDetected:           true,
				DetectedSenderName:       cand.DetectedSenderName,
				OriginalNotificationText: cand.OriginalText,
				NeedsReview:              cand.NeedsReview,
				TransactionID:            tx.ID,
			}
			if err := e.store.AddContribution(ctx, c); err != nil {
				e.rollback(ctx, tx)
				return Outcome{}, ledger.WrapPersistence("AddContribution", err)
			}
			o.ContributionID = c.ID
			o.GoalID = c.GoalID
			if cand.NeedsReview {
				e.holds.add(&Hold{
					ID:             uuid.NewString(),
					Kind:           HoldGoalAmbiguity,
					LedgerID:       tx.LedgerID,
					TransactionID:  tx.ID,
					ContributionID: c.ID,
					GoalID:         c.GoalID,
					Reason:         "goal attribution needs review",
					CreatedAt:      time.Now(),
				})
				o.Kind = OutcomeHeldAmbiguousGoal
			}
		}
	}

	if e.exporter != nil {
		txCopy := *tx
		go func() {
			xctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.exporter.ExportTransaction(xctx, &txCopy); err != nil {
				e.log.Warn().Err(err).Str("transaction_id", txCopy.ID).Msg("Analytics export failed")
			}
		}()
	}

	e.emit(o)
	return o, nil
}

func (e *Engine) rollback(ctx context.Context, tx *ledger.Transaction) {
	if err := e.store.DeleteTransaction(ctx, tx.ID); err != nil {
		e.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Rollback of partial commit failed")
	}
}

// ConfirmHighValue commits a transaction held by the high-value gate. Goal
// matching is deferred until confirmation, so a confirmed deposit may still
// produce a contribution.
func (e *Engine) ConfirmHighValue(ctx context.Context, txID string) (Outcome, error) {
	tx, unlock, err := e.lockedTransaction(ctx, txID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	if tx.Status != ledger.StatusHeldHighValue {
		return Outcome{}, fmt.Errorf("ConfirmHighValue %s (status %s): %w", txID, tx.Status, ErrNotHeld)
	}
	if err := e.store.UpdateTransactionStatus(ctx, txID, ledger.StatusCommitted); err != nil {
		return Outcome{}, ledger.WrapPersistence("UpdateTransactionStatus", err)
	}
	e.holds.removeWhere(func(h *Hold) bool { return h.TransactionID == txID })
	tx.Status = ledger.StatusCommitted
	return e.commitLocked(ctx, tx)
}

// DismissHighValue permanently discards a held high-value transaction. This
// is a user discard, not a duplicate rejection.
func (e *Engine) DismissHighValue(ctx context.Context, txID string) error {
	tx, unlock, err := e.lockedTransaction(ctx, txID)
	if err != nil {
		return err
	}
	defer unlock()

	if tx.Status != ledger.StatusHeldHighValue {
		return fmt.Errorf("DismissHighValue %s (status %s): %w", txID, tx.Status, ErrNotHeld)
	}
	if err := e.store.UpdateTransactionStatus(ctx, txID, ledger.StatusDismissed); err != nil {
		return ledger.WrapPersistence("UpdateTransactionStatus", err)
	}
	e.holds.removeWhere(func(h *Hold) bool { return h.TransactionID == txID })
	o := e.outcome(OutcomeDismissed, tx)
	e.emit(o)
	return nil
}

// ResolveDuplicateHold settles a duplicate decision. keep commits the
// transaction (this is also the undo path for a certain-duplicate
// rejection); discard dismisses it.
func (e *Engine) ResolveDuplicateHold(ctx context.Context, txID string, keep bool) (Outcome, error) {
	tx, unlock, err := e.lockedTransaction(ctx, txID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	if tx.Status != ledger.StatusHeldDuplicate && tx.Status != ledger.StatusRejectedDuplicate {
		return Outcome{}, fmt.Errorf("ResolveDuplicateHold %s (status %s): %w", txID, tx.Status, ErrNotHeld)
	}

	e.holds.removeWhere(func(h *Hold) bool { return h.TransactionID == txID })

	if !keep {
		if err := e.store.UpdateTransactionStatus(ctx, txID, ledger.StatusDismissed); err != nil {
			return Outcome{}, ledger.WrapPersistence("UpdateTransactionStatus", err)
		}
		tx.Status = ledger.StatusDismissed
		o := e.outcome(OutcomeDismissed, tx)
		e.emit(o)
		return o, nil
	}

	if err := e.store.UpdateTransactionStatus(ctx, txID, ledger.StatusCommitted); err != nil {
		return Outcome{}, ledger.WrapPersistence("UpdateTransactionStatus", err)
	}
	tx.Status = ledger.StatusCommitted
	return e.commitLocked(ctx, tx)
}

// ResolveGoalAmbiguity settles a contribution flagged for review. goalID
// selects the goal to keep it on (possibly the current one); an empty goalID
// discards the contribution, decrementing its goal total.
func (e *Engine) ResolveGoalAmbiguity(ctx context.Context, contributionID, goalID string) error {
	c, err := e.store.GetContribution(ctx, contributionID)
	if err != nil {
		return ledger.WrapPersistence("GetContribution", err)
	}
	g, err := e.store.GetGoal(ctx, c.GoalID)
	if err != nil {
		return ledger.WrapPersistence("GetGoal", err)
	}

	lock := e.ledgerLock(g.LedgerID)
	lock.Lock()
	defer lock.Unlock()

	// The hold comes off the queue only once the store mutation succeeds;
	// a persistence failure leaves the decision pending and retryable.
	switch goalID {
	case "":
		if err := e.store.DeleteContribution(ctx, contributionID); err != nil {
			return ledger.WrapPersistence("DeleteContribution", err)
		}

	case c.GoalID:
		c.NeedsReview = false
		c.IsModified = true
		if err := e.store.UpdateContribution(ctx, c); err != nil {
			return ledger.WrapPersistence("UpdateContribution", err)
		}

	default:
		// Reattach: delete from the current goal, add to the chosen one.
		// Same id, so the audit trail keeps pointing at one contribution.
		if err := e.store.DeleteContribution(ctx, contributionID); err != nil {
			return ledger.WrapPersistence("DeleteContribution", err)
		}
		moved := *c
		moved.GoalID = goalID
		moved.NeedsReview = false
		moved.IsModified = true
		if err := e.store.AddContribution(ctx, &moved); err != nil {
			// Try to restore the original attachment before reporting.
			if rerr := e.store.AddContribution(ctx, c); rerr != nil {
				e.log.Error().Err(rerr).Str("contribution_id", c.ID).Msg("Restore after failed reattach failed")
			}
			return ledger.WrapPersistence("AddContribution", err)
		}
	}

	e.holds.removeWhere(func(h *Hold) bool { return h.ContributionID == contributionID })
	return nil
}

// DeleteGoal removes a goal and cascade-invalidates any pending holds that
// reference it.
func (e *Engine) DeleteGoal(ctx context.Context, goalID string) error {
	g, err := e.store.GetGoal(ctx, goalID)
	if err != nil {
		return ledger.WrapPersistence("GetGoal", err)
	}

	lock := e.ledgerLock(g.LedgerID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.store.DeleteGoal(ctx, goalID); err != nil {
		return ledger.WrapPersistence("DeleteGoal", err)
	}
	removed := e.holds.removeWhere(func(h *Hold) bool { return h.GoalID == goalID })
	for _, h := range removed {
		e.log.Info().Str("hold_id", h.ID).Str("goal_id", goalID).Msg("Hold invalidated by goal deletion")
	}
	return nil
}

// Holds returns the pending decisions for a ledger, oldest first.
func (e *Engine) Holds(ledgerID string) []*Hold {
	return e.holds.list(ledgerID)
}

// PendingDecisionCount is the UI badge: held duplicates plus ambiguous goal
// matches awaiting a decision.
func (e *Engine) PendingDecisionCount(ledgerID string) int {
	return e.holds.pendingDecisions(ledgerID)
}

func (e *Engine) ledgerLock(ledgerID string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	lock, ok := e.locks[ledgerID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[ledgerID] = lock
	}
	return lock
}

// lockedTransaction loads a transaction, takes its ledger lock and reloads
// it under the lock so the caller sees a stable status.
func (e *Engine) lockedTransaction(ctx context.Context, txID string) (*ledger.Transaction, func(), error) {
	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, nil, ledger.WrapPersistence("GetTransaction", err)
	}
	lock := e.ledgerLock(tx.LedgerID)
	lock.Lock()
	tx, err = e.store.GetTransaction(ctx, txID)
	if err != nil {
		lock.Unlock()
		return nil, nil, ledger.WrapPersistence("GetTransaction", err)
	}
	return tx, lock.Unlock, nil
}

func (e *Engine) outcome(kind OutcomeKind, tx *ledger.Transaction) Outcome {
	return Outcome{
		Kind:          kind,
		LedgerID:      tx.LedgerID,
		TransactionID: tx.ID,
		RuleID:        tx.RuleID,
		At:            time.Now(),
	}
}

func (e *Engine) emit(o Outcome) {
	e.log.Info().
		Str("kind", string(o.Kind)).
		Str("ledger_id", o.LedgerID).
		Str("transaction_id", o.TransactionID).
		Str("matched_id", o.MatchedID).
		Str("rule_id", o.RuleID).
		Str("goal_id", o.GoalID).
		Msg("Reconciliation outcome")

	if e.exporter != nil {
		go func() {
			xctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.exporter.ExportOutcome(xctx, o); err != nil {
				e.log.Warn().Err(err).Str("kind", string(o.Kind)).Msg("Outcome export failed")
			}
		}()
	}

	e.subMu.RLock()
	subs := make([]Subscriber, len(e.subs))
	copy(subs, e.subs)
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(o)
	}
}
