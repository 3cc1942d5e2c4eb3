// Package analytics ships committed transactions and reconciliation outcomes
// to BigQuery for reporting. Export is best effort and asynchronous; the
// ledger store stays the source of truth.
package analytics

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/reconcile"
)

const (
	transactionsTable = "transactions"
	outcomesTable     = "reconciliation_outcomes"
)

// TransactionRow is the BigQuery shape of a committed transaction.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	LedgerID      string `bigquery:"ledger_id"`      // REQUIRED

	OccurredDate civil.Date `bigquery:"occurred_date"` // REQUIRED
	OccurredTS   time.Time  `bigquery:"occurred_ts"`   // REQUIRED

	Direction string `bigquery:"direction"` // REQUIRED
	Amount    int64  `bigquery:"amount"`    // REQUIRED, smallest currency unit

	Description string              `bigquery:"description"`
	Category    bigquery.NullString `bigquery:"category"`
	Merchant    bigquery.NullString `bigquery:"merchant"`
	SourceName  bigquery.NullString `bigquery:"source_name"`
	Provenance  string              `bigquery:"provenance"`
	DependentID bigquery.NullString `bigquery:"dependent_id"`
	NeedsReview bool                `bigquery:"needs_review"`

	ExportedTS time.Time `bigquery:"exported_ts"` // REQUIRED
}

// OutcomeRow is the BigQuery shape of one reconciliation decision.
type OutcomeRow struct {
	Kind          string              `bigquery:"kind"`      // REQUIRED
	LedgerID      string              `bigquery:"ledger_id"` // REQUIRED
	TransactionID bigquery.NullString `bigquery:"transaction_id"`
	MatchedID     bigquery.NullString `bigquery:"matched_id"`
	GoalID        bigquery.NullString `bigquery:"goal_id"`
	RuleID        bigquery.NullString `bigquery:"rule_id"`
	Error         bigquery.NullString `bigquery:"error"`
	DecidedTS     time.Time           `bigquery:"decided_ts"` // REQUIRED
}

// DailyTotal is one day's committed amount for one direction.
type DailyTotal struct {
	Day       civil.Date `bigquery:"day"`
	Direction string     `bigquery:"direction"`
	Total     int64      `bigquery:"total"`
}

// Exporter writes rows into a BigQuery dataset. It satisfies the engine's
// exporter contract.
type Exporter struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewExporter creates an exporter for the given project and dataset.
func NewExporter(ctx context.Context, project, dataset string) (*Exporter, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewExporter: bigquery client: %w", err)
	}
	return &Exporter{client: client, project: project, dataset: dataset}, nil
}

// ExportTransaction streams one committed transaction row.
func (e *Exporter) ExportTransaction(ctx context.Context, tx *ledger.Transaction) error {
	row := &TransactionRow{
		TransactionID: tx.ID,
		LedgerID:      tx.LedgerID,
		OccurredDate:  civil.DateOf(tx.OccurredAt),
		OccurredTS:    tx.OccurredAt,
		Direction:     string(tx.Direction),
		Amount:        tx.Amount,
		Description:   tx.Description,
		Merchant:      nullString(tx.Merchant),
		SourceName:    nullString(tx.SourceName),
		Provenance:    string(tx.Provenance),
		DependentID:   nullString(tx.DependentID),
		NeedsReview:   tx.NeedsReview,
		ExportedTS:    time.Now().UTC(),
	}
	if tx.Category != nil {
		row.Category = nullString(tx.Category.Display())
	}

	inserter := e.client.DatasetInProject(e.project, e.dataset).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, []*TransactionRow{row}); err != nil {
		return fmt.Errorf("ExportTransaction: inserting row: %w", err)
	}
	return nil
}

// ExportOutcome streams one reconciliation outcome row.
func (e *Exporter) ExportOutcome(ctx context.Context, o reconcile.Outcome) error {
	row := &OutcomeRow{
		Kind:          string(o.Kind),
		LedgerID:      o.LedgerID,
		TransactionID: nullString(o.TransactionID),
		MatchedID:     nullString(o.MatchedID),
		GoalID:        nullString(o.GoalID),
		RuleID:        nullString(o.RuleID),
		Error:         nullString(o.Error),
		DecidedTS:     o.At,
	}
	inserter := e.client.DatasetInProject(e.project, e.dataset).Table(outcomesTable).Inserter()
	if err := inserter.Put(ctx, []*OutcomeRow{row}); err != nil {
		return fmt.Errorf("ExportOutcome: inserting row: %w", err)
	}
	return nil
}

// DailyTotals aggregates committed amounts per day and direction over a date
// range, for the spending report surface.
func (e *Exporter) DailyTotals(ctx context.Context, ledgerID string, start, end time.Time) ([]*DailyTotal, error) {
	q := e.client.Query(fmt.Sprintf(`
		SELECT
			occurred_date AS day,
			direction,
			SUM(amount) AS total
		FROM `+"`%s.%s.%s`"+`
		WHERE ledger_id = @ledger_id
		  AND occurred_date BETWEEN @start AND @end
		GROUP BY day, direction
		ORDER BY day`, e.project, e.dataset, transactionsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ledger_id", Value: ledgerID},
		{Name: "start", Value: civil.DateOf(start)},
		{Name: "end", Value: civil.DateOf(end)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("DailyTotals: running query: %w", err)
	}

	var totals []*DailyTotal
	for {
		var row DailyTotal
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DailyTotals: reading row: %w", err)
		}
		totals = append(totals, &row)
	}
	return totals, nil
}

// Close releases the underlying BigQuery client.
func (e *Exporter) Close() error {
	return e.client.Close()
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
