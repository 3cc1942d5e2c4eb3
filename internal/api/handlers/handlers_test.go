package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/seojinlee/notiledger/internal/allowance"
	"github.com/seojinlee/notiledger/internal/jobs"
	"github.com/seojinlee/notiledger/internal/jobs/inmemory"
	"github.com/seojinlee/notiledger/internal/ledger"
	"github.com/seojinlee/notiledger/internal/ledger/memory"
	"github.com/seojinlee/notiledger/internal/normalize"
	"github.com/seojinlee/notiledger/internal/parse"
	"github.com/seojinlee/notiledger/internal/reconcile"
	"github.com/seojinlee/notiledger/internal/source"
)

type testServer struct {
	mux    *http.ServeMux
	store  ledger.Store
	engine *reconcile.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg, err := source.NewRegistry(source.Builtin()...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := memory.NewStore()
	engine := reconcile.New(reconcile.Deps{
		Store:      store,
		Parser:     parse.New(reg),
		Normalizer: normalize.New(reg, normalize.DefaultMerchantCategories()),
		Log:        zerolog.Nop(),
	}, reconcile.Config{HighValueThreshold: 1000000, ActingUser: "Kim Mina"})
	scheduler := allowance.NewScheduler(engine, zerolog.Nop())

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(16, 1, jobStore)
	t.Cleanup(func() { queue.Close() })
	if err := queue.Start(context.Background(), func(ctx context.Context, job jobs.Job) error {
		ij := job.(*jobs.IngestNotificationJob)
		raw := reconcile.RawNotification{SourceID: ij.SourceID, Text: ij.RawText, PostedAt: ij.PostedAt}
		if ij.ManualText {
			_, err := engine.IngestManualText(ctx, ij.LedgerID, raw)
			return err
		}
		_, err := engine.IngestNotification(ctx, ij.LedgerID, raw)
		return err
	}); err != nil {
		t.Fatalf("queue.Start: %v", err)
	}

	log := zerolog.Nop()
	ingest := NewIngestHandler(queue, jobStore, log)
	holds := NewHoldsHandler(engine, log)
	txs := NewTransactionsHandler(store, log)
	goals := NewGoalsHandler(store, engine, log)
	allow := NewAllowanceHandler(scheduler, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ledgers/{ledger}/notifications", ingest.IngestNotification)
	mux.HandleFunc("POST /api/ledgers/{ledger}/manual-text", ingest.IngestManualText)
	mux.HandleFunc("GET /api/jobs/{job}", ingest.GetJob)
	mux.HandleFunc("GET /api/ledgers/{ledger}/holds", holds.List)
	mux.HandleFunc("GET /api/ledgers/{ledger}/holds/count", holds.Count)
	mux.HandleFunc("POST /api/transactions/{transaction}/confirm", holds.ConfirmHighValue)
	mux.HandleFunc("POST /api/transactions/{transaction}/dismiss", holds.DismissHighValue)
	mux.HandleFunc("POST /api/transactions/{transaction}/resolve-duplicate", holds.ResolveDuplicate)
	mux.HandleFunc("POST /api/contributions/{contribution}/resolve", holds.ResolveGoalAmbiguity)
	mux.HandleFunc("GET /api/ledgers/{ledger}/transactions", txs.List)
	mux.HandleFunc("GET /api/transactions/{transaction}", txs.Get)
	mux.HandleFunc("PUT /api/transactions/{transaction}", txs.UpdateDetails)
	mux.HandleFunc("GET /api/ledgers/{ledger}/totals", txs.Totals)
	mux.HandleFunc("POST /api/ledgers/{ledger}/goals", goals.Create)
	mux.HandleFunc("GET /api/ledgers/{ledger}/goals", goals.List)
	mux.HandleFunc("DELETE /api/goals/{goal}", goals.Delete)
	mux.HandleFunc("GET /api/goals/{goal}/contributions", goals.Contributions)
	mux.HandleFunc("PUT /api/ledgers/{ledger}/dependents/{dependent}/allowance", allow.Set)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/start", allow.Start)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/give", allow.Give)
	mux.HandleFunc("POST /api/dependents/{dependent}/allowance/cancel", allow.Cancel)

	return &testServer{mux: mux, store: store, engine: engine}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func TestIngestEndpointQueuesJob(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/ledgers/house/notifications",
		`{"source_id":"oobank","text":"OOBank: -15,000won used at CoffeeShop, balance 85,000"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	var resp struct {
		JobID string `json:"job_id"`
	}
	decode(t, w, &resp)
	if resp.JobID == "" {
		t.Fatal("expected a job id")
	}

	// The worker commits the transaction shortly after.
	deadline := time.Now().Add(5 * time.Second)
	for {
		txs, err := ts.store.ListTransactions(context.Background(), "house", ledger.TransactionFilter{})
		if err != nil {
			t.Fatalf("ListTransactions: %v", err)
		}
		if len(txs) == 1 {
			if txs[0].Amount != 15000 {
				t.Errorf("amount = %d, want 15000", txs[0].Amount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the worker to commit")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestIngestEndpointRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/ledgers/house/notifications", `{"text":"no source"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing source_id: status = %d, want 400", w.Code)
	}
	w = ts.do(t, http.MethodPost, "/api/ledgers/house/notifications", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", w.Code)
	}
}

func TestHoldsAndConfirmFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	o, err := ts.engine.IngestNotification(ctx, "house", reconcile.RawNotification{
		SourceID: "oobank",
		Text:     "OOBank: 2,000,000won deposited to acct *1234 from Kim Mina, balance 3,000,000",
		PostedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("IngestNotification: %v", err)
	}
	if o.Kind != reconcile.OutcomeHeldHighValue {
		t.Fatalf("outcome = %s, want HELD_HIGH_VALUE", o.Kind)
	}

	w := ts.do(t, http.MethodGet, "/api/ledgers/house/holds", "")
	if w.Code != http.StatusOK {
		t.Fatalf("holds list: status = %d", w.Code)
	}
	var holdsResp struct {
		Count int `json:"count"`
	}
	decode(t, w, &holdsResp)
	if holdsResp.Count != 1 {
		t.Errorf("holds count = %d, want 1", holdsResp.Count)
	}

	w = ts.do(t, http.MethodPost, "/api/transactions/"+o.TransactionID+"/confirm", "")
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: status = %d: %s", w.Code, w.Body.String())
	}

	// A second confirm conflicts.
	w = ts.do(t, http.MethodPost, "/api/transactions/"+o.TransactionID+"/confirm", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second confirm: status = %d, want 409", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/ledgers/house/totals", "")
	var totals map[string]int64
	decode(t, w, &totals)
	if totals["income"] != 2000000 {
		t.Errorf("income total = %d, want 2000000", totals["income"])
	}
}

func TestGoalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/ledgers/house/goals",
		`{"name":"Jeju trip","target_amount":1000000,"auto_deposit":{"bank_name":"OOBank","account_tail":"1234"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create goal: status = %d: %s", w.Code, w.Body.String())
	}
	var goal ledger.SavingsGoal
	decode(t, w, &goal)

	// A matching deposit auto-contributes.
	if _, err := ts.engine.IngestNotification(context.Background(), "house", reconcile.RawNotification{
		SourceID: "oobank",
		Text:     "OOBank: 50,000won deposited to acct *1234 from Kim Mina, balance 135,000",
		PostedAt: time.Now(),
	}); err != nil {
		t.Fatalf("IngestNotification: %v", err)
	}

	w = ts.do(t, http.MethodGet, "/api/goals/"+goal.ID+"/contributions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("contributions: status = %d", w.Code)
	}
	var contribResp struct {
		Count int `json:"count"`
	}
	decode(t, w, &contribResp)
	if contribResp.Count != 1 {
		t.Errorf("contributions = %d, want 1", contribResp.Count)
	}

	w = ts.do(t, http.MethodDelete, "/api/goals/"+goal.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete goal: status = %d", w.Code)
	}
	w = ts.do(t, http.MethodDelete, "/api/goals/"+goal.ID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", w.Code)
	}
}

func TestAllowanceEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/ledgers/house/dependents/dep-1/allowance",
		`{"name":"Minjun","amount":30000,"frequency":"MONTHLY"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set allowance: status = %d: %s", w.Code, w.Body.String())
	}

	// Give before start conflicts and creates nothing.
	w = ts.do(t, http.MethodPost, "/api/dependents/dep-1/allowance/give", `{}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("give before start: status = %d, want 409", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/dependents/dep-1/allowance/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/dependents/dep-1/allowance/give", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("give: status = %d: %s", w.Code, w.Body.String())
	}
	var o reconcile.Outcome
	decode(t, w, &o)
	if o.Kind != reconcile.OutcomeCommitted {
		t.Errorf("give outcome = %s, want COMMITTED", o.Kind)
	}

	w = ts.do(t, http.MethodPost, "/api/dependents/dep-1/allowance/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d", w.Code)
	}
}
