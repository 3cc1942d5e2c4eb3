package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seojinlee/notiledger/internal/jobs"
)

func TestQueueDeliversJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(16, 2, store)
	defer q.Close()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup

	handler := func(ctx context.Context, job jobs.Job) error {
		defer wg.Done()
		mu.Lock()
		seen[job.GetID()] = true
		mu.Unlock()
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 5; i++ {
		wg.Add(1)
		err := q.PublishIngest(ctx, &jobs.IngestNotificationJob{
			JobID:    fmt.Sprintf("job-%d", i),
			LedgerID: "house",
			SourceID: "oobank",
			RawText:  "OOBank: -15,000won used at CoffeeShop, balance 85,000",
			PostedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("PublishIngest: %v", err)
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Errorf("handled %d jobs, want 5", len(seen))
	}
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	q := NewQueue(16, 1, store)
	defer q.Close()

	attempts := make(chan int, 8)
	var n int
	var mu sync.Mutex
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		n++
		count := n
		mu.Unlock()
		attempts <- count
		if count == 1 {
			return fmt.Errorf("transient store failure")
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.IngestNotificationJob{
		JobID:      "retry-1",
		LedgerID:   "house",
		SourceID:   "oobank",
		RawText:    "OOBank: -15,000won used at CoffeeShop, balance 85,000",
		PostedAt:   time.Now(),
		MaxRetries: 2,
	}
	if err := q.PublishIngest(ctx, job); err != nil {
		t.Fatalf("PublishIngest: %v", err)
	}

	deadline := time.After(10 * time.Second)
	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("attempt %d, want %d", got, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}

	// The second attempt succeeded; the stored job converges to completed.
	var stored *jobs.IngestNotificationJob
	for i := 0; i < 50; i++ {
		var err error
		stored, err = store.GetJob(ctx, "retry-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if stored.Status == jobs.JobStatusCompleted {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if stored.Status != jobs.JobStatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", stored.RetryCount)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	q := NewQueue(1, 1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := q.PublishIngest(context.Background(), &jobs.IngestNotificationJob{JobID: "late"})
	if err == nil {
		t.Fatal("expected error publishing to a closed queue")
	}
}

func TestStoreFiltering(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for i := 0; i < 3; i++ {
		job := &jobs.IngestNotificationJob{
			JobID:    fmt.Sprintf("job-%d", i),
			LedgerID: "house",
			Status:   jobs.JobStatusPending,
		}
		if i == 2 {
			job.LedgerID = "other"
			job.Status = jobs.JobStatusFailed
		}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	byLedger, err := store.ListJobs(ctx, jobs.JobFilter{LedgerID: "house"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(byLedger) != 2 {
		t.Errorf("ledger filter returned %d jobs, want 2", len(byLedger))
	}

	byStatus, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].JobID != "job-2" {
		t.Errorf("status filter returned %v", byStatus)
	}

	if err := store.SaveJob(ctx, &jobs.IngestNotificationJob{}); err == nil {
		t.Error("expected error saving a job without an id")
	}
}
