package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thaistat/poplake/parser"
	"github.com/thaistat/poplake/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{
		OnConflict: store.ConflictReplace,
		Reset:      store.ResetPerYear,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func makeRecords(year, start, n int) []parser.Record {
	recs := make([]parser.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, parser.Record{
			DataYear: year,
			YYMM:     "6612",
			CCCode:   start + i,
			CCDesc:   fmt.Sprintf("area %d", start+i),
			Male:     10,
			Female:   10,
			Total:    20,
			House:    5,
		})
	}
	return recs
}

func TestWriteQueueLoad(t *testing.T) {
	st := openTestStore(t)
	wq := NewWriteQueue(st, 4, time.Second, zap.NewNop())
	wq.Start(context.Background())

	result, err := wq.Load(context.Background(), 2023, makeRecords(2023, 1, 10))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Loaded != 10 || result.Failed != 0 || result.Err != nil {
		t.Errorf("result = %+v, want 10 loaded", result)
	}
	wq.Stop()

	count, err := st.CountByYear(2023)
	if err != nil {
		t.Fatalf("CountByYear failed: %v", err)
	}
	if count != 10 {
		t.Errorf("count = %d, want 10", count)
	}
}

// Concurrent submitters with distinct keys must land exactly once each,
// the same outcome a sequential run would produce.
func TestWriteQueueConcurrentSubmitters(t *testing.T) {
	const (
		workers        = 8
		perWorker      = 125
		wantTotal      = workers * perWorker // 1000 distinct (year, code) keys
		recordsPerYear = perWorker
	)

	st := openTestStore(t)
	wq := NewWriteQueue(st, 4, 10*time.Second, zap.NewNop())
	wq.Start(context.Background())

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		year := 2000 + w
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := wq.Load(context.Background(), year, makeRecords(year, 1, recordsPerYear))
			if err != nil {
				errs <- err
				return
			}
			if result.Err != nil {
				errs <- result.Err
				return
			}
			if result.Loaded != recordsPerYear || result.Failed != 0 {
				errs <- fmt.Errorf("year %d: loaded %d failed %d", year, result.Loaded, result.Failed)
			}
		}()
	}
	wg.Wait()
	wq.Stop()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	total := 0
	for w := 0; w < workers; w++ {
		count, err := st.CountByYear(2000 + w)
		if err != nil {
			t.Fatalf("CountByYear failed: %v", err)
		}
		total += count
	}
	if total != wantTotal {
		t.Errorf("total rows = %d, want %d", total, wantTotal)
	}
}

// Stop must write every batch already submitted before it returns.
func TestWriteQueueStopDrains(t *testing.T) {
	st := openTestStore(t)
	wq := NewWriteQueue(st, 8, time.Second, zap.NewNop())
	wq.Start(context.Background())

	var wg sync.WaitGroup
	for year := 2020; year < 2024; year++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := wq.Load(context.Background(), year, makeRecords(year, 1, 5)); err != nil {
				t.Errorf("Load(%d) failed: %v", year, err)
			}
		}()
	}
	wg.Wait()
	wq.Stop()

	for year := 2020; year < 2024; year++ {
		count, err := st.CountByYear(year)
		if err != nil {
			t.Fatalf("CountByYear failed: %v", err)
		}
		if count != 5 {
			t.Errorf("year %d: count = %d, want 5", year, count)
		}
	}
}

func TestWriteQueueSubmissionTimeout(t *testing.T) {
	st := openTestStore(t)
	// Writer never started, queue capacity zero: submission cannot proceed.
	wq := NewWriteQueue(st, 0, 50*time.Millisecond, zap.NewNop())

	_, err := wq.Load(context.Background(), 2023, makeRecords(2023, 1, 1))
	if err == nil {
		t.Fatal("expected submission timeout error")
	}
}
