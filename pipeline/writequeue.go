package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thaistat/poplake/parser"
	"github.com/thaistat/poplake/store"
)

// loadBatch is one year's parsed records awaiting the single writer.
type loadBatch struct {
	year        int
	records     []parser.Record
	submittedAt time.Time
	resultChan  chan loadResult
}

// loadResult is the writer's feedback for one batch. Failed counts records
// rejected individually (duplicate key, bad row); Err is reserved for
// store-level failures that are fatal for the run.
type loadResult struct {
	Loaded int
	Failed int
	Err    error
}

// WriteQueue serializes all staging-store writes through one writer
// goroutine, regardless of which year worker produced them. Stopping the
// queue drains every pending batch, which is the ordering barrier between
// "all loads done" and export.
type WriteQueue struct {
	queue   chan *loadBatch
	done    chan struct{}
	wg      sync.WaitGroup
	st      *store.Store
	logger  *zap.Logger
	timeout time.Duration
}

// NewWriteQueue creates a write queue over the shared store.
func NewWriteQueue(st *store.Store, size int, timeout time.Duration, logger *zap.Logger) *WriteQueue {
	return &WriteQueue{
		queue:   make(chan *loadBatch, size),
		done:    make(chan struct{}),
		st:      st,
		logger:  logger,
		timeout: timeout,
	}
}

// Start launches the writer goroutine.
func (wq *WriteQueue) Start(ctx context.Context) {
	wq.wg.Add(1)
	go func() {
		defer wq.wg.Done()
		wq.writerLoop(ctx)
	}()
}

// writerLoop drains the queue and writes batches to the store serially.
func (wq *WriteQueue) writerLoop(ctx context.Context) {
	wq.logger.Debug("write queue started")
	for {
		select {
		case <-ctx.Done():
			wq.drainQueue()
			return
		case <-wq.done:
			wq.drainQueue()
			return
		case batch := <-wq.queue:
			wq.writeBatch(batch)
		}
	}
}

// drainQueue writes any batches still queued at shutdown.
func (wq *WriteQueue) drainQueue() {
	for {
		select {
		case batch := <-wq.queue:
			wq.writeBatch(batch)
		default:
			wq.logger.Debug("write queue drained")
			return
		}
	}
}

func (wq *WriteQueue) writeBatch(batch *loadBatch) {
	start := time.Now()
	loaded, recordErrs, err := wq.st.InsertYear(batch.year, batch.records)

	for _, recErr := range recordErrs {
		wq.logger.Warn("record load failed",
			zap.Int("year", batch.year),
			zap.Error(recErr))
	}

	result := loadResult{Loaded: loaded, Failed: len(recordErrs), Err: err}
	select {
	case batch.resultChan <- result:
	default:
		// Submitter gave up waiting; don't block the writer.
	}

	if err != nil {
		wq.logger.Error("batch write failed",
			zap.Int("year", batch.year),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}

	wq.logger.Info("batch written",
		zap.Int("year", batch.year),
		zap.Int("loaded", loaded),
		zap.Int("failed", len(recordErrs)),
		zap.Duration("queue_wait", start.Sub(batch.submittedAt)),
		zap.Duration("took", time.Since(start)))
}

// Load submits one year's records and waits for the writer's feedback. The
// returned error covers submission/wait problems (queue full past the
// timeout, context cancelled); store-level failures travel in the result.
func (wq *WriteQueue) Load(ctx context.Context, year int, records []parser.Record) (loadResult, error) {
	batch := &loadBatch{
		year:        year,
		records:     records,
		submittedAt: time.Now(),
		resultChan:  make(chan loadResult, 1),
	}

	select {
	case wq.queue <- batch:
	case <-time.After(wq.timeout):
		return loadResult{}, fmt.Errorf("write queue submission timeout after %v (queue full)", wq.timeout)
	case <-ctx.Done():
		return loadResult{}, ctx.Err()
	}

	select {
	case result := <-batch.resultChan:
		return result, nil
	case <-ctx.Done():
		return loadResult{}, ctx.Err()
	}
}

// Stop shuts the writer down after draining pending batches. It returns
// once the writer goroutine has exited, so no write can be in flight
// afterwards.
func (wq *WriteQueue) Stop() {
	close(wq.done)
	wq.wg.Wait()
}
