// Package pipeline drives the yearly ingestion run: year discovery,
// fetch/parse fan-out, serialized loading into the staging store, and the
// partition export behind the all-loads-done barrier.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thaistat/poplake/parser"
	"github.com/thaistat/poplake/source"
	"github.com/thaistat/poplake/store"
)

// Mode selects the year discovery strategy.
type Mode string

const (
	// ModeBounded scans a fixed [start, end] range with concurrent year
	// workers.
	ModeBounded Mode = "bounded"
	// ModeProbe scans ascending years sequentially and stops at the first
	// year the upstream does not have. Probing cannot be parallelized
	// without overshooting the true upper bound.
	ModeProbe Mode = "probe"
)

// Fetcher retrieves one year's raw extract. Implemented by source.Client.
type Fetcher interface {
	FetchYear(ctx context.Context, year int) source.Outcome
}

// Options configures one pipeline run.
type Options struct {
	Mode         Mode
	StartYear    int
	EndYear      int // bounded mode only
	Workers      int // bounded-mode year fan-out
	QueueSize    int
	QueueTimeout time.Duration
	ExportDir    string
}

// Orchestrator owns the run state machine: fetch/parse/load per year, then
// one export over the whole store once every load has drained.
type Orchestrator struct {
	opts    Options
	fetcher Fetcher
	st      *store.Store
	queue   *WriteQueue
	report  *RunReport
	logger  *zap.Logger
}

// New creates an orchestrator over the shared store.
func New(opts Options, fetcher Fetcher, st *store.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		opts:    opts,
		fetcher: fetcher,
		st:      st,
		queue:   NewWriteQueue(st, opts.QueueSize, opts.QueueTimeout, logger),
		report:  NewRunReport(),
		logger:  logger,
	}
}

// Run executes the full pipeline and returns the finalized report. The
// report is always usable, even when the run ends with a fatal error.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	start := time.Now()
	o.logger.Info("ingestion starting",
		zap.String("mode", string(o.opts.Mode)),
		zap.Int("start_year", o.opts.StartYear),
		zap.Int("end_year", o.opts.EndYear),
		zap.Int("workers", o.opts.Workers))

	o.queue.Start(ctx)

	var runErr error
	switch o.opts.Mode {
	case ModeProbe:
		runErr = o.runProbe(ctx)
	case ModeBounded:
		runErr = o.runBounded(ctx)
	default:
		runErr = fmt.Errorf("unknown pipeline mode %q", o.opts.Mode)
	}

	// Barrier: every submitted load has been written once Stop returns.
	// Export must never run concurrently with an in-flight load.
	o.queue.Stop()

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		o.report.SetStop(StopFatal)
		o.logSummary(time.Since(start))
		return o.report, runErr
	}

	if err := o.st.ExportAll(o.opts.ExportDir); err != nil {
		o.report.SetStop(StopFatal)
		o.logSummary(time.Since(start))
		return o.report, err
	}
	exportRunsTotal.Inc()

	runDurationSeconds.Observe(time.Since(start).Seconds())
	o.logSummary(time.Since(start))
	return o.report, nil
}

// runBounded fans fetch+parse+load out over the configured year range with
// a bounded worker pool. Year-level failures are recorded and never abort
// the run; only store-level failures do.
func (o *Orchestrator) runBounded(ctx context.Context) error {
	o.report.SetStop(StopExhausted)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for year := o.opts.StartYear; year <= o.opts.EndYear; year++ {
		g.Go(func() error {
			return o.processYear(ctx, year)
		})
	}
	return g.Wait()
}

// runProbe scans ascending years one at a time, relying on "not found" as
// the stop signal.
func (o *Orchestrator) runProbe(ctx context.Context) error {
	for year := o.opts.StartYear; ; year++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := o.fetcher.FetchYear(ctx, year)
		fetchYearsTotal.WithLabelValues(outcome.Status.String()).Inc()

		switch outcome.Status {
		case source.StatusNotFound:
			o.report.RecordMissing(year)
			o.report.SetStop(StopNotFound)
			o.logger.Info("reached first unpublished year, stopping scan",
				zap.Int("year", year))
			return nil
		case source.StatusTransient:
			// Probing cannot tell "absent" from "unreachable", so a
			// transient failure also stops the scan. The distinct stop
			// reason lets a re-run tell the two apart.
			o.report.RecordFetchFailure(year, outcome.Reason)
			o.report.SetStop(StopTransient)
			o.logger.Warn("transient fetch failure, stopping scan",
				zap.Int("year", year),
				zap.String("reason", outcome.Reason))
			return nil
		}

		o.report.RecordFetched(year)
		if err := o.loadYear(ctx, year, outcome.Blob); err != nil {
			return err
		}
	}
}

// processYear runs the Fetching -> Parsing -> Loading stages for one year in
// bounded mode. It returns an error only when the run cannot continue.
func (o *Orchestrator) processYear(ctx context.Context, year int) error {
	outcome := o.fetcher.FetchYear(ctx, year)
	fetchYearsTotal.WithLabelValues(outcome.Status.String()).Inc()

	switch outcome.Status {
	case source.StatusNotFound:
		o.report.RecordMissing(year)
		return nil
	case source.StatusTransient:
		o.report.RecordFetchFailure(year, outcome.Reason)
		o.logger.Warn("skipping year after transient fetch failure",
			zap.Int("year", year),
			zap.String("reason", outcome.Reason))
		return nil
	}

	o.report.RecordFetched(year)
	return o.loadYear(ctx, year, outcome.Blob)
}

// loadYear parses a fetched blob and pushes the good records through the
// write queue. Per-line and per-record failures are counted, not fatal.
func (o *Orchestrator) loadYear(ctx context.Context, year int, blob string) error {
	results := parser.ParseBlob(year, blob)

	records := make([]parser.Record, 0, len(results))
	parseFailures := 0
	for _, res := range results {
		if res.Err != nil {
			parseFailures++
			o.logger.Debug("line rejected",
				zap.Int("year", year),
				zap.Int("line", res.Line),
				zap.Error(res.Err))
			continue
		}
		records = append(records, res.Record)
	}

	o.report.RecordParse(year, len(records), parseFailures)
	linesTotal.WithLabelValues("parsed").Add(float64(len(records)))
	linesTotal.WithLabelValues("failed").Add(float64(parseFailures))

	if len(records) == 0 {
		o.logger.Warn("no loadable records in blob",
			zap.Int("year", year),
			zap.Int("lines", len(results)))
		return nil
	}

	result, err := o.queue.Load(ctx, year, records)
	if err != nil {
		return fmt.Errorf("year %d: %w", year, err)
	}

	o.report.RecordLoad(year, result.Loaded, result.Failed)
	recordsTotal.WithLabelValues("loaded").Add(float64(result.Loaded))
	recordsTotal.WithLabelValues("failed").Add(float64(result.Failed))

	if result.Err != nil {
		return fmt.Errorf("year %d: %w", year, result.Err)
	}
	return nil
}

// Report returns the run report.
func (o *Orchestrator) Report() *RunReport {
	return o.report
}

func (o *Orchestrator) logSummary(elapsed time.Duration) {
	totalLoaded := 0
	totalParseFailures := 0
	totalLoadFailures := 0
	for _, yr := range o.report.Years() {
		totalLoaded += yr.RecordsLoaded
		totalParseFailures += yr.ParseFailures
		totalLoadFailures += yr.LoadFailures
	}

	o.logger.Info("ingestion finished",
		zap.Int("years_attempted", o.report.YearsAttempted()),
		zap.Int("records_loaded", totalLoaded),
		zap.Int("parse_failures", totalParseFailures),
		zap.Int("load_failures", totalLoadFailures),
		zap.String("stop_reason", string(o.report.Stop())),
		zap.Duration("elapsed", elapsed))
}
