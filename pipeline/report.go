package pipeline

import (
	"sort"
	"sync"
)

// StopReason records why the orchestrator stopped scanning years.
type StopReason string

const (
	// StopExhausted means the configured year range was fully processed.
	StopExhausted StopReason = "exhausted"
	// StopNotFound means the upstream signaled no more data (probe mode).
	StopNotFound StopReason = "not-found"
	// StopTransient means probe mode hit a transient fetch failure and
	// could not tell "absent" from "unreachable".
	StopTransient StopReason = "transient-failure"
	// StopFatal means a non-recoverable error aborted the run.
	StopFatal StopReason = "fatal"
)

// YearReport holds per-year outcome counters.
type YearReport struct {
	Year          int
	Fetched       bool
	FetchFailure  string // transient failure reason, if any
	LinesParsed   int
	ParseFailures int
	RecordsLoaded int
	LoadFailures  int
}

// RunReport is the per-run aggregate. Every component records outcomes into
// it as they arrive; reads copy the state out under the lock.
type RunReport struct {
	mu    sync.Mutex
	years map[int]*YearReport
	stop  StopReason
}

// NewRunReport creates an empty report.
func NewRunReport() *RunReport {
	return &RunReport{years: make(map[int]*YearReport)}
}

func (r *RunReport) yearLocked(year int) *YearReport {
	yr, ok := r.years[year]
	if !ok {
		yr = &YearReport{Year: year}
		r.years[year] = yr
	}
	return yr
}

// RecordFetched marks a year's blob as retrieved.
func (r *RunReport) RecordFetched(year int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.yearLocked(year).Fetched = true
}

// RecordFetchFailure marks a year skipped because of a transient failure.
func (r *RunReport) RecordFetchFailure(year int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.yearLocked(year).FetchFailure = reason
}

// RecordMissing marks a year probed but not published upstream.
func (r *RunReport) RecordMissing(year int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.yearLocked(year)
}

// RecordParse adds a year's parse outcome counts.
func (r *RunReport) RecordParse(year, parsed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	yr := r.yearLocked(year)
	yr.LinesParsed += parsed
	yr.ParseFailures += failed
}

// RecordLoad adds a year's load outcome counts.
func (r *RunReport) RecordLoad(year, loaded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	yr := r.yearLocked(year)
	yr.RecordsLoaded += loaded
	yr.LoadFailures += failed
}

// SetStop records the terminal reason scanning stopped. The first fatal
// reason wins; otherwise the latest reason stands.
func (r *RunReport) SetStop(reason StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == StopFatal {
		return
	}
	r.stop = reason
}

// Stop returns the terminal stop reason.
func (r *RunReport) Stop() StopReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop
}

// YearsAttempted returns how many years entered the pipeline.
func (r *RunReport) YearsAttempted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.years)
}

// Year returns a copy of one year's counters.
func (r *RunReport) Year(year int) (YearReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	yr, ok := r.years[year]
	if !ok {
		return YearReport{}, false
	}
	return *yr, true
}

// Years returns copies of every year's counters, ascending by year.
func (r *RunReport) Years() []YearReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]YearReport, 0, len(r.years))
	for _, yr := range r.years {
		out = append(out, *yr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}
