package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thaistat/poplake/source"
)

// scriptedFetcher serves canned outcomes per year and records call order.
type scriptedFetcher struct {
	mu       sync.Mutex
	outcomes map[int]source.Outcome
	calls    []int
}

func (f *scriptedFetcher) FetchYear(ctx context.Context, year int) source.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, year)
	if outcome, ok := f.outcomes[year]; ok {
		return outcome
	}
	return source.Outcome{Status: source.StatusNotFound}
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// blobForYear builds a well-formed extract of n lines, trimmed the way the
// fetcher delivers bodies.
func blobForYear(year, n int) string {
	lines := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		lines = append(lines, fmt.Sprintf("6612|%d|area %d|R1|Region|CCA01|District|CCAMM01|Subdistrict|10|20|30|5", i, i))
	}
	return strings.Join(lines, "\n")
}

func successFor(years map[int]int) map[int]source.Outcome {
	outcomes := make(map[int]source.Outcome)
	for year, n := range years {
		outcomes[year] = source.Outcome{Status: source.StatusSuccess, Blob: blobForYear(year, n)}
	}
	return outcomes
}

func testOptions(mode Mode, start, end int, exportDir string) Options {
	return Options{
		Mode:         mode,
		StartYear:    start,
		EndYear:      end,
		Workers:      4,
		QueueSize:    4,
		QueueTimeout: 5 * time.Second,
		ExportDir:    exportDir,
	}
}

func TestRunBounded(t *testing.T) {
	st := openTestStore(t)
	fetcher := &scriptedFetcher{outcomes: successFor(map[int]int{
		2020: 3,
		2021: 4,
		2022: 5,
	})}

	orch := New(testOptions(ModeBounded, 2020, 2022, t.TempDir()), fetcher, st, zap.NewNop())
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Stop() != StopExhausted {
		t.Errorf("stop = %q, want %q", report.Stop(), StopExhausted)
	}
	if report.YearsAttempted() != 3 {
		t.Errorf("years attempted = %d, want 3", report.YearsAttempted())
	}

	for year, want := range map[int]int{2020: 3, 2021: 4, 2022: 5} {
		count, err := st.CountByYear(year)
		if err != nil {
			t.Fatalf("CountByYear failed: %v", err)
		}
		if count != want {
			t.Errorf("year %d: count = %d, want %d", year, count, want)
		}
		yr, ok := report.Year(year)
		if !ok || yr.RecordsLoaded != want {
			t.Errorf("year %d report: %+v, want %d loaded", year, yr, want)
		}
	}
}

// A transient fetch failure in bounded mode skips the year and keeps going.
func TestRunBoundedContinuesPastTransient(t *testing.T) {
	st := openTestStore(t)
	outcomes := successFor(map[int]int{2020: 2, 2022: 2})
	outcomes[2021] = source.Outcome{Status: source.StatusTransient, Reason: "connection refused"}
	fetcher := &scriptedFetcher{outcomes: outcomes}

	orch := New(testOptions(ModeBounded, 2020, 2022, t.TempDir()), fetcher, st, zap.NewNop())
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Stop() != StopExhausted {
		t.Errorf("stop = %q, want %q", report.Stop(), StopExhausted)
	}
	yr, ok := report.Year(2021)
	if !ok || yr.Fetched || yr.FetchFailure == "" {
		t.Errorf("2021 report = %+v, want unfetched with failure reason", yr)
	}
	for _, year := range []int{2020, 2022} {
		count, _ := st.CountByYear(year)
		if count != 2 {
			t.Errorf("year %d: count = %d, want 2", year, count)
		}
	}
}

func TestRunProbeStopsAtFirstMissing(t *testing.T) {
	st := openTestStore(t)
	fetcher := &scriptedFetcher{outcomes: successFor(map[int]int{
		2020: 2,
		2021: 2,
	})}

	orch := New(testOptions(ModeProbe, 2020, 0, t.TempDir()), fetcher, st, zap.NewNop())
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Stop() != StopNotFound {
		t.Errorf("stop = %q, want %q", report.Stop(), StopNotFound)
	}
	// 2020 and 2021 published, 2022 probed and absent. No calls past that.
	if fetcher.callCount() != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.callCount())
	}
	for _, year := range []int{2020, 2021} {
		count, _ := st.CountByYear(year)
		if count != 2 {
			t.Errorf("year %d: count = %d, want 2", year, count)
		}
	}
}

func TestRunProbeStopsOnTransient(t *testing.T) {
	st := openTestStore(t)
	outcomes := successFor(map[int]int{2020: 2})
	outcomes[2021] = source.Outcome{Status: source.StatusTransient, Reason: "timeout"}
	outcomes[2022] = source.Outcome{Status: source.StatusSuccess, Blob: blobForYear(2022, 2)}
	fetcher := &scriptedFetcher{outcomes: outcomes}

	orch := New(testOptions(ModeProbe, 2020, 0, t.TempDir()), fetcher, st, zap.NewNop())
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Stop() != StopTransient {
		t.Errorf("stop = %q, want %q", report.Stop(), StopTransient)
	}
	// The scan must not reach 2022 even though it would have succeeded.
	if fetcher.callCount() != 2 {
		t.Errorf("fetch calls = %d, want 2", fetcher.callCount())
	}
	if count, _ := st.CountByYear(2022); count != 0 {
		t.Errorf("2022 count = %d, want 0", count)
	}
}

// Malformed lines are counted, not fatal; the good lines still load.
func TestRunRecordsParseFailures(t *testing.T) {
	st := openTestStore(t)
	blob := blobForYear(2023, 3) + "\nnot|enough|fields"
	fetcher := &scriptedFetcher{outcomes: map[int]source.Outcome{
		2023: {Status: source.StatusSuccess, Blob: blob},
	}}

	orch := New(testOptions(ModeBounded, 2023, 2023, t.TempDir()), fetcher, st, zap.NewNop())
	report, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	yr, ok := report.Year(2023)
	if !ok {
		t.Fatal("missing year report")
	}
	if yr.LinesParsed != 3 || yr.ParseFailures != 1 || yr.RecordsLoaded != 3 {
		t.Errorf("report = %+v, want 3 parsed / 1 failure / 3 loaded", yr)
	}
}

// Export runs once, after every load has drained, and writes one partition
// directory per ingested year.
func TestRunExportsPartitions(t *testing.T) {
	st := openTestStore(t)
	exportDir := filepath.Join(t.TempDir(), "out")
	fetcher := &scriptedFetcher{outcomes: successFor(map[int]int{
		2020: 2,
		2021: 3,
	})}

	orch := New(testOptions(ModeBounded, 2020, 2021, exportDir), fetcher, st, zap.NewNop())
	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, year := range []int{2020, 2021} {
		partition := filepath.Join(exportDir, fmt.Sprintf("data_year=%d", year))
		entries, err := os.ReadDir(partition)
		if err != nil {
			t.Fatalf("partition %s missing: %v", partition, err)
		}
		found := false
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".parquet.gz") {
				found = true
			}
		}
		if !found {
			t.Errorf("partition %s has no parquet.gz file", partition)
		}
	}
}

// Re-running the same range must leave the store and export in the same
// state, not accumulate duplicates.
func TestRunIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	exportDir := filepath.Join(t.TempDir(), "out")
	fetcher := &scriptedFetcher{outcomes: successFor(map[int]int{2023: 4})}

	for run := 0; run < 2; run++ {
		orch := New(testOptions(ModeBounded, 2023, 2023, exportDir), fetcher, st, zap.NewNop())
		if _, err := orch.Run(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	count, err := st.CountByYear(2023)
	if err != nil {
		t.Fatalf("CountByYear failed: %v", err)
	}
	if count != 4 {
		t.Errorf("count after two runs = %d, want 4", count)
	}
}

func TestRunUnknownMode(t *testing.T) {
	st := openTestStore(t)
	orch := New(testOptions(Mode("weekly"), 2020, 2021, t.TempDir()), &scriptedFetcher{}, st, zap.NewNop())

	report, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if report.Stop() != StopFatal {
		t.Errorf("stop = %q, want %q", report.Stop(), StopFatal)
	}
}
