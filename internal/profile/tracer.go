package profile

import (
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"sort"
	"sync"
	"text/tabwriter"
	"time"
)

// Tracer accumulates named operator spans during a profiled generation pass
// and renders them as a table ranked by cumulative time.
type Tracer struct {
	mu    sync.Mutex
	spans map[string]*spanStats
}

type spanStats struct {
	calls int64
	total time.Duration
}

func NewTracer() *Tracer {
	return &Tracer{spans: make(map[string]*spanStats)}
}

// Span starts a span and returns the stop function. Safe for concurrent use.
//
//	defer tr.Span("attention")()
func (t *Tracer) Span(name string) func() {
	if t == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		t.Record(name, time.Since(start))
	}
}

// Record adds one completed span observation.
func (t *Tracer) Record(name string, d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	s, ok := t.spans[name]
	if !ok {
		s = &spanStats{}
		t.spans[name] = s
	}
	s.calls++
	s.total += d
	t.mu.Unlock()
}

// Row is one line of the ranked operator table.
type Row struct {
	Name    string
	Calls   int64
	Total   time.Duration
	Avg     time.Duration
	Percent float64
}

// Table returns up to topN rows sorted by cumulative time, descending.
// Percent is relative to the sum over all recorded spans.
func (t *Tracer) Table(topN int) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum time.Duration
	rows := make([]Row, 0, len(t.spans))
	for name, s := range t.spans {
		sum += s.total
		rows = append(rows, Row{
			Name:  name,
			Calls: s.calls,
			Total: s.total,
			Avg:   time.Duration(int64(s.total) / s.calls),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].Name < rows[j].Name
	})

	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	for i := range rows {
		if sum > 0 {
			rows[i].Percent = 100 * float64(rows[i].Total) / float64(sum)
		}
	}
	return rows
}

// WriteTable renders the ranked table to w.
func (t *Tracer) WriteTable(w io.Writer, topN int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tCalls\tTotal\tAvg\tTime %")
	fmt.Fprintln(tw, "----\t-----\t-----\t---\t------")
	for _, r := range t.Table(topN) {
		fmt.Fprintf(tw, "%s\t%d\t%v\t%v\t%6.2f%%\n", r.Name, r.Calls, r.Total.Round(time.Microsecond), r.Avg.Round(time.Microsecond), r.Percent)
	}
	return tw.Flush()
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	t.spans = make(map[string]*spanStats)
	t.mu.Unlock()
}

// CPUProfile runs fn under a CPU profile written to path. An empty path runs
// fn without profiling.
func CPUProfile(path string, fn func() error) error {
	if path == "" {
		return fn()
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cpu profile: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	if err := pprof.StartCPUProfile(f); err != nil {
		return fmt.Errorf("start cpu profile: %w", err)
	}
	defer pprof.StopCPUProfile()

	return fn()
}
