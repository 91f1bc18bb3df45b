package bench

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/profile"
)

var headerColor = color.New(color.FgCyan, color.Bold)

// WriteReport renders the run summary: headline averages in the classic
// three-line form, then the latency distribution.
func WriteReport(w io.Writer, sum Summary, der Derived, model config.Model, cfg config.Config) error {
	if sum.Count == 0 {
		fmt.Fprintln(w, "no samples after warmup trim")
		return nil
	}

	headerColor.Fprintf(w, "== %s (%s) tp=%d batch=%d in=%d out=%d ==\n",
		model.Name, model.GetArchitecture(), cfg.TPSize, cfg.BatchSize, cfg.InputLen, cfg.OutputLen)

	fmt.Fprintf(w, "Avg Per Token Latency: %8.2f ms\n", der.AvgTokenMs)
	fmt.Fprintf(w, "Avg BW:                %8.2f GB/s\n", der.BandwidthGBps)
	fmt.Fprintf(w, "Avg flops:             %8.2f TFlops/s\n", der.TFlops)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "samples\t%d\n", sum.Count)
	fmt.Fprintf(tw, "min\t%.2f ms\n", sum.Min*1000)
	fmt.Fprintf(tw, "p50\t%.2f ms\n", sum.P50*1000)
	fmt.Fprintf(tw, "p90\t%.2f ms\n", sum.P90*1000)
	fmt.Fprintf(tw, "p99\t%.2f ms\n", sum.P99*1000)
	fmt.Fprintf(tw, "max\t%.2f ms\n", sum.Max*1000)
	return tw.Flush()
}

// WriteProfile renders the ranked operator-time table from the profiled pass.
func WriteProfile(w io.Writer, tracer *profile.Tracer, topN int) error {
	headerColor.Fprintln(w, "== profiled iteration, operators by cumulative time ==")
	return tracer.WriteTable(w, topN)
}
