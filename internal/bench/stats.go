package bench

import (
	"math"
	"sort"

	"github.com/23skdu/longbow-ballista/internal/config"
)

// BytesPerParam assumes fp16 weights, matching the bandwidth derivation the
// report is calibrated against.
const BytesPerParam = 2

// Sample is one timed iteration: wall-clock seconds per generated token.
type Sample struct {
	Rank    int
	Iter    int
	Seconds float64
}

// Summary holds descriptive statistics over the post-warmup samples.
type Summary struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P99   float64
}

// Summarize trims the first warmup iterations of each rank's series, sorts
// what remains and computes descriptive statistics. A warmup that consumes
// everything yields a zero Summary.
func Summarize(samples []Sample, warmup int) Summary {
	kept := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Iter < warmup {
			continue
		}
		kept = append(kept, s.Seconds)
	}
	if len(kept) == 0 {
		return Summary{}
	}

	sort.Float64s(kept)

	sum := 0.0
	for _, v := range kept {
		sum += v
	}

	return Summary{
		Count: len(kept),
		Mean:  sum / float64(len(kept)),
		Min:   kept[0],
		Max:   kept[len(kept)-1],
		P50:   percentile(kept, 0.50),
		P90:   percentile(kept, 0.90),
		P99:   percentile(kept, 0.99),
	}
}

// percentile reads from an ascending-sorted slice (nearest-rank).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Derived holds the model-level estimates computed from the mean per-token
// latency and the transformer hyperparameters.
type Derived struct {
	Parameters    int64
	AvgTokenMs    float64
	BandwidthGBps float64
	TFlops        float64
}

// Derive computes weight-streaming bandwidth and FLOPs estimates:
// params = 12 * layers * dim^2, 2 bytes per parameter, scaled by the mean
// per-token latency (and batch size for FLOPs).
func Derive(s Summary, model config.Model, batchSize int) Derived {
	d := Derived{Parameters: model.WeightParameters()}
	if s.Mean <= 0 {
		return d
	}
	bytesMoved := float64(d.Parameters) * BytesPerParam
	d.AvgTokenMs = s.Mean * 1000
	d.BandwidthGBps = bytesMoved / s.Mean / 1e9
	d.TFlops = bytesMoved * float64(batchSize) / s.Mean / 1e12
	return d
}
