package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/engine"
	"github.com/23skdu/longbow-ballista/internal/logger"
	"github.com/23skdu/longbow-ballista/internal/metrics"
	"github.com/23skdu/longbow-ballista/internal/profile"
)

// traceable is implemented by engines that can attach an operator tracer for
// the profiled pass.
type traceable interface {
	SetTracer(*profile.Tracer)
}

// Runner drives the fixed-iteration benchmark loop for one rank.
type Runner struct {
	Engine engine.Engine
	Cfg    config.Config
	Model  config.Model
	Rank   int
	Log    *logger.Logger

	batch *engine.Batch
}

func NewRunner(e engine.Engine, cfg config.Config, model config.Model, rank int, log *logger.Logger) (*Runner, error) {
	// Every rank derives its batch from the shared seed so all ranks present
	// identical work, as a tensor-parallel group would see.
	batch, err := engine.NewRandomBatch(cfg.BatchSize, cfg.InputLen, model.VocabSize, cfg.Seed)
	if err != nil {
		return nil, err
	}
	return &Runner{
		Engine: e,
		Cfg:    cfg,
		Model:  model,
		Rank:   rank,
		Log:    log,
		batch:  batch,
	}, nil
}

// Run executes the timed loop: for each iteration, barrier, generate, barrier,
// and record elapsed wall-clock divided by generated token count. Iterations
// that produce no tokens are skipped with a warning, not sampled.
func (r *Runner) Run(ctx context.Context) ([]Sample, error) {
	samples := make([]Sample, 0, r.Cfg.Iters)

	for i := 0; i < r.Cfg.Iters; i++ {
		elapsed, res, err := r.timedGenerate(ctx)
		if err != nil {
			metrics.RecordIterationError()
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}

		generated := res.OutputLen - r.Cfg.InputLen
		if generated <= 0 {
			metrics.RecordIterationError()
			r.Log.Warn("iteration produced no tokens, skipping sample", "iter", i)
			continue
		}

		perToken := elapsed / time.Duration(generated)
		metrics.RecordGeneration(generated*r.batch.Size(), elapsed, perToken)
		r.Log.Info("generation time", "iter", i, "seconds", elapsed.Seconds(), "out_len", res.OutputLen)

		samples = append(samples, Sample{
			Rank:    r.Rank,
			Iter:    i,
			Seconds: elapsed.Seconds() / float64(generated),
		})
	}

	return samples, nil
}

// Profile runs one additional generation pass with the operator tracer
// attached and returns the tracer holding the ranked span data.
func (r *Runner) Profile(ctx context.Context) (*profile.Tracer, error) {
	tracer := profile.NewTracer()
	if t, ok := r.Engine.(traceable); ok {
		t.SetTracer(tracer)
		defer t.SetTracer(nil)
	}

	stop := tracer.Span("model_inference")
	_, _, err := r.timedGenerate(ctx)
	stop()
	if err != nil {
		return nil, fmt.Errorf("profiled iteration: %w", err)
	}
	return tracer, nil
}

func (r *Runner) timedGenerate(ctx context.Context) (time.Duration, engine.Result, error) {
	req := engine.Request{
		Input:        r.batch,
		MaxNewTokens: r.Cfg.OutputLen,
		Greedy:       true,
	}

	if err := r.Engine.Sync(ctx); err != nil {
		return 0, engine.Result{}, fmt.Errorf("pre-generate barrier: %w", err)
	}
	start := time.Now()
	res, err := r.Engine.Generate(ctx, req)
	if err != nil {
		return 0, engine.Result{}, err
	}
	if err := r.Engine.Sync(ctx); err != nil {
		return 0, engine.Result{}, fmt.Errorf("post-generate barrier: %w", err)
	}
	return time.Since(start), res, nil
}
