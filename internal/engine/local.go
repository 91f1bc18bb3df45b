package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/profile"
)

// Decode workloads scale with the hidden size but are capped so runs against
// 7B-class hyperparameters stay measurable on a laptop.
const maxWorkDim = 512

// Local is an in-process reference engine. It performs a deterministic
// per-token compute proportional to the model hyperparameters, so single-host
// runs and tests have something real to measure without an external server.
type Local struct {
	model  config.Model
	tracer *profile.Tracer

	workDim int
	hidden  []float32
	weight  []float32
	// checksum keeps the workload observable so it cannot be dead-code
	// eliminated.
	checksum float64
}

func NewLocal(model config.Model, tracer *profile.Tracer) (*Local, error) {
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("local engine: %w", err)
	}

	dim := model.Dim
	if dim > maxWorkDim {
		dim = maxWorkDim
	}

	e := &Local{
		model:   model,
		tracer:  tracer,
		workDim: dim,
		hidden:  make([]float32, dim),
		weight:  make([]float32, dim),
	}
	for i := 0; i < dim; i++ {
		e.hidden[i] = float32(math.Sin(float64(i)))
		e.weight[i] = float32(math.Cos(float64(i))) * 0.01
	}
	return e, nil
}

// SetTracer attaches the operator tracer for a profiled pass.
func (e *Local) SetTracer(t *profile.Tracer) {
	e.tracer = t
}

func (e *Local) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Input == nil || req.Input.Size() == 0 {
		return Result{}, fmt.Errorf("local engine: empty input batch")
	}
	if req.MaxNewTokens <= 0 {
		return Result{}, fmt.Errorf("local engine: max_new_tokens must be positive, got %d", req.MaxNewTokens)
	}

	batch := req.Input.Size()

	stopEmbed := e.tracer.Span("embed")
	for s := 0; s < batch; s++ {
		e.mix(req.Input.Tokens[s][0])
	}
	stopEmbed()

	for step := 0; step < req.MaxNewTokens; step++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for layer := 0; layer < e.model.Layers; layer++ {
			stopAttn := e.tracer.Span("attention")
			for s := 0; s < batch; s++ {
				e.matvec(1)
			}
			stopAttn()

			stopFFN := e.tracer.Span("ffn")
			for s := 0; s < batch; s++ {
				e.matvec(2)
			}
			stopFFN()
		}

		stopSample := e.tracer.Span("sample")
		for s := 0; s < batch; s++ {
			e.mix(int32(step))
		}
		stopSample()
	}

	return Result{
		OutputLen: req.Input.InputLen() + req.MaxNewTokens,
		Generated: req.MaxNewTokens,
	}, nil
}

// Sync is a no-op barrier for the in-process engine.
func (e *Local) Sync(ctx context.Context) error {
	return ctx.Err()
}

func (e *Local) Close() error {
	return nil
}

// Checksum exposes the accumulated workload result.
func (e *Local) Checksum() float64 {
	return e.checksum
}

// matvec runs passes of multiply-accumulate over the hidden buffer.
func (e *Local) matvec(passes int) {
	var acc float32
	for p := 0; p < passes; p++ {
		for i := 0; i < e.workDim; i++ {
			acc += e.hidden[i] * e.weight[i]
			e.hidden[i] += acc * 1e-7
		}
	}
	e.checksum += float64(acc)
}

func (e *Local) mix(tok int32) {
	idx := int(tok) % e.workDim
	if idx < 0 {
		idx = -idx
	}
	e.hidden[idx] += 1e-6
	e.checksum += float64(e.hidden[idx])
}
