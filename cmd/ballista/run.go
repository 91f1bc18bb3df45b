package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/23skdu/longbow-ballista/internal/bench"
	"github.com/23skdu/longbow-ballista/internal/collector"
	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/engine"
	"github.com/23skdu/longbow-ballista/internal/gguf"
	"github.com/23skdu/longbow-ballista/internal/launch"
	"github.com/23skdu/longbow-ballista/internal/logger"
	"github.com/23skdu/longbow-ballista/internal/metrics"
	"github.com/23skdu/longbow-ballista/internal/ollama"
	"github.com/23skdu/longbow-ballista/internal/profile"
)

// launchAttempts bounds retries when the coordinator port is already taken.
const launchAttempts = 5

func run(ctx context.Context, cfg config.Config) error {
	worker, spawned, err := launch.FromEnv()
	if err != nil {
		return err
	}
	if spawned {
		return runWorker(ctx, cfg, worker)
	}
	return runCoordinator(ctx, cfg)
}

func runCoordinator(ctx context.Context, cfg config.Config) error {
	model, err := loadModel(cfg)
	if err != nil {
		return err
	}
	logger.Log.Info("model loaded",
		"name", model.Name, "arch", model.Architecture,
		"layers", model.Layers, "dim", model.Dim,
		"params_b", float64(model.Parameters)/1e9)

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr, func(err error) {
			logger.Log.Error("metrics listener", "error", err)
		})
	}

	var samples []bench.Sample
	if cfg.TPSize == 1 {
		samples, err = runSingle(ctx, cfg, model)
	} else {
		samples, err = runDistributed(ctx, cfg)
	}
	if err != nil {
		return err
	}

	sum := bench.Summarize(samples, cfg.Warmup)
	der := bench.Derive(sum, model, cfg.BatchSize)
	return bench.WriteReport(os.Stdout, sum, der, model, cfg)
}

// runSingle is the tp-size=1 path: the timed loop and the profiled pass both
// run in this process.
func runSingle(ctx context.Context, cfg config.Config, model config.Model) ([]bench.Sample, error) {
	eng, err := buildEngine(cfg, model)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	runner, err := bench.NewRunner(eng, cfg, model, 0, logger.Log)
	if err != nil {
		return nil, err
	}

	var samples []bench.Sample
	timedLoop := func() error {
		var err error
		samples, err = runner.Run(ctx)
		return err
	}
	if cfg.CPUProfile != "" {
		err = profile.CPUProfile(cfg.CPUProfile, timedLoop)
	} else {
		err = timedLoop()
	}
	if err != nil {
		return nil, err
	}

	tracer, err := runner.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if err := bench.WriteProfile(os.Stdout, tracer, cfg.ProfileTopN); err != nil {
		return nil, err
	}
	return samples, nil
}

// runDistributed spawns one process per rank and collects their samples over
// Arrow Flight. A coordinator port collision retries the whole launch on a
// fresh port.
func runDistributed(ctx context.Context, cfg config.Config) ([]bench.Sample, error) {
	preferred := cfg.MasterPort
	if preferred == 0 {
		var err error
		preferred, err = launch.FreePort()
		if err != nil {
			return nil, err
		}
	}

	var samples []bench.Sample
	err := launch.RerunIfAddressInUse(preferred, launchAttempts, logger.Log, func(port int) error {
		srv := collector.NewServer()
		addr := net.JoinHostPort(cfg.MasterHost, strconv.Itoa(port))
		if err := srv.Start(addr); err != nil {
			return err
		}
		defer srv.Shutdown()
		logger.Log.Info("collector listening", "addr", srv.Addr().String(), "world_size", cfg.TPSize)

		if err := launch.Spawn(ctx, cfg.TPSize, srv.Addr().String(), logger.Log); err != nil {
			return err
		}

		if got := srv.RankCount(); got < cfg.TPSize {
			logger.Log.Warn("missing rank samples", "got", got, "want", cfg.TPSize)
		}
		samples = srv.Samples()
		return nil
	})
	return samples, err
}

// runWorker is the spawned-rank path: run the timed loop, push samples to the
// coordinator, and on rank 0 also run the profiled pass.
func runWorker(ctx context.Context, cfg config.Config, w launch.Worker) error {
	log := logger.Log.WithRank(w.Rank)

	model, err := loadModel(cfg)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, model)
	if err != nil {
		return err
	}
	defer eng.Close()

	runner, err := bench.NewRunner(eng, cfg, model, w.Rank, log)
	if err != nil {
		return err
	}
	samples, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("rank %d: %w", w.Rank, err)
	}

	if w.Rank == 0 {
		tracer, err := runner.Profile(ctx)
		if err != nil {
			return err
		}
		if err := bench.WriteProfile(os.Stdout, tracer, cfg.ProfileTopN); err != nil {
			return err
		}
	}

	c := collector.NewClient(w.MasterAddr)
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()
	if err := c.Push(ctx, samples); err != nil {
		return fmt.Errorf("rank %d: push samples: %w", w.Rank, err)
	}
	log.Debug("samples pushed", "count", len(samples))
	return nil
}

// loadModel resolves the model argument to a GGUF file and pulls the
// hyperparameters out of its header.
func loadModel(cfg config.Config) (config.Model, error) {
	path, err := ollama.Resolve(cfg.ModelPath)
	if err != nil {
		return config.Model{}, err
	}

	f, err := gguf.ReadHeader(path)
	if err != nil {
		return config.Model{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := gguf.Analyze(f)
	if err != nil {
		return config.Model{}, fmt.Errorf("analyze %s: %w", path, err)
	}

	name := info.Name
	if name == "" {
		name = cfg.ModelPath
	}
	model := config.Model{
		Architecture: info.Architecture,
		Name:         name,
		Dim:          info.HiddenSize,
		HiddenDim:    info.FeedForward,
		Layers:       info.LayerCount,
		Heads:        info.AttentionHead,
		KVHeads:      info.KVHeads,
		VocabSize:    info.VocabSize,
		SeqLen:       info.ContextLength,
		Parameters:   info.Parameters,
	}
	if err := model.Validate(); err != nil {
		return config.Model{}, fmt.Errorf("model metadata: %w", err)
	}
	return model, nil
}

func buildEngine(cfg config.Config, model config.Model) (engine.Engine, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return engine.NewHTTP(cfg.BaseURL, cfg.ModelPath)
	default:
		return engine.NewLocal(model, nil)
	}
}
