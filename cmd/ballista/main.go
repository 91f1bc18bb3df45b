package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/23skdu/longbow-ballista/internal/config"
	"github.com/23skdu/longbow-ballista/internal/logger"
)

// version is stamped by the build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "ballista",
		Short: "Latency and throughput benchmark for llama-family inference engines",
		Long: `ballista times batched token generation against a local reference
engine or an Ollama-compatible HTTP endpoint, and reports per-token
latency, estimated memory bandwidth, and estimated TFLOPS.

With --tp-size > 1 it spawns one process per rank and aggregates
their samples over Arrow Flight.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			logger.Setup(cfg.LogLevel, cfg.LogFormat)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	f := root.Flags()
	f.StringP("model", "p", "", "model name (resolved via the Ollama store) or path to a GGUF file")
	f.Int("tp-size", 1, "number of tensor-parallel ranks to spawn")
	f.Int("batch-size", 16, "sequences per generation call")
	f.Int("input-len", 1024, "prompt length in tokens")
	f.Int("output-len", 128, "new tokens to generate per sequence")
	f.Int("iters", 10, "timed generation iterations")
	f.Int("warmup", 3, "leading iterations excluded from the summary")
	f.String("backend", "local", "engine backend: local or http")
	f.String("url", "", "base URL for the http backend")
	f.String("master-host", "localhost", "coordinator host for multi-rank runs")
	f.Int("master-port", 0, "coordinator port, 0 picks a free one")
	f.Int("profile-top-n", 10, "rows in the operator time table")
	f.String("cpuprofile", "", "write a CPU profile of the timed loop to this file")
	f.String("metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "console", "log format: console or json")
	f.Int64("seed", 1, "seed for the synthetic input batch")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInspectCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ballista version",
		Run: func(cmd *cobra.Command, args []string) {
			color.New(color.FgCyan, color.Bold).Fprint(cmd.OutOrStdout(), "ballista ")
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
