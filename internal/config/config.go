package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Backend selects which engine implementation the benchmark drives.
type Backend int

const (
	BackendLocal Backend = iota
	BackendHTTP
)

func (b Backend) String() string {
	switch b {
	case BackendLocal:
		return "local"
	case BackendHTTP:
		return "http"
	}
	return fmt.Sprintf("backend(%d)", int(b))
}

// ParseBackend maps a flag value to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "", "local":
		return BackendLocal, nil
	case "http", "ollama":
		return BackendHTTP, nil
	}
	return 0, fmt.Errorf("unknown backend: %q (want local or http)", s)
}

// Config holds the parameters of one benchmark run. A tensor-parallel run
// shares a single Config across all spawned ranks.
type Config struct {
	ModelPath string
	TPSize    int
	BatchSize int
	InputLen  int
	OutputLen int
	Iters     int
	Warmup    int

	Backend Backend
	BaseURL string // http backend endpoint

	MasterHost string
	MasterPort int // 0 = pick at launch

	ProfileTopN int
	CPUProfile  string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	Seed int64
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if c.TPSize <= 0 {
		return fmt.Errorf("invalid tp_size: %d (must be positive)", c.TPSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size: %d (must be positive)", c.BatchSize)
	}
	if c.InputLen <= 0 {
		return fmt.Errorf("invalid input_len: %d (must be positive)", c.InputLen)
	}
	if c.OutputLen <= 0 {
		return fmt.Errorf("invalid output_len: %d (must be positive)", c.OutputLen)
	}
	if c.Iters <= 0 {
		return fmt.Errorf("invalid iters: %d (must be positive)", c.Iters)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("invalid warmup: %d (must be non-negative)", c.Warmup)
	}
	if c.Warmup >= c.Iters {
		return fmt.Errorf("warmup (%d) must be < iters (%d)", c.Warmup, c.Iters)
	}
	if c.Backend == BackendHTTP && c.BaseURL == "" {
		return fmt.Errorf("http backend requires a base URL")
	}
	if c.ProfileTopN <= 0 {
		return fmt.Errorf("invalid profile_top_n: %d (must be positive)", c.ProfileTopN)
	}
	return nil
}

func Default() Config {
	return Config{
		TPSize:      1,
		BatchSize:   16,
		InputLen:    1024,
		OutputLen:   128,
		Iters:       10,
		Warmup:      3,
		Backend:     BackendLocal,
		BaseURL:     "http://localhost:11434",
		MasterHost:  "localhost",
		ProfileTopN: 10,
		LogLevel:    "info",
		LogFormat:   "console",
		Seed:        1,
	}
}

// FromViper overlays env/flag-bound viper values onto the defaults. Keys use
// the BALLISTA_ prefix in the environment (BALLISTA_TP_SIZE and so on).
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()

	v.SetEnvPrefix("ballista")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	cfg.ModelPath = v.GetString("model")
	if n := v.GetInt("tp-size"); n > 0 {
		cfg.TPSize = n
	}
	if n := v.GetInt("batch-size"); n > 0 {
		cfg.BatchSize = n
	}
	if n := v.GetInt("input-len"); n > 0 {
		cfg.InputLen = n
	}
	if n := v.GetInt("output-len"); n > 0 {
		cfg.OutputLen = n
	}
	if n := v.GetInt("iters"); n > 0 {
		cfg.Iters = n
	}
	if v.IsSet("warmup") {
		cfg.Warmup = v.GetInt("warmup")
	}
	if s := v.GetString("backend"); s != "" {
		b, err := ParseBackend(s)
		if err != nil {
			return cfg, err
		}
		cfg.Backend = b
	}
	if s := v.GetString("url"); s != "" {
		cfg.BaseURL = s
	}
	if s := v.GetString("master-host"); s != "" {
		cfg.MasterHost = s
	}
	if v.IsSet("master-port") {
		cfg.MasterPort = v.GetInt("master-port")
	}
	if n := v.GetInt("profile-top-n"); n > 0 {
		cfg.ProfileTopN = n
	}
	cfg.CPUProfile = v.GetString("cpuprofile")
	cfg.MetricsAddr = v.GetString("metrics")
	if s := v.GetString("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("log-format"); s != "" {
		cfg.LogFormat = s
	}
	if v.IsSet("seed") {
		cfg.Seed = v.GetInt64("seed")
	}

	return cfg, nil
}

// Model carries the hyperparameters the benchmark derives bandwidth and FLOPs
// estimates from. Populated from GGUF metadata.
type Model struct {
	Architecture string
	Name         string
	Dim          int // hidden size
	HiddenDim    int // feed-forward length
	Layers       int
	Heads        int
	KVHeads      int
	VocabSize    int
	SeqLen       int
	Parameters   int64
}

func (m *Model) Validate() error {
	if m.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", m.Dim)
	}
	if m.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", m.Layers)
	}
	if m.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", m.Heads)
	}
	if m.KVHeads <= 0 {
		return fmt.Errorf("invalid kv_heads: %d (must be positive)", m.KVHeads)
	}
	if m.KVHeads > m.Heads {
		return fmt.Errorf("invalid kv_heads: %d (must be <= heads: %d)", m.KVHeads, m.Heads)
	}
	if m.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", m.SeqLen)
	}
	return nil
}

// WeightParameters estimates the transformer block weight count the same way
// the bandwidth derivation does: 12 * layers * dim^2.
func (m *Model) WeightParameters() int64 {
	return int64(m.Layers) * int64(m.Dim) * int64(m.Dim) * 12
}

func (m *Model) GetArchitecture() string {
	return strings.ToLower(m.Architecture)
}
