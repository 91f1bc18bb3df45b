package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/23skdu/longbow-ballista/internal/profile"
)

// HTTP drives an external inference server exposing the Ollama generate API.
// Sequences in a batch are submitted one at a time; the server owns its own
// batching policy.
type HTTP struct {
	baseURL string
	model   string
	client  *http.Client
	tracer  *profile.Tracer
}

type HTTPOption func(*HTTP)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTP) { e.client = c }
}

func WithTracer(t *profile.Tracer) HTTPOption {
	return func(e *HTTP) { e.tracer = t }
}

func NewHTTP(baseURL, model string, opts ...HTTPOption) (*HTTP, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("http engine: base URL is required")
	}
	e := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetTracer attaches the operator tracer for a profiled pass.
func (e *HTTP) SetTracer(t *profile.Tracer) {
	e.tracer = t
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	NumPredict  int     `json:"num_predict"`
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	EvalDuration    int64  `json:"eval_duration"`
	TotalDuration   int64  `json:"total_duration"`
}

func (e *HTTP) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Input == nil || req.Input.Size() == 0 {
		return Result{}, fmt.Errorf("http engine: empty input batch")
	}

	temperature := 0.7
	if req.Greedy {
		temperature = 0
	}

	minGenerated := -1
	for _, seq := range req.Input.Tokens {
		resp, err := e.generateOne(ctx, renderPrompt(seq), req.MaxNewTokens, temperature)
		if err != nil {
			return Result{}, err
		}
		if minGenerated < 0 || resp.EvalCount < minGenerated {
			minGenerated = resp.EvalCount
		}
	}

	return Result{
		OutputLen: req.Input.InputLen() + minGenerated,
		Generated: minGenerated,
	}, nil
}

func (e *HTTP) generateOne(ctx context.Context, prompt string, numPredict int, temperature float64) (*generateResponse, error) {
	body, err := json.Marshal(generateRequest{
		Model:  e.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			NumPredict:  numPredict,
			Temperature: temperature,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	stopReq := e.tracer.Span("http.generate")
	resp, err := e.client.Do(httpReq)
	stopReq()
	if err != nil {
		return nil, fmt.Errorf("http engine: generate: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http engine: generate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	stopDecode := e.tracer.Span("http.decode")
	defer stopDecode()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("http engine: decode response: %w", err)
	}
	if out.EvalCount <= 0 {
		return nil, fmt.Errorf("http engine: server reported no generated tokens")
	}
	return &out, nil
}

// Sync checks the server is responsive; the timed window then covers only
// generation work.
func (e *HTTP) Sync(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http engine: sync: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("http engine: sync: status %d", resp.StatusCode)
	}
	return nil
}

func (e *HTTP) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

// renderPrompt turns a synthetic token ID sequence into a deterministic text
// prompt of proportional length.
func renderPrompt(tokens []int32) string {
	var sb strings.Builder
	sb.Grow(len(tokens) * 4)
	for i, t := range tokens {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(int(t)))
	}
	return sb.String()
}
