// Package llm wraps the Anthropic Go SDK behind a narrow, structured-output
// contract: given a prompt and a JSON-schema-described target, produce a
// validated instance of that target with bounded retry and a typed error
// taxonomy. This generalizes this codebase's agent.LLMClient interface
// (pkg/agent/llm_client.go), which wrapped a streaming gRPC call into a
// Python sidecar, into a direct, bounded, non-streaming structured call —
// streaming partial results is an explicit non-goal here.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ideapanel/ideapanel/pkg/models"
)

// Request is one structured-output call: a system/user prompt pair, the JSON
// schema the model must reply within (as an Anthropic tool's input schema),
// and the retry/model knobs spec §4.2 and §6 name.
type Request struct {
	SystemPrompt string
	UserPrompt   string

	StepName  models.StepName
	PersonaID models.PersonaID // empty for the expand/aggregate steps

	ToolName        string
	ToolDescription string
	ToolSchema      map[string]any // JSON Schema "properties" map

	Model       string
	Temperature float64
	MaxTokens   int64
	MaxRetries  int // default 3, spec §4.2
}

// Metadata accompanies every successful Response, matching spec §4.2's
// "{request_id, model, temperature, latency, attempt_count, finish_reason,
// token_usage, status}".
type Metadata struct {
	RequestID    string
	Model        string
	Temperature  float64
	Latency      time.Duration
	AttemptCount int
	FinishReason string
	TokenUsage   TokenUsage
	Status       string
}

// TokenUsage mirrors anthropic.Usage's two counters.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the validated structured instance (as raw JSON, for the
// caller to unmarshal into its own typed struct) plus call metadata.
type Response struct {
	RawJSON  json.RawMessage
	Metadata Metadata
}

// Client produces a structurally-valid instance of a named response type
// given a prompt payload (spec §4.2).
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// retryConfig is the bounded exponential backoff spec §4.2 and §6 describe:
// delay before attempt k (1-indexed, attempt 1 has no delay) is
// initial*multiplier^(k-1). cenkalti/backoff's ExponentialBackOff applies
// random jitter by default, which would not reproduce that exact formula, so
// retryConfig implements backoff.BackOff directly as a fixed-step sequence.
type retryConfig struct {
	initial    time.Duration
	multiplier float64
	attempt    int
}

func (r *retryConfig) NextBackOff() time.Duration {
	r.attempt++
	// backoff.Retry asks for a delay only after a failed attempt, so the
	// r.attempt-th call is the delay before attempt r.attempt+1.
	d := float64(r.initial) * pow(r.multiplier, float64(r.attempt))
	return time.Duration(d)
}

func (r *retryConfig) Reset() { r.attempt = 0 }

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

// AnthropicClient is the concrete Client backed by
// github.com/anthropics/anthropic-sdk-go.
type AnthropicClient struct {
	sdk               anthropic.Client
	initialBackoff    time.Duration
	backoffMultiplier float64
	stepTimeout       time.Duration
}

// Config configures an AnthropicClient. APIKey empty means the SDK falls
// back to the ANTHROPIC_API_KEY environment variable.
type Config struct {
	APIKey            string
	InitialBackoff    time.Duration // default 1s
	BackoffMultiplier float64       // default 2
	StepTimeout       time.Duration // default 300s, spec WORKER_STEP_TIMEOUT_SECONDS
}

// NewAnthropicClient builds a Client around the Anthropic SDK.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 300 * time.Second
	}
	return &AnthropicClient{
		sdk:               anthropic.NewClient(opts...),
		initialBackoff:    initial,
		backoffMultiplier: multiplier,
		stepTimeout:       stepTimeout,
	}
}

// Generate implements Client. Every LLM call is performed under a
// cancellable context bounded by the configured step timeout (spec §5); only
// retryable classified errors consume a retry attempt (spec §4.2); the final
// error is surfaced once attempts are exhausted. The retry loop itself is
// driven by backoff.Retry over retryConfig, with backoff.WithContext folding
// in ctx cancellation and backoff.WithMaxRetries enforcing the attempt cap —
// backoff.Permanent marks a non-retryable classified error so Retry stops
// without sleeping again.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	requestID := uuid.New().String()
	start := time.Now()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&retryConfig{initial: c.initialBackoff, multiplier: c.backoffMultiplier}, uint64(maxRetries-1)),
		ctx,
	)

	var resp *Response
	attempt := 0
	operation := func() error {
		attempt++
		stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
		defer cancel()

		rawJSON, finishReason, usage, callErr := c.call(stepCtx, req)
		if callErr == nil {
			resp = &Response{
				RawJSON: rawJSON,
				Metadata: Metadata{
					RequestID:    requestID,
					Model:        req.Model,
					Temperature:  req.Temperature,
					Latency:      time.Since(start),
					AttemptCount: attempt,
					FinishReason: finishReason,
					TokenUsage:   usage,
					Status:       "ok",
				},
			}
			return nil
		}

		classified := classify(callErr).WithRequestID(requestID)
		if !retryable(classified) {
			return backoff.Permanent(classified)
		}
		return classified
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

// call performs exactly one non-streaming tool-use request and extracts the
// structured tool-call input as raw JSON. It never loops: the manual
// tool-use loop pattern is unnecessary here because the tool is declared
// purely to force a structured reply, not for the model to invoke
// application logic; a single round trip is sufficient.
func (c *AnthropicClient) call(ctx context.Context, req Request) (json.RawMessage, string, TokenUsage, error) {
	tool := anthropic.ToolParam{
		Name:        req.ToolName,
		Description: anthropic.String(req.ToolDescription),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: req.ToolSchema,
		},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &tool}},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, "", TokenUsage{}, err
	}

	usage := TokenUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens}
	finishReason := string(resp.StopReason)

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			if variant.Name == req.ToolName {
				return json.RawMessage(variant.JSON.Input.Raw()), finishReason, usage, nil
			}
		}
	}

	return nil, "", TokenUsage{}, fmt.Errorf("llm: model did not call tool %q", req.ToolName)
}
