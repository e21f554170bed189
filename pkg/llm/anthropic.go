package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	diagnosisToolName = "record_diagnosis"
	defaultMaxTokens  = 4096
	defaultModel      = sdk.ModelClaudeSonnet4_5_20250929
)

const systemPrompt = `You are an SRE diagnosing an incident ticket for a supervised system.
You receive the ticket, recent observations, and related ticket history.
Identify the most likely root cause, cite the evidence that supports it,
list plausible alternative hypotheses, and recommend remediation actions
drawn only from the action catalog provided. Record your assessment with
the record_diagnosis tool. If the provided context is insufficient to
reach a conclusion, say so in primary_cause and recommend no actions.`

// MessagesService is the slice of the provider SDK the client uses,
// extracted so tests can stub responses.
type MessagesService interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClient implements Client against the Anthropic Messages API
// with forced tool use, so the diagnosis always arrives as structured
// JSON rather than prose.
type AnthropicClient struct {
	messages    MessagesService
	model       sdk.Model
	maxTokens   int64
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
}

// ClientOption configures an AnthropicClient.
type ClientOption func(*AnthropicClient)

// WithModel overrides the model.
func WithModel(model string) ClientOption {
	return func(c *AnthropicClient) {
		if model != "" {
			c.model = sdk.Model(model)
		}
	}
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) ClientOption {
	return func(c *AnthropicClient) { c.maxTokens = n }
}

// WithMessagesService overrides the SDK service (used in tests).
func WithMessagesService(ms MessagesService) ClientOption {
	return func(c *AnthropicClient) { c.messages = ms }
}

// NewAnthropicClient creates a client authenticated with the given API key.
func NewAnthropicClient(apiKey string, opts ...ClientOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	c := &AnthropicClient{
		messages:    &ac.Messages,
		model:       defaultModel,
		maxTokens:   defaultMaxTokens,
		maxAttempts: 3,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-time.After(d):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Diagnose sends the ticket context and action catalog, forcing a
// record_diagnosis tool call, and parses the structured result.
func (c *AnthropicClient) Diagnose(ctx context.Context, ticketContext string, actions []ActionSpec) (*Result, error) {
	tool := diagnosisTool(actions)
	params := sdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(ticketContext)),
		},
		Tools:      []sdk.ToolUnionParam{tool},
		ToolChoice: sdk.ToolChoiceParamOfTool(diagnosisToolName),
	}

	msg, err := c.call(ctx, params)
	if err != nil {
		return nil, err
	}

	switch msg.StopReason {
	case sdk.StopReasonMaxTokens:
		return &Result{Stop: StopMaxTokens, Raw: rawText(msg)}, nil
	case sdk.StopReasonRefusal:
		return &Result{Stop: StopRefusal, Raw: rawText(msg)}, nil
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" || block.Name != diagnosisToolName {
			continue
		}
		var diag Diagnosis
		if err := json.Unmarshal(block.Input, &diag); err != nil {
			return nil, fmt.Errorf("decode diagnosis payload: %w", err)
		}
		return &Result{Diagnosis: &diag, Stop: StopNormal, Raw: string(block.Input)}, nil
	}
	return nil, ErrNoDiagnosis
}

// call retries transient provider errors (429 and 5xx) with a short
// doubling backoff before giving up.
func (c *AnthropicClient) call(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	delay := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		msg, err := c.messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		var apiErr *sdk.Error
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("anthropic request: %w", err)
		}
		if apiErr.StatusCode != 429 && apiErr.StatusCode < 500 {
			return nil, fmt.Errorf("anthropic request: %w", err)
		}
		if attempt == c.maxAttempts {
			break
		}
		slog.Warn("LLM request throttled, retrying",
			"status", apiErr.StatusCode, "attempt", attempt, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	var apiErr *sdk.Error
	if errors.As(lastErr, &apiErr) && apiErr.StatusCode == 429 {
		return nil, fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
	}
	return nil, fmt.Errorf("anthropic request: %w", lastErr)
}

// diagnosisTool builds the forced tool schema. The action catalog is
// embedded in the description so recommendations stay inside it.
func diagnosisTool(actions []ActionSpec) sdk.ToolUnionParam {
	var catalog strings.Builder
	for _, a := range actions {
		fmt.Fprintf(&catalog, "- %s: %s\n", a.Name, a.Description)
	}

	schema := sdk.ToolInputSchemaParam{
		ExtraFields: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"severity": map[string]any{
					"type": "string",
					"enum": []string{"low", "medium", "high", "critical"},
				},
				"primary_cause": map[string]any{
					"type":        "string",
					"description": "Most likely root cause, one or two sentences.",
				},
				"evidence": map[string]any{
					"type":        "string",
					"description": "Observations supporting the primary cause.",
				},
				"alternatives": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"hypothesis": map[string]any{"type": "string"},
							"evidence":   map[string]any{"type": "string"},
						},
						"required": []string{"hypothesis"},
					},
				},
				"recommendations": map[string]any{
					"type":        "array",
					"description": "Remediation steps in execution order. Action names must come from the catalog:\n" + catalog.String(),
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"action_name":      map[string]any{"type": "string"},
							"parameters":       map[string]any{"type": "object"},
							"reason":           map[string]any{"type": "string"},
							"expected_outcome": map[string]any{"type": "string"},
							"urgency": map[string]any{
								"type": "string",
								"enum": []string{"immediate", "soon", "eventual"},
							},
						},
						"required": []string{"action_name", "reason"},
					},
				},
			},
			"required": []string{"severity", "primary_cause", "evidence"},
		},
	}

	tool := sdk.ToolUnionParamOfTool(schema, diagnosisToolName)
	tool.OfTool.Description = sdk.String("Record the structured diagnosis for the ticket.")
	return tool
}

func rawText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
