package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tradecouncil/tradecouncil/internal/errs"
	"github.com/tradecouncil/tradecouncil/internal/metrics"
)

// Message is a single chat turn. Tool results are sent back as role "tool"
// with the originating ToolCallID set.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-initiated request to invoke a bound tool.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON argument object
}

// ToolDef declares a callable tool to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResult is the model's reply: either final content or tool calls.
type ChatResult struct {
	Content          string     `json:"content"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
}

// ChatClient is the LLM capability surface consumed by the agent runtime.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResult, error)
}

// LLMClientConfig contains configuration for the LLM client.
type LLMClientConfig struct {
	Endpoint    string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LLMClient talks to an OpenAI-compatible chat-completions endpoint.
// Chat is not idempotent, so it is never retried; a circuit breaker stops
// hammering a failing upstream instead.
type LLMClient struct {
	endpoint    string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
}

// NewLLMClient creates a new LLM client
func NewLLMClient(config LLMClientConfig) *LLMClient {
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 4000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	return &LLMClient{
		endpoint:    config.Endpoint,
		apiKey:      config.APIKey,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		httpClient:  &http.Client{Timeout: config.Timeout},
		breaker:     breaker,
	}
}

// wire types for the OpenAI-compatible API

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolFun `json:"function"`
}

type wireToolFun struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Chat sends a chat completion request and returns either final content or
// the model's tool calls.
func (c *LLMClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResult, error) {
	request := chatRequest{
		Model:       model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.ID = tc.ID
			wtc.Type = "function"
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		request.Messages = append(request.Messages, wm)
	}
	for _, t := range tools {
		request.Tools = append(request.Tools, wireTool{
			Type:     "function",
			Function: wireToolFun{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArgument, "failed to marshal chat request", err)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(ctx, requestBody)
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errs.Wrap(errs.KindUnavailable, "llm circuit open", err)
		}
		return nil, err
	}

	chatResp := result.(*chatResponse)
	if len(chatResp.Choices) == 0 {
		return nil, errs.New(errs.KindUpstream, "no choices in llm response")
	}

	choice := chatResp.Choices[0]
	out := &ChatResult{
		Content:          choice.Message.Content,
		Model:            chatResp.Model,
		PromptTokens:     chatResp.Usage.PromptTokens,
		CompletionTokens: chatResp.Usage.CompletionTokens,
	}
	for _, wtc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        wtc.ID,
			Name:      wtc.Function.Name,
			Arguments: wtc.Function.Arguments,
		})
	}

	metrics.LLMCalls.WithLabelValues("success").Inc()
	metrics.LLMTokens.WithLabelValues("prompt").Add(float64(chatResp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues("completion").Add(float64(chatResp.Usage.CompletionTokens))

	log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Int("tool_calls", len(out.ToolCalls)).
		Dur("duration", time.Since(start)).
		Msg("LLM request completed")

	return out, nil
}

func (c *LLMClient) send(ctx context.Context, body []byte) (*chatResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to create llm request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.KindCanceled, "llm request canceled", ctx.Err())
		}
		return nil, errs.Wrap(errs.KindTimeout, "llm request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "failed to read llm response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		msg := string(respBody)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errs.Newf(errs.KindRateLimited, "llm rate limited: %s", msg)
		case resp.StatusCode >= 500:
			return nil, errs.Newf(errs.KindUpstream, "llm error (status %d): %s", resp.StatusCode, msg)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, errs.Newf(errs.KindUnavailable, "llm auth rejected: %s", msg)
		default:
			return nil, errs.Newf(errs.KindInvalidArgument, "llm rejected request (status %d): %s", resp.StatusCode, msg)
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errs.Wrap(errs.KindUpstream, "failed to parse llm response", err)
	}
	return &chatResp, nil
}

var _ ChatClient = (*LLMClient)(nil)
