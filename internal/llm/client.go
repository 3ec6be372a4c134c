package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CompletionClient is the contract the rest of the service programs
// against; Client is the production implementation.
type CompletionClient interface {
	Chat(ctx context.Context, messages []Message, opts ...Option) (string, error)
	IsHealthy(ctx context.Context) bool
}

// Message is a chat message in the completion API's wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Option configures a single completion call.
type Option func(*callOptions)

type callOptions struct {
	temperature  float64
	maxTokens    int
	model        string
	jsonResponse bool
}

// WithTemperature sets the sampling temperature for the call.
func WithTemperature(temperature float64) Option {
	return func(o *callOptions) { o.temperature = temperature }
}

// WithMaxTokens caps the length of the completion.
func WithMaxTokens(maxTokens int) Option {
	return func(o *callOptions) { o.maxTokens = maxTokens }
}

// WithModel overrides the client's default model for one call.
func WithModel(model string) Option {
	return func(o *callOptions) { o.model = model }
}

// WithJSONResponse instructs the service to return a single JSON object.
func WithJSONResponse() Option {
	return func(o *callOptions) { o.jsonResponse = true }
}

// Client talks to an OpenAI-compatible chat completion service.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a completion client for the given service endpoint.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "completion-service",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer:  otel.Tracer("completion-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// SetBaseURL sets the base URL for testing purposes.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Chat sends a chat history to the completion service and returns the
// assistant's reply content.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ...Option) (string, error) {
	ctx, span := c.tracer.Start(ctx, "completion.chat")
	defer span.End()

	options := &callOptions{
		temperature: 0.7,
		model:       c.model,
	}
	for _, opt := range opts {
		opt(options)
	}

	span.SetAttributes(
		attribute.String("llm.model", options.model),
		attribute.Float64("llm.temperature", options.temperature),
		attribute.Int("llm.message_count", len(messages)),
		attribute.Bool("llm.json_response", options.jsonResponse),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.chatInternal(ctx, messages, options)
	})

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to call completion service: %w", err)
	}

	return result.(string), nil
}

// chatInternal performs the actual HTTP request.
func (c *Client) chatInternal(ctx context.Context, messages []Message, options *callOptions) (string, error) {
	reqBody := chatRequest{
		Model:       options.model,
		Messages:    messages,
		Temperature: options.temperature,
	}
	if options.maxTokens > 0 {
		reqBody.MaxTokens = options.maxTokens
	}
	if options.jsonResponse {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("completion service returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return "", fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if chatResp.Error != nil {
		return "", fmt.Errorf("completion service error (%s): %s", chatResp.Error.Type, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("completion service returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

// IsHealthy checks if the completion service is reachable.
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "completion.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/models", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
