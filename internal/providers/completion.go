package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boardflow/internal/automation"
	"boardflow/internal/config"
)

// ErrBreakerOpen is returned without calling the provider while its breaker is open.
var ErrBreakerOpen = errors.New("completion circuit breaker open")

// OpenAICompletion is an automation.CompletionProvider backed by any
// OpenAI-compatible chat completion endpoint.
type OpenAICompletion struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	enabled     bool
	breaker     *CircuitBreaker
	logger      *logrus.Logger
}

var _ automation.CompletionProvider = (*OpenAICompletion)(nil)

// NewOpenAICompletion creates the provider. Without an API key it reports
// itself unavailable and every AI action fails as not connected.
func NewOpenAICompletion(cfg config.OpenAIConfig, breaker *CircuitBreaker, logger *logrus.Logger) *OpenAICompletion {
	if logger == nil {
		logger = logrus.New()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAICompletion{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		enabled:     cfg.APIKey != "",
		breaker:     breaker,
		logger:      logger,
	}
}

func (p *OpenAICompletion) Available() bool {
	return p != nil && p.enabled
}

// Complete sends one chat completion and returns the first choice's text.
func (p *OpenAICompletion) Complete(ctx context.Context, messages []automation.ChatMessage, cc automation.CompletionConfig) (string, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return "", ErrBreakerOpen
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	if cc.Model != "" {
		req.Model = cc.Model
	}
	if cc.Temperature > 0 {
		req.Temperature = cc.Temperature
	}
	if cc.MaxTokens > 0 {
		req.MaxTokens = cc.MaxTokens
	}
	if cc.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ctx, span := otel.Tracer("boardflow/providers").Start(ctx, "completion.Complete", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.String("ai.model", req.Model), attribute.Bool("ai.json_mode", cc.JSONMode))
	defer span.End()

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.onFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		p.onFailure()
		return "", fmt.Errorf("chat completion: %w: no choices", automation.ErrUnparseableResponse)
	}
	if p.breaker != nil {
		p.breaker.OnSuccess()
	}

	p.logger.WithFields(logrus.Fields{
		"model":  resp.Model,
		"tokens": resp.Usage.TotalTokens,
	}).Debug("completion finished")
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAICompletion) onFailure() {
	if p.breaker != nil {
		p.breaker.OnFailure()
	}
}
