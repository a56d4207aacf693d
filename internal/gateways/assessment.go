package gateways

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// Assessor converts the combined transcript block of a completed session to
// a free-form judgment expected to contain one JSON object with fields
// level, explanation, tip.
type Assessor interface {
	Assess(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// AssessorOption is a functional option for OpenAIAssessor.
type AssessorOption func(*assessorConfig)

type assessorConfig struct {
	baseURL     string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

// WithAssessorBaseURL overrides the OpenAI API base URL, mainly for tests.
func WithAssessorBaseURL(baseURL string) AssessorOption {
	return func(c *assessorConfig) {
		c.baseURL = baseURL
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) AssessorOption {
	return func(c *assessorConfig) {
		c.temperature = t
	}
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int64) AssessorOption {
	return func(c *assessorConfig) {
		c.maxTokens = n
	}
}

// WithAssessorTimeout sets a per-request HTTP timeout.
func WithAssessorTimeout(d time.Duration) AssessorOption {
	return func(c *assessorConfig) {
		c.timeout = d
	}
}

// OpenAIAssessor implements Assessor using the OpenAI chat completions API.
type OpenAIAssessor struct {
	client      oai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAIAssessor constructs a new OpenAI-backed Assessor.
func NewOpenAIAssessor(apiKey, model string, opts ...AssessorOption) (*OpenAIAssessor, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &assessorConfig{
		temperature: 0.2,
		maxTokens:   500,
		timeout:     90 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAIAssessor{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// Assess implements Assessor.
func (a *OpenAIAssessor) Assess(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(userPrompt),
		},
		Temperature:         param.NewOpt(a.temperature),
		MaxCompletionTokens: param.NewOpt(a.maxTokens),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
