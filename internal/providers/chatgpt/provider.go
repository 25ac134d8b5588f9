package chatgpt

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

const defaultModel = "gpt-4"

// Provider talks to the OpenAI chat completions API. Stateless: one call
// per summarize/generate, nothing cached.
type Provider struct {
	cfg      config.ProviderConfig
	tmpl     *prompts.Templates
	client   *openai.Client
	log      *logrus.Entry
	model    string
	endpoint string
	trace    providers.TraceSink
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.TraceAware = (*Provider)(nil)

// New creates a ChatGPT provider.
func New(cfg config.ProviderConfig, tmpl *prompts.Templates) (*Provider, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		cfg:      cfg,
		tmpl:     tmpl,
		client:   openai.NewClientWithConfig(clientCfg),
		log:      logrus.WithField("provider", "chatgpt"),
		model:    model,
		endpoint: clientCfg.BaseURL,
	}, nil
}

func (p *Provider) Name() string { return "chatgpt" }

func (p *Provider) SetTrace(sink providers.TraceSink) { p.trace = sink }

func (p *Provider) Info() providers.Info {
	return providers.Info{
		Name:              "chatgpt",
		DisplayName:       "ChatGPT",
		Description:       "OpenAI ChatGPT chat digests",
		Version:           p.model,
		MaxTokens:         4000,
		SupportsStreaming: true,
		Endpoint:          p.endpoint,
	}
}

// ValidateConfig rejects placeholder and too-short keys without any I/O.
func (p *Provider) ValidateConfig() error {
	if p.cfg.APIKey == "" || p.cfg.APIKey == "your_openai_key" {
		return errors.New("chatgpt API key is not configured")
	}
	if len(p.cfg.APIKey) < 20 {
		return errors.New("chatgpt API key is too short")
	}
	if !strings.HasPrefix(p.cfg.APIKey, "sk-") {
		p.log.Warn("chatgpt API key does not start with sk-")
	}
	return nil
}

// IsAvailable issues a 5-token completion as a liveness probe.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if err := p.ValidateConfig(); err != nil {
		return false
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hello"}},
		MaxTokens: 5,
	})
	if err != nil {
		p.log.WithError(err).Error("chatgpt unavailable")
		return false
	}
	return len(resp.Choices) > 0
}

// SummarizeChat formats the messages and asks ChatGPT for the digest.
func (p *Provider) SummarizeChat(ctx context.Context, messages []providers.ChatMessage, chatCtx *providers.ChatContext) (string, error) {
	transcript, optimizedCount := providers.BuildTranscript(messages)
	if p.trace != nil {
		p.trace.LogTranscript(transcript, optimizedCount)
	}
	p.log.WithFields(logrus.Fields{
		"messages":  len(messages),
		"optimized": optimizedCount,
		"chars":     len(transcript),
	}).Info("submitting chat for summarization")

	data := prompts.SummaryData{Transcript: transcript, MessageCount: optimizedCount}
	if chatCtx != nil {
		data.Date = chatCtx.Date
	}
	prompt, err := p.tmpl.Summarization(data)
	if err != nil {
		return "", providers.NewBackendError("chatgpt", providers.KindUnknown, "building digest prompt", err)
	}

	return p.complete(ctx, prompt, "summarization", 0.7, 1000)
}

// GenerateResponse performs a free-form completion for follow-up prompts.
func (p *Provider) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, prompt, "generation", 0.3, 2000)
}

func (p *Provider) complete(ctx context.Context, prompt, stage string, temperature float32, maxTokens int) (string, error) {
	if p.trace != nil {
		p.trace.LogRequest(stage, prompt)
	}
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", p.classify(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", providers.NewBackendError("chatgpt", providers.KindMalformedResponse, "response contains no content", nil)
	}

	content := resp.Choices[0].Message.Content
	if p.trace != nil {
		p.trace.LogResponse(stage, content, time.Since(start))
	}
	p.log.WithFields(logrus.Fields{
		"chars":  len(content),
		"tokens": resp.Usage.TotalTokens,
	}).Info("chatgpt response received")
	return content, nil
}

// classify splits OpenAI failures into rate-limit, auth and generic API
// errors. Callers see the same failure either way; the distinction is for
// the logs.
func (p *Provider) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			p.log.WithError(err).Error("chatgpt rate limit exceeded")
			return providers.NewBackendError("chatgpt", providers.KindRateLimited, "rate limit exceeded", err)
		case 401, 403:
			p.log.WithError(err).Error("chatgpt authentication failed")
			return providers.NewBackendError("chatgpt", providers.KindAuth, "authentication failed", err)
		default:
			p.log.WithError(err).Error("chatgpt API error")
			return providers.NewBackendError("chatgpt", providers.KindUnknown, "API error", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return providers.NewBackendError("chatgpt", providers.KindTimeout, "request cancelled or timed out", err)
	}
	p.log.WithError(err).Error("chatgpt request failed")
	return providers.NewBackendError("chatgpt", providers.KindNetwork, "request failed", err)
}
