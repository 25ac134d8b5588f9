package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "deepseek/deepseek-chat-v3.1:free"

	// Rate-limit retry policy: fixed delay, no jitter, 429 only.
	defaultMaxAttempts = 4
	defaultRetryDelay  = 5 * time.Second
)

// Provider talks to the OpenRouter API and multiplexes over its free-tier
// models. The model catalog is cached; the current model is runtime-mutable.
type Provider struct {
	cfg     config.ProviderConfig
	tmpl    *prompts.Templates
	client  *http.Client
	log     *logrus.Entry
	baseURL string

	maxAttempts int
	retryDelay  time.Duration

	mu           sync.Mutex
	currentModel string
	catalog      []providers.ModelInfo
	catalogAt    time.Time
	catalogTTL   time.Duration

	now   func() time.Time
	trace providers.TraceSink
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.ModelLister = (*Provider)(nil)
var _ providers.ModelSelector = (*Provider)(nil)
var _ providers.TraceAware = (*Provider)(nil)

// New creates an OpenRouter provider.
func New(cfg config.ProviderConfig, tmpl *prompts.Templates) (*Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Provider{
		cfg:          cfg,
		tmpl:         tmpl,
		client:       &http.Client{Timeout: timeout},
		log:          logrus.WithField("provider", "openrouter"),
		baseURL:      baseURL,
		maxAttempts:  maxAttempts,
		retryDelay:   defaultRetryDelay,
		currentModel: model,
		now:          time.Now,
	}, nil
}

func (p *Provider) Name() string { return "openrouter" }

func (p *Provider) SetTrace(sink providers.TraceSink) { p.trace = sink }

func (p *Provider) Info() providers.Info {
	return providers.Info{
		Name:              "openrouter",
		DisplayName:       "OpenRouter",
		Description:       "OpenRouter free-tier models for chat digests",
		Version:           p.CurrentModel(),
		MaxTokens:         4000,
		SupportsStreaming: true,
		Endpoint:          p.baseURL,
	}
}

// ValidateConfig rejects placeholder and too-short keys without any I/O.
func (p *Provider) ValidateConfig() error {
	if p.cfg.APIKey == "" || p.cfg.APIKey == "your_openrouter_key" {
		return errors.New("openrouter API key is not configured")
	}
	if len(p.cfg.APIKey) < 20 {
		return errors.New("openrouter API key is too short")
	}
	return nil
}

// IsAvailable probes the models endpoint.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if err := p.ValidateConfig(); err != nil {
		return false
	}
	if _, err := p.fetchModels(ctx); err != nil {
		p.log.WithError(err).Error("openrouter unavailable")
		return false
	}
	return true
}

// SetModel switches the active model. Unknown ids are allowed — OpenRouter
// serves more models than the local catalog knows about — but logged.
func (p *Provider) SetModel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := staticCatalog[id]; !known {
		p.log.WithField("model", id).Warn("model not in the known catalog, using it anyway")
	}
	p.currentModel = id
	p.log.WithField("model", id).Info("openrouter model selected")
}

// CurrentModel returns the active model id.
func (p *Provider) CurrentModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentModel
}

// SummarizeChat formats the messages and asks the current model for the
// digest.
func (p *Provider) SummarizeChat(ctx context.Context, messages []providers.ChatMessage, chatCtx *providers.ChatContext) (string, error) {
	transcript, optimizedCount := providers.BuildTranscript(messages)
	if p.trace != nil {
		p.trace.LogTranscript(transcript, optimizedCount)
	}
	p.log.WithFields(logrus.Fields{
		"messages":  len(messages),
		"optimized": optimizedCount,
		"chars":     len(transcript),
		"model":     p.CurrentModel(),
	}).Info("submitting chat for summarization")

	data := prompts.SummaryData{Transcript: transcript, MessageCount: optimizedCount}
	if chatCtx != nil {
		data.Date = chatCtx.Date
	}
	prompt, err := p.tmpl.Summarization(data)
	if err != nil {
		return "", providers.NewBackendError("openrouter", providers.KindUnknown, "building digest prompt", err)
	}

	return p.completeWithRetry(ctx, prompt, "summarization", 0.7, 1000)
}

// GenerateResponse performs a free-form completion with bounded retry on
// HTTP 429: up to maxAttempts tries with a fixed delay. Any other non-200
// fails immediately.
func (p *Provider) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	return p.completeWithRetry(ctx, prompt, "generation", 0.3, 2000)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (p *Provider) completeWithRetry(ctx context.Context, prompt, stage string, temperature float64, maxTokens int) (string, error) {
	if p.trace != nil {
		p.trace.LogRequest(stage, prompt)
	}
	start := p.now()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if attempt > 1 {
			p.log.WithFields(logrus.Fields{"attempt": attempt, "max": p.maxAttempts}).Info("retrying after rate limit")
		}

		content, retryable, err := p.completeOnce(ctx, prompt, temperature, maxTokens)
		if err == nil {
			if p.trace != nil {
				p.trace.LogResponse(stage, content, p.now().Sub(start))
			}
			p.log.WithField("chars", len(content)).Info("openrouter response received")
			return content, nil
		}

		lastErr = err
		if !retryable {
			return "", err
		}
		if attempt == p.maxAttempts {
			break
		}

		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return "", providers.NewBackendError("openrouter", providers.KindTimeout, "cancelled while waiting out rate limit", ctx.Err())
		}
	}

	p.log.WithField("attempts", p.maxAttempts).Error("rate limit persisted through all retries")
	return "", lastErr
}

// completeOnce performs a single chat completion. retryable is true only
// for HTTP 429.
func (p *Provider) completeOnce(ctx context.Context, prompt string, temperature float64, maxTokens int) (content string, retryable bool, err error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.CurrentModel(),
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", false, providers.NewBackendError("openrouter", providers.KindUnknown, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, providers.NewBackendError("openrouter", providers.KindUnknown, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", false, providers.NewBackendError("openrouter", providers.KindNetwork, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", true, providers.NewBackendError("openrouter", providers.KindRateLimited, "rate limit exceeded", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", false, providers.NewBackendError("openrouter", providers.KindAuth, fmt.Sprintf("authentication failed (%d)", resp.StatusCode), nil)
	default:
		respBody, _ := io.ReadAll(resp.Body)
		return "", false, providers.NewBackendError("openrouter", providers.KindUnknown,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false, providers.NewBackendError("openrouter", providers.KindMalformedResponse, "decoding response", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", false, providers.NewBackendError("openrouter", providers.KindMalformedResponse, "response contains no content", nil)
	}
	return parsed.Choices[0].Message.Content, false, nil
}
