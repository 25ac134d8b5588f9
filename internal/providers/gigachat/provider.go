package gigachat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

const (
	defaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	oauthScope     = "GIGACHAT_API_PERS"

	defaultModel = "GigaChat:latest"

	// The backend advertises 30-minute tokens; refreshing 5 minutes early
	// avoids racing the hard expiry mid-request.
	tokenSoftTTL = 25 * time.Minute
)

// Provider talks to the Sberbank GigaChat API. The cached access token is
// the only mutable state; it is guarded so pooled instances refresh once.
type Provider struct {
	cfg    config.ProviderConfig
	tmpl   *prompts.Templates
	client *http.Client
	log    *logrus.Entry

	baseURL string
	authURL string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	now   func() time.Time
	trace providers.TraceSink
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.TraceAware = (*Provider)(nil)

// New creates a GigaChat provider. TLS verification stays on unless the
// configuration loudly opts out.
func New(cfg config.ProviderConfig, tmpl *prompts.Templates) (*Provider, error) {
	log := logrus.WithField("provider", "gigachat")

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	if cfg.InsecureSkipVerify {
		log.Warn("TLS certificate verification disabled for GigaChat; this exposes credentials to interception")
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Provider{
		cfg:     cfg,
		tmpl:    tmpl,
		client:  client,
		log:     log,
		baseURL: baseURL,
		authURL: defaultAuthURL,
		now:     time.Now,
	}, nil
}

func (p *Provider) Name() string { return "gigachat" }

func (p *Provider) SetTrace(sink providers.TraceSink) { p.trace = sink }

// Info returns static metadata about the provider.
func (p *Provider) Info() providers.Info {
	model := p.cfg.Model
	if model == "" {
		model = defaultModel
	}
	return providers.Info{
		Name:              "gigachat",
		DisplayName:       "GigaChat",
		Description:       "Sberbank GigaChat chat digests",
		Version:           model,
		MaxTokens:         1000,
		SupportsStreaming: false,
		Endpoint:          p.baseURL,
	}
}

// ValidateConfig rejects placeholder and too-short keys without any I/O.
func (p *Provider) ValidateConfig() error {
	if p.cfg.APIKey == "" || p.cfg.APIKey == "your_gigachat_key" {
		return errors.New("gigachat API key is not configured")
	}
	if len(p.cfg.APIKey) < 10 {
		return errors.New("gigachat API key is too short")
	}
	return nil
}

// IsAvailable attempts a token acquisition; a usable token means a usable
// backend.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if err := p.ValidateConfig(); err != nil {
		return false
	}
	if _, err := p.accessTokenLocked(ctx); err != nil {
		p.log.WithError(err).Error("gigachat unavailable")
		return false
	}
	return true
}

// SummarizeChat formats the messages and asks GigaChat for the digest.
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
		return "", providers.NewBackendError("gigachat", providers.KindUnknown, "building digest prompt", err)
	}

	return p.complete(ctx, prompt, "summarization", 0.7, 1000)
}

// GenerateResponse performs a free-form completion for follow-up prompts.
func (p *Provider) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	return p.complete(ctx, prompt, "generation", 0.3, 2000)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
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

func (p *Provider) complete(ctx context.Context, prompt, stage string, temperature float64, maxTokens int) (string, error) {
	token, err := p.accessTokenLocked(ctx)
	if err != nil {
		return "", err
	}

	model := p.cfg.Model
	if model == "" {
		model = defaultModel
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindUnknown, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindUnknown, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	if p.trace != nil {
		p.trace.LogRequest(stage, prompt)
	}
	start := p.now()

	resp, err := p.client.Do(req)
	if err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindNetwork, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := providers.KindUnknown
		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			kind = providers.KindAuth
		case resp.StatusCode == http.StatusTooManyRequests:
			kind = providers.KindRateLimited
		}
		return "", providers.NewBackendError("gigachat", kind,
			fmt.Sprintf("chat completion returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindMalformedResponse, "decoding response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", providers.NewBackendError("gigachat", providers.KindMalformedResponse, "response contains no choices", nil)
	}

	content := parsed.Choices[0].Message.Content
	if p.trace != nil {
		p.trace.LogResponse(stage, content, p.now().Sub(start))
	}
	p.log.WithField("chars", len(content)).Info("gigachat response received")
	return content, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// accessTokenLocked returns a cached token or acquires a fresh one. The
// check-then-refresh runs under the mutex so concurrent callers trigger a
// single OAuth exchange.
func (p *Provider) accessTokenLocked(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && p.now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	apiKey := p.cfg.APIKey
	// Long keys are the base64-wrapped client credentials; unwrap them first.
	if len(apiKey) > 50 {
		if decoded, err := base64.StdEncoding.DecodeString(apiKey); err == nil {
			apiKey = string(decoded)
		}
	}
	authHeader := base64.StdEncoding.EncodeToString([]byte(apiKey))

	form := url.Values{"scope": {oauthScope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindUnknown, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Basic "+authHeader)

	p.log.Debug("acquiring gigachat access token")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindNetwork, "token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := providers.KindAuth
		if resp.StatusCode >= 500 {
			kind = providers.KindUnavailable
		}
		return "", providers.NewBackendError("gigachat", kind,
			fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", providers.NewBackendError("gigachat", providers.KindMalformedResponse, "decoding token response", err)
	}
	if parsed.AccessToken == "" {
		return "", providers.NewBackendError("gigachat", providers.KindMalformedResponse, "token response missing access_token", nil)
	}

	p.accessToken = parsed.AccessToken
	p.tokenExpiry = p.now().Add(tokenSoftTTL)
	p.log.Info("gigachat access token acquired")
	return p.accessToken, nil
}
