package ollama

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
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "gpt-oss:20b"

	// Local models generate slowly on CPU; anything under five minutes
	// times out mid-answer.
	defaultTimeout = 300 * time.Second
	probeTimeout   = 10 * time.Second
)

// Provider talks to a local Ollama daemon. No authentication; availability
// means the daemon answers /api/tags.
type Provider struct {
	cfg     config.ProviderConfig
	tmpl    *prompts.Templates
	client  *http.Client
	probe   *http.Client
	log     *logrus.Entry
	baseURL string

	mu           sync.Mutex
	currentModel string

	trace providers.TraceSink
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.ModelLister = (*Provider)(nil)
var _ providers.ModelSelector = (*Provider)(nil)
var _ providers.TraceAware = (*Provider)(nil)

// New creates an Ollama provider.
func New(cfg config.ProviderConfig, tmpl *prompts.Templates) (*Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		cfg:          cfg,
		tmpl:         tmpl,
		client:       &http.Client{Timeout: timeout},
		probe:        &http.Client{Timeout: probeTimeout},
		log:          logrus.WithField("provider", "ollama"),
		baseURL:      baseURL,
		currentModel: model,
	}, nil
}

func (p *Provider) Name() string { return "ollama" }

func (p *Provider) SetTrace(sink providers.TraceSink) { p.trace = sink }

func (p *Provider) Info() providers.Info {
	model := p.CurrentModel()
	return providers.Info{
		Name:              "ollama",
		DisplayName:       "Ollama (local)",
		Description:       fmt.Sprintf("Local %s model served by Ollama", model),
		Version:           model,
		MaxTokens:         2000,
		SupportsStreaming: false,
		Endpoint:          p.baseURL,
		Local:             true,
	}
}

// ValidateConfig checks the endpoint and model are set. No key: the daemon
// is unauthenticated.
func (p *Provider) ValidateConfig() error {
	if p.baseURL == "" {
		return errors.New("ollama base URL is not configured")
	}
	if p.CurrentModel() == "" {
		return errors.New("ollama model is not configured")
	}
	return nil
}

// IsAvailable asks the daemon for its tags. A running daemon without the
// configured model still counts as available — Ollama pulls on demand — but
// the mismatch is logged.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	models, err := p.listTags(ctx)
	if err != nil {
		p.log.WithError(err).Error("ollama unavailable")
		return false
	}

	current := p.CurrentModel()
	for _, m := range models {
		if m == current {
			return true
		}
	}
	p.log.WithFields(logrus.Fields{
		"model":     current,
		"installed": models,
	}).Warn("configured model not installed on the ollama daemon")
	return true
}

// SetModel switches the active model.
func (p *Provider) SetModel(id string) {
	p.mu.Lock()
	p.currentModel = id
	p.mu.Unlock()
	p.log.WithField("model", id).Info("ollama model selected")
}

// CurrentModel returns the active model id.
func (p *Provider) CurrentModel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentModel
}

// GetAvailableModels lists the models installed on the daemon.
func (p *Provider) GetAvailableModels(ctx context.Context) ([]providers.ModelInfo, error) {
	names, err := p.listTags(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]providers.ModelInfo, 0, len(names))
	for _, name := range names {
		models = append(models, providers.ModelInfo{
			ID:          name,
			DisplayName: name,
			Free:        true,
		})
	}
	return models, nil
}

// SummarizeChat formats the messages and asks the local model for the
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
		return "", providers.NewBackendError("ollama", providers.KindUnknown, "building digest prompt", err)
	}

	return p.generate(ctx, prompt, "summarization", 1000)
}

// GenerateResponse performs a free-form completion on the local model.
func (p *Provider) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	return p.generate(ctx, prompt, "generation", 2000)
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) generate(ctx context.Context, prompt, stage string, maxTokens int) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.CurrentModel(),
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: 0.7,
			TopP:        0.9,
			NumPredict:  maxTokens,
		},
	})
	if err != nil {
		return "", providers.NewBackendError("ollama", providers.KindUnknown, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", providers.NewBackendError("ollama", providers.KindUnknown, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if p.trace != nil {
		p.trace.LogRequest(stage, prompt)
	}
	start := time.Now()

	resp, err := p.client.Do(req)
	if err != nil {
		kind := providers.KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = providers.KindTimeout
		}
		return "", providers.NewBackendError("ollama", kind, "generate request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", providers.NewBackendError("ollama", providers.KindUnknown,
			fmt.Sprintf("generate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", providers.NewBackendError("ollama", providers.KindMalformedResponse, "decoding response", err)
	}

	content := strings.TrimSpace(parsed.Response)
	if content == "" {
		return "", providers.NewBackendError("ollama", providers.KindMalformedResponse, "response contains no content", nil)
	}

	if p.trace != nil {
		p.trace.LogResponse(stage, content, time.Since(start))
	}
	p.log.WithFields(logrus.Fields{
		"chars":   len(content),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("ollama response received")
	return content, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// listTags queries /api/tags with the short probe timeout so an absent
// daemon fails fast instead of holding the five-minute generate budget.
func (p *Provider) listTags(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, providers.NewBackendError("ollama", providers.KindUnknown, "building tags request", err)
	}

	resp, err := p.probe.Do(req)
	if err != nil {
		return nil, providers.NewBackendError("ollama", providers.KindUnavailable, "ollama daemon unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, providers.NewBackendError("ollama", providers.KindUnavailable,
			fmt.Sprintf("tags endpoint returned %d", resp.StatusCode), nil)
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, providers.NewBackendError("ollama", providers.KindMalformedResponse, "decoding tags response", err)
	}

	names := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		names = append(names, m.Name)
	}
	return names, nil
}
