package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"
)

// Finish reasons reported by the generateContent API. SAFETY, RECITATION
// and OTHER mean the model refused the content, not that the call failed.
const (
	finishSafety     = "SAFETY"
	finishRecitation = "RECITATION"
	finishOther      = "OTHER"
)

// Provider talks to the Google Gemini REST API.
type Provider struct {
	cfg     config.ProviderConfig
	tmpl    *prompts.Templates
	client  *http.Client
	log     *logrus.Entry
	baseURL string
	model   string
	trace   providers.TraceSink
}

var _ providers.Provider = (*Provider)(nil)
var _ providers.TraceAware = (*Provider)(nil)

// New creates a Gemini provider.
func New(cfg config.ProviderConfig, tmpl *prompts.Templates) (*Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
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
		cfg:     cfg,
		tmpl:    tmpl,
		client:  &http.Client{Timeout: timeout},
		log:     logrus.WithField("provider", "gemini"),
		baseURL: baseURL,
		model:   model,
	}, nil
}

func (p *Provider) Name() string { return "gemini" }

func (p *Provider) SetTrace(sink providers.TraceSink) { p.trace = sink }

func (p *Provider) Info() providers.Info {
	return providers.Info{
		Name:              "gemini",
		DisplayName:       "Google Gemini",
		Description:       "Google Gemini chat digests",
		Version:           p.model,
		MaxTokens:         8000,
		SupportsStreaming: false,
		Endpoint:          p.baseURL,
	}
}

// ValidateConfig rejects placeholder and too-short keys without any I/O.
func (p *Provider) ValidateConfig() error {
	if p.cfg.APIKey == "" || p.cfg.APIKey == "your_gemini_key" {
		return errors.New("gemini API key is not configured")
	}
	if len(p.cfg.APIKey) < 20 {
		return errors.New("gemini API key is too short")
	}
	return nil
}

// IsAvailable issues a minimal generateContent call.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	if err := p.ValidateConfig(); err != nil {
		return false
	}
	_, _, err := p.generate(ctx, "Hello", 0.0, 5)
	if err != nil {
		p.log.WithError(err).Error("gemini unavailable")
		return false
	}
	return true
}

// SummarizeChat formats the messages and asks Gemini for the digest. When
// Gemini blocks the content on safety or recitation grounds, the returned
// text is an advisory recommending another provider — the user should see
// that verbatim, so it is not an error.
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
		return "", providers.NewBackendError("gemini", providers.KindUnknown, "building digest prompt", err)
	}

	if p.trace != nil {
		p.trace.LogRequest("summarization", prompt)
	}
	start := time.Now()

	content, finishReason, err := p.generate(ctx, prompt, 0.7, 1000)
	if err != nil {
		return "", err
	}
	if advisory := blockAdvisory(finishReason); advisory != "" {
		p.log.WithField("finish_reason", finishReason).Warn("gemini blocked the summarization")
		return advisory, nil
	}

	if p.trace != nil {
		p.trace.LogResponse("summarization", content, time.Since(start))
	}
	return content, nil
}

// GenerateResponse performs a free-form completion. Safety and recitation
// blocks surface as classified errors here so the pipeline can degrade.
func (p *Provider) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	if p.trace != nil {
		p.trace.LogRequest("generation", prompt)
	}
	start := time.Now()

	content, finishReason, err := p.generate(ctx, prompt, 0.3, 2000)
	if err != nil {
		return "", err
	}
	if advisory := blockAdvisory(finishReason); advisory != "" {
		p.log.WithField("finish_reason", finishReason).Warn("gemini blocked the generation")
		return "", providers.NewBackendError("gemini", providers.KindSafetyBlocked, advisory, nil)
	}

	if p.trace != nil {
		p.trace.LogResponse("generation", content, time.Since(start))
	}
	p.log.WithField("chars", len(content)).Info("gemini response received")
	return content, nil
}

// blockAdvisory translates blocking finish reasons into the user-facing
// advisory text; non-blocking reasons yield "".
func blockAdvisory(finishReason string) string {
	switch finishReason {
	case finishSafety:
		return "⚠️ Gemini blocked the request on safety grounds. Try GigaChat or OpenRouter instead."
	case finishRecitation:
		return "⚠️ Gemini blocked the request because the content resembles copyrighted material. Try GigaChat or OpenRouter instead."
	case finishOther:
		return "⚠️ Gemini declined to answer this request. Try a different provider."
	default:
		return ""
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
}

var safetyOff = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

// generate calls the generateContent endpoint and returns the text plus the
// finish reason; blocking decisions are left to the caller.
func (p *Provider) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, string, error) {
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
		SafetySettings:   safetyOff,
	})
	if err != nil {
		return "", "", providers.NewBackendError("gemini", providers.KindUnknown, "encoding request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.baseURL, p.model, p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", providers.NewBackendError("gemini", providers.KindUnknown, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", providers.NewBackendError("gemini", providers.KindNetwork, "generateContent request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		kind := providers.KindUnknown
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = providers.KindAuth
		case http.StatusTooManyRequests:
			kind = providers.KindRateLimited
		}
		return "", "", providers.NewBackendError("gemini", kind,
			fmt.Sprintf("generateContent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))), nil)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", providers.NewBackendError("gemini", providers.KindMalformedResponse, "decoding response", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", "", providers.NewBackendError("gemini", providers.KindMalformedResponse, "response contains no candidates", nil)
	}

	candidate := parsed.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), candidate.FinishReason, nil
}
