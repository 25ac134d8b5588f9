package providers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ChatMessage is one message from the persistence layer. Timestamp is
// milliseconds since the epoch.
type ChatMessage struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

// ChatContext carries the scope of one analysis run.
type ChatContext struct {
	ChatID       string
	Date         string
	MessageCount int
}

// Info is static descriptive metadata for a provider.
type Info struct {
	Name              string `json:"name"`
	DisplayName       string `json:"display_name"`
	Description       string `json:"description"`
	Version           string `json:"version"`
	MaxTokens         int    `json:"max_tokens"`
	SupportsStreaming bool   `json:"supports_streaming"`
	Endpoint          string `json:"endpoint"`
	Local             bool   `json:"local,omitempty"`
}

// ModelInfo describes one selectable model of a provider.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description,omitempty"`
	Free          bool   `json:"free,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// Provider is the capability every LLM backend implements.
//
// IsAvailable and ValidateConfig never panic; availability problems are
// reported as false plus a logged diagnostic. SummarizeChat and
// GenerateResponse report failures through the error return — the legacy
// "❌ ..." sentinel exists only at the HTTP boundary.
type Provider interface {
	// Name returns the lowercase provider name.
	Name() string

	// IsAvailable issues a minimal live request against the backend.
	IsAvailable(ctx context.Context) bool

	// SummarizeChat optimizes the messages, formats them into a transcript
	// and asks the backend for the evening digest.
	SummarizeChat(ctx context.Context, messages []ChatMessage, chatCtx *ChatContext) (string, error)

	// GenerateResponse performs a free-form single-turn completion, used for
	// the reflection and improvement follow-ups.
	GenerateResponse(ctx context.Context, prompt string) (string, error)

	// Info returns static metadata about the provider.
	Info() Info

	// ValidateConfig is pure: it rejects placeholder, missing or too-short
	// keys without touching the network.
	ValidateConfig() error
}

// ModelLister is implemented by providers that can enumerate their models.
type ModelLister interface {
	GetAvailableModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelSelector is implemented by providers with runtime-mutable model
// selection (Ollama, OpenRouter).
type ModelSelector interface {
	SetModel(id string)
	CurrentModel() string
}

// TraceSink receives per-stage artifacts of a run. Implementations must
// never fail the caller.
type TraceSink interface {
	LogTranscript(formatted string, messageCount int)
	LogRequest(stage, prompt string)
	LogResponse(stage, response string, elapsed time.Duration)
}

// TraceAware providers accept a TraceSink for the duration of a run. The
// sink is assigned, not owned.
type TraceAware interface {
	SetTrace(sink TraceSink)
}

// Initialize validates the provider's configuration and probes availability.
// It fails closed: any problem yields false and a log line, never a panic.
// Safe to call more than once.
func Initialize(ctx context.Context, p Provider) bool {
	log := logrus.WithField("provider", p.Name())
	if err := p.ValidateConfig(); err != nil {
		log.WithError(err).Error("provider configuration invalid")
		return false
	}
	if !p.IsAvailable(ctx) {
		log.Error("provider unavailable")
		return false
	}
	log.Info("provider initialized")
	return true
}

// DisplayName maps a provider name to its human-readable form.
func DisplayName(name string) string {
	switch name {
	case "gigachat":
		return "GigaChat"
	case "chatgpt":
		return "ChatGPT"
	case "openrouter":
		return "OpenRouter"
	case "gemini":
		return "Gemini"
	case "ollama":
		return "Ollama (local)"
	default:
		return name
	}
}
