// Package factory wires the built-in provider constructors into a registry.
// It lives below the concrete providers so the providers package itself
// stays import-cycle free.
package factory

import (
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/chatgpt"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/gemini"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/gigachat"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/ollama"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers/openrouter"
)

// RegisterBuiltins registers every built-in provider constructor. The
// templates are shared; each provider renders its own prompts from them.
func RegisterBuiltins(reg *providers.Registry, tmpl *prompts.Templates) {
	reg.Register("gigachat", func(cfg config.ProviderConfig) (providers.Provider, error) {
		return gigachat.New(cfg, tmpl)
	})
	reg.Register("chatgpt", func(cfg config.ProviderConfig) (providers.Provider, error) {
		return chatgpt.New(cfg, tmpl)
	})
	reg.Register("gemini", func(cfg config.ProviderConfig) (providers.Provider, error) {
		return gemini.New(cfg, tmpl)
	})
	reg.Register("openrouter", func(cfg config.ProviderConfig) (providers.Provider, error) {
		return openrouter.New(cfg, tmpl)
	})
	reg.Register("ollama", func(cfg config.ProviderConfig) (providers.Provider, error) {
		return ollama.New(cfg, tmpl)
	})
}
