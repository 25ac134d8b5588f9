package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

const (
	topModels = 10

	// Live catalogs are good for an hour; the static fallback is retried
	// after five minutes so a transient API outage does not pin stale data.
	liveCatalogTTL     = time.Hour
	fallbackCatalogTTL = 5 * time.Minute
)

// rankedModels are the free models known to work well for digests; anything
// not listed here ranks by its context length instead.
var rankedModels = map[string]int{
	"deepseek/deepseek-chat-v3.1:free": 1000,
	"deepseek/deepseek-r1:free":        950,
	"deepseek/deepseek-v3:free":        900,
	"mistral/mistral-small-3.2:free":   850,
	"meta/llama-3.3-8b-instruct:free":  800,
	"qwen/qwen3-8b:free":               750,
	"google/gemma-3-12b:free":          700,
	"moonshotai/kimi-dev-72b:free":     650,
	"microsoft/mai-ds-r1:free":         600,
	"tng/deepseek-r1t-chimera:free":    550,
}

// staticCatalog is the offline fallback, served when the live /models
// endpoint is unreachable.
var staticCatalog = map[string]providers.ModelInfo{
	"deepseek/deepseek-chat-v3.1:free": {
		ID: "deepseek/deepseek-chat-v3.1:free", DisplayName: "DeepSeek: DeepSeek V3.1 (free)", Free: true, ContextLength: 163800,
	},
	"deepseek/deepseek-r1:free": {
		ID: "deepseek/deepseek-r1:free", DisplayName: "DeepSeek: R1 (free)", Free: true, ContextLength: 163840,
	},
	"nvidia/nemotron-nano-9b-v2:free": {
		ID: "nvidia/nemotron-nano-9b-v2:free", DisplayName: "NVIDIA: Nemotron Nano 9B V2 (free)", Free: true, ContextLength: 128000,
	},
	"mistralai/mistral-small-3.2-24b-instruct:free": {
		ID: "mistralai/mistral-small-3.2-24b-instruct:free", DisplayName: "Mistral: Mistral Small 3.2 24B (free)", Free: true, ContextLength: 131072,
	},
	"meta-llama/llama-3.3-8b-instruct:free": {
		ID: "meta-llama/llama-3.3-8b-instruct:free", DisplayName: "Meta: Llama 3.3 8B Instruct (free)", Free: true, ContextLength: 128000,
	},
	"qwen/qwen3-8b:free": {
		ID: "qwen/qwen3-8b:free", DisplayName: "Qwen: Qwen3 8B (free)", Free: true, ContextLength: 40960,
	},
	"google/gemma-3-12b-it:free": {
		ID: "google/gemma-3-12b-it:free", DisplayName: "Google: Gemma 3 12B (free)", Free: true, ContextLength: 32768,
	},
	"moonshotai/kimi-dev-72b:free": {
		ID: "moonshotai/kimi-dev-72b:free", DisplayName: "MoonshotAI: Kimi Dev 72B (free)", Free: true, ContextLength: 131072,
	},
	"microsoft/mai-ds-r1:free": {
		ID: "microsoft/mai-ds-r1:free", DisplayName: "Microsoft: MAI DS R1 (free)", Free: true, ContextLength: 163840,
	},
	"tngtech/deepseek-r1t-chimera:free": {
		ID: "tngtech/deepseek-r1t-chimera:free", DisplayName: "TNG: DeepSeek R1T Chimera (free)", Free: true, ContextLength: 163840,
	},
}

type modelsResponse struct {
	Data []apiModel `json:"data"`
}

type apiModel struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ContextLength int    `json:"context_length"`
	Pricing       struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

// GetAvailableModels returns the top free models, ranked. The live catalog
// is cached for an hour; when the API is down the static fallback is served
// and retried after five minutes.
func (p *Provider) GetAvailableModels(ctx context.Context) ([]providers.ModelInfo, error) {
	p.mu.Lock()
	if p.catalog != nil && p.now().Sub(p.catalogAt) < p.catalogTTL {
		cached := p.catalog
		p.mu.Unlock()
		p.log.Debug("serving cached model catalog")
		return cached, nil
	}
	p.mu.Unlock()

	models, err := p.fetchModels(ctx)
	ttl := liveCatalogTTL
	if err != nil {
		p.log.WithError(err).Warn("model catalog fetch failed, serving static fallback")
		models = fallbackModels()
		ttl = fallbackCatalogTTL
	}

	p.mu.Lock()
	p.catalog = models
	p.catalogAt = p.now()
	p.catalogTTL = ttl
	p.mu.Unlock()
	return models, nil
}

// fetchModels pulls the live catalog, keeps only zero-price models and
// ranks them.
func (p *Provider) fetchModels(ctx context.Context) ([]providers.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("building models request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("models endpoint returned %d", resp.StatusCode)
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding models response: %w", err)
	}

	var free []providers.ModelInfo
	for _, m := range parsed.Data {
		if m.Pricing.Prompt != "0" || m.Pricing.Completion != "0" {
			continue
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		free = append(free, providers.ModelInfo{
			ID:            m.ID,
			DisplayName:   name,
			Description:   m.Description,
			Free:          true,
			ContextLength: m.ContextLength,
		})
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("models endpoint returned no free models")
	}

	ranked := rankModels(free)
	p.log.WithField("models", len(ranked)).Info("model catalog refreshed")
	return ranked, nil
}

// rankModels orders free models by the known-good ranking, then by context
// length, and caps the list at the top ten.
func rankModels(models []providers.ModelInfo) []providers.ModelInfo {
	score := func(m providers.ModelInfo) int {
		if s, ok := rankedModels[m.ID]; ok {
			return s
		}
		return m.ContextLength
	}
	sort.SliceStable(models, func(i, j int) bool {
		return score(models[i]) > score(models[j])
	})
	if len(models) > topModels {
		models = models[:topModels]
	}
	return models
}

func fallbackModels() []providers.ModelInfo {
	models := make([]providers.ModelInfo, 0, len(staticCatalog))
	for _, m := range staticCatalog {
		models = append(models, m)
	}
	return rankModels(models)
}
