package chatgpt

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		wantOK bool
	}{
		{"missing", "", false},
		{"placeholder", "your_openai_key", false},
		{"too short", "sk-short", false},
		{"valid", "sk-a-real-looking-api-key", true},
		// Non-sk keys only warn; Azure-style deployments use other formats.
		{"odd prefix", "a-real-looking-api-key-x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(config.ProviderConfig{APIKey: tt.apiKey}, prompts.Default())
			require.NoError(t, err)
			if tt.wantOK {
				assert.NoError(t, p.ValidateConfig())
			} else {
				assert.Error(t, p.ValidateConfig())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	p, err := New(config.ProviderConfig{APIKey: "sk-a-real-looking-api-key"}, prompts.Default())
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		kind providers.ErrorKind
	}{
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, providers.KindRateLimited},
		{"unauthorized", &openai.APIError{HTTPStatusCode: 401}, providers.KindAuth},
		{"forbidden", &openai.APIError{HTTPStatusCode: 403}, providers.KindAuth},
		{"server error", &openai.APIError{HTTPStatusCode: 500}, providers.KindUnknown},
		{"deadline", context.DeadlineExceeded, providers.KindTimeout},
		{"plain network", errors.New("connection reset"), providers.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := p.classify(tt.err)
			assert.Equal(t, tt.kind, providers.KindOf(classified))
		})
	}
}

func TestInfoReportsModel(t *testing.T) {
	p, err := New(config.ProviderConfig{APIKey: "sk-a-real-looking-api-key", Model: "gpt-4o-mini"}, prompts.Default())
	require.NoError(t, err)

	info := p.Info()
	assert.Equal(t, "chatgpt", info.Name)
	assert.Equal(t, "gpt-4o-mini", info.Version)
}

func TestInfoReportsEffectiveEndpoint(t *testing.T) {
	p, err := New(config.ProviderConfig{APIKey: "sk-a-real-looking-api-key"}, prompts.Default())
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", p.Info().Endpoint)

	// A configured base URL must show up in the metadata, not the default.
	p, err = New(config.ProviderConfig{
		APIKey:  "sk-a-real-looking-api-key",
		BaseURL: "https://llm-proxy.internal/v1/",
	}, prompts.Default())
	require.NoError(t, err)
	assert.Equal(t, "https://llm-proxy.internal/v1", p.Info().Endpoint)
}
