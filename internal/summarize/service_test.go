package summarize

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/runlog"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
)

type fakeProvider struct {
	name      string
	available bool
	summary   string
	sumErr    error
	responses []string
	genErr    error

	mu       sync.Mutex
	genCalls int
}

var _ providers.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) Name() string                     { return f.name }
func (f *fakeProvider) IsAvailable(context.Context) bool { return f.available }
func (f *fakeProvider) ValidateConfig() error            { return nil }

func (f *fakeProvider) Info() providers.Info {
	return providers.Info{Name: f.name, Version: "fake-1"}
}

func (f *fakeProvider) SummarizeChat(_ context.Context, _ []providers.ChatMessage, _ *providers.ChatContext) (string, error) {
	return f.summary, f.sumErr
}

func (f *fakeProvider) GenerateResponse(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.genErr != nil {
		return "", f.genErr
	}
	if f.genCalls >= len(f.responses) {
		return "", errors.New("unexpected generate call")
	}
	resp := f.responses[f.genCalls]
	f.genCalls++
	return resp, nil
}

type recordingStore struct {
	mu       sync.Mutex
	messages map[string][]providers.ChatMessage
	saved    []store.SummaryRecord
}

var _ Store = (*recordingStore)(nil)

func (r *recordingStore) MessagesByDate(_ context.Context, chatID, date string) ([]providers.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[chatID+"|"+date], nil
}

func (r *recordingStore) SaveSummary(_ context.Context, rec store.SummaryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, rec)
	return nil
}

func testService(t *testing.T, p *fakeProvider, cfgMut func(*config.Config)) (*Service, *recordingStore) {
	t.Helper()

	reg := providers.NewRegistry()
	reg.Register(p.name, func(config.ProviderConfig) (providers.Provider, error) {
		return p, nil
	})

	cfg := &config.Config{
		Providers:       map[string]config.ProviderConfig{p.name: {}},
		DefaultProvider: p.name,
		FallbackOrder:   []string{p.name},
	}
	if cfgMut != nil {
		cfgMut(cfg)
	}

	sel := providers.NewSelector(reg, cfg.Providers, cfg.FallbackOrder)
	st := &recordingStore{messages: make(map[string][]providers.ChatMessage)}
	tmpl := prompts.Default()

	return NewService(cfg, reg, sel, st, tmpl, runlog.NewFactory("")), st
}

func testMessages() []providers.ChatMessage {
	return []providers.ChatMessage{
		{SenderName: "Alice", Text: "bring the form tomorrow", Timestamp: 1700000000000},
		{SenderName: "Bob", Text: "meeting at six", Timestamp: 1700000060000},
	}
}

func TestAnalyzeSummaryOnly(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "the digest"}
	svc, st := testService(t, p, nil)

	result, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.NoError(t, err)
	assert.Equal(t, "the digest", result.Summary)
	assert.Empty(t, result.Reflection)
	assert.Empty(t, result.Improved)
	assert.Equal(t, "fake", result.Provider)
	assert.Equal(t, 2, result.MessageCount)

	// Without extra stages the composed text is the bare summary.
	assert.Equal(t, "the digest", result.ComposeText())

	require.Len(t, st.saved, 1)
	assert.Equal(t, store.SummaryPlain, st.saved[0].Type)
	assert.Equal(t, "the digest", st.saved[0].Content)
}

func TestAnalyzeFullPipeline(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		summary:   "the digest",
		responses: []string{"the critique", "the improved digest"},
	}
	svc, st := testService(t, p, func(cfg *config.Config) {
		cfg.EnableReflection = true
		cfg.AutoImproveSummary = true
	})

	result, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.NoError(t, err)
	assert.Equal(t, "the critique", result.Reflection)
	assert.Equal(t, "the improved digest", result.Improved)

	text := result.ComposeText()
	assert.Contains(t, text, "## 📝 Summary")
	assert.Contains(t, text, "the digest")
	assert.Contains(t, text, "## 🔍 Reflection")
	assert.Contains(t, text, "the critique")
	assert.Contains(t, text, "## ✨ Improved Summary")
	assert.Contains(t, text, "the improved digest")

	// Both the plain and the improved variant are persisted.
	require.Len(t, st.saved, 2)
	assert.Equal(t, store.SummaryImproved, st.saved[1].Type)
	assert.Equal(t, "the improved digest", st.saved[1].Content)
}

func TestAnalyzeReflectionFailureDegrades(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		summary:   "the digest",
		genErr:    errors.New("backend exploded"),
	}
	svc, _ := testService(t, p, func(cfg *config.Config) {
		cfg.EnableReflection = true
		cfg.AutoImproveSummary = true
	})

	result, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	// Reflection failing must not fail the run; improvement is skipped
	// because there is no critique to apply.
	require.NoError(t, err)
	assert.Equal(t, "the digest", result.Summary)
	assert.Empty(t, result.Reflection)
	assert.Empty(t, result.Improved)
}

func TestAnalyzeReflectionWithoutImprovement(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		summary:   "the digest",
		responses: []string{"the critique"},
	}
	svc, _ := testService(t, p, func(cfg *config.Config) {
		cfg.EnableReflection = true
	})

	result, err := svc.Analyze(context.Background(), Request{
		ChatID: "chat-1", Date: "2026-08-20", Messages: testMessages(),
	})

	require.NoError(t, err)
	text := result.ComposeText()
	assert.Contains(t, text, "## 🔍 Reflection")
	assert.NotContains(t, text, "## ✨ Improved Summary")
}

func TestAnalyzeNoMessages(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "unused"}
	svc, _ := testService(t, p, nil)

	_, err := svc.Analyze(context.Background(), Request{ChatID: "chat-1", Date: "2026-08-20"})
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestAnalyzeLoadsMessagesFromStore(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "the digest"}
	svc, st := testService(t, p, nil)
	st.messages["chat-1|2026-08-20"] = testMessages()

	result, err := svc.Analyze(context.Background(), Request{ChatID: "chat-1", Date: "2026-08-20"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MessageCount)
}

func TestAnalyzePinnedProviderFailsHard(t *testing.T) {
	p := &fakeProvider{name: "fake", available: false, summary: "unused"}
	svc, _ := testService(t, p, nil)

	_, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
		Provider: "fake",
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAnalyzeUnknownPinnedProvider(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "unused"}
	svc, _ := testService(t, p, nil)

	_, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
		Provider: "missing",
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAnalyzeNoProviderAvailable(t *testing.T) {
	p := &fakeProvider{name: "fake", available: false, summary: "unused"}
	svc, _ := testService(t, p, nil)

	_, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAnalyzeLegacyErrorContentFails(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "❌ summarization failed upstream"}
	svc, st := testService(t, p, nil)

	_, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.Error(t, err)
	assert.Empty(t, st.saved)
}

// selectingFakeProvider is a fakeProvider with runtime model selection.
type selectingFakeProvider struct {
	fakeProvider
	model string
}

var _ providers.ModelSelector = (*selectingFakeProvider)(nil)

func (f *selectingFakeProvider) SetModel(id string)   { f.model = id }
func (f *selectingFakeProvider) CurrentModel() string { return f.model }

func TestAnalyzePinnedModelWithoutSelectorFails(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true, summary: "unused"}
	svc, st := testService(t, p, nil)

	// The fallback path must not run a pinned model on a backend that
	// cannot select models.
	_, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
		Model:    "deepseek/deepseek-chat-v3.1:free",
	})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Empty(t, st.saved)

	// Pinning the provider alongside the model changes nothing.
	_, err = svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
		Provider: "fake",
		Model:    "deepseek/deepseek-chat-v3.1:free",
	})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestAnalyzePinnedModelApplied(t *testing.T) {
	p := &selectingFakeProvider{
		fakeProvider: fakeProvider{name: "fake", available: true, summary: "the digest"},
		model:        "default-model",
	}

	reg := providers.NewRegistry()
	reg.Register("fake", func(config.ProviderConfig) (providers.Provider, error) {
		return p, nil
	})
	cfg := &config.Config{
		Providers:       map[string]config.ProviderConfig{"fake": {}},
		DefaultProvider: "fake",
		FallbackOrder:   []string{"fake"},
	}
	sel := providers.NewSelector(reg, cfg.Providers, cfg.FallbackOrder)
	st := &recordingStore{messages: make(map[string][]providers.ChatMessage)}
	svc := NewService(cfg, reg, sel, st, prompts.Default(), runlog.NewFactory(""))

	result, err := svc.Analyze(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
		Model:    "pinned-model",
	})
	require.NoError(t, err)
	assert.Equal(t, "pinned-model", result.Model)
	assert.Equal(t, "pinned-model", p.model)
}

func TestResultBestPrefersImproved(t *testing.T) {
	r := &Result{Summary: "plain", Improved: "better"}
	assert.Equal(t, "better", r.Best())

	r.Improved = ""
	assert.Equal(t, "plain", r.Best())
}

func TestListProviders(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true}
	svc, _ := testService(t, p, nil)

	statuses := svc.ListProviders()
	require.Len(t, statuses, 1)
	assert.Equal(t, "fake", statuses[0].Name)
	assert.True(t, statuses[0].Default)
	assert.True(t, statuses[0].Configured)
}

func TestProviderModelsUnsupported(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true}
	svc, _ := testService(t, p, nil)

	_, err := svc.ProviderModels(context.Background(), "fake")
	assert.Error(t, err)

	_, err = svc.ProviderModels(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNoProvider)
}
