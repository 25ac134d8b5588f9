// Package summarize runs the multi-stage analysis pipeline: pick a backend,
// produce the digest, optionally critique it and synthesize an improved
// version, then persist and assemble the result.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/runlog"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
)

var (
	// ErrNoMessages means the requested chat day has nothing to summarize.
	ErrNoMessages = errors.New("no messages to summarize")

	// ErrNoProvider means no backend was available for the run.
	ErrNoProvider = errors.New("no provider available")
)

const (
	reflectionSampleSize  = 5
	improvementSampleSize = 10
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	MessagesByDate(ctx context.Context, chatID, date string) ([]providers.ChatMessage, error)
	SaveSummary(ctx context.Context, rec store.SummaryRecord) error
}

// Service orchestrates analysis runs. Concurrent runs on distinct chat days
// proceed in parallel; runs on the same (chat, date) serialize.
type Service struct {
	cfg      *config.Config
	registry *providers.Registry
	selector *providers.Selector
	store    Store
	tmpl     *prompts.Templates
	runlogs  *runlog.Factory
	log      *logrus.Entry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires the pipeline together. tmpl is the same template set the
// provider constructors close over.
func NewService(cfg *config.Config, registry *providers.Registry, selector *providers.Selector, st Store, tmpl *prompts.Templates, runlogs *runlog.Factory) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		selector: selector,
		store:    st,
		tmpl:     tmpl,
		runlogs:  runlogs,
		log:      logrus.WithField("component", "summarize"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Request describes one analysis run. Messages may be supplied inline; when
// empty they are loaded from the store. Provider pins a backend (no
// fallback); Model pins a model on providers that support selection.
type Request struct {
	ChatID   string
	Date     string
	Messages []providers.ChatMessage
	Provider string
	Model    string
	UserID   int64
}

// Result is the outcome of one run. Reflection and Improved are empty when
// their stages were disabled or degraded.
type Result struct {
	ChatID       string `json:"chat_id"`
	Date         string `json:"date"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	Summary      string `json:"summary"`
	Reflection   string `json:"reflection,omitempty"`
	Improved     string `json:"improved,omitempty"`
	MessageCount int    `json:"message_count"`
}

// ComposeText assembles the outbound text. One stage yields the bare
// summary; each additional stage adds its own labeled section.
func (r *Result) ComposeText() string {
	if r.Reflection == "" && r.Improved == "" {
		return r.Summary
	}

	var b strings.Builder
	b.WriteString("## 📝 Summary\n\n")
	b.WriteString(r.Summary)
	if r.Reflection != "" {
		b.WriteString("\n\n## 🔍 Reflection\n\n")
		b.WriteString(r.Reflection)
	}
	if r.Improved != "" {
		b.WriteString("\n\n## ✨ Improved Summary\n\n")
		b.WriteString(r.Improved)
	}
	return b.String()
}

// Best returns the improved summary when present, the plain one otherwise.
func (r *Result) Best() string {
	if r.Improved != "" {
		return r.Improved
	}
	return r.Summary
}

// lockFor returns the mutex serializing one chat day.
func (s *Service) lockFor(chatID, date string) *sync.Mutex {
	key := chatID + "|" + date
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Analyze runs the full pipeline for one chat day.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	lock := s.lockFor(req.ChatID, req.Date)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.loadMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	provider, name, err := s.acquireProvider(ctx, req)
	if err != nil {
		return nil, err
	}

	model := currentModel(provider)
	session := s.runlogs.NewSession(req.Date, name, model, req.ChatID, req.UserID)
	if ta, ok := provider.(providers.TraceAware); ok && session != nil {
		ta.SetTrace(session)
		defer ta.SetTrace(nil)
	}

	s.log.WithFields(logrus.Fields{
		"chat_id":  req.ChatID,
		"date":     req.Date,
		"provider": name,
		"messages": len(messages),
	}).Info("analysis started")

	result := &Result{
		ChatID:       req.ChatID,
		Date:         req.Date,
		Provider:     name,
		Model:        model,
		MessageCount: len(messages),
	}

	session.BeginStage("summarization")
	summary, err := provider.SummarizeChat(ctx, messages, &providers.ChatContext{
		ChatID:       req.ChatID,
		Date:         req.Date,
		MessageCount: len(messages),
	})
	if err != nil {
		session.Finish(map[string]bool{"summarization": false})
		return nil, fmt.Errorf("summarization via %s: %w", name, err)
	}
	// Legacy backends reported failure inside the content itself.
	if strings.HasPrefix(strings.TrimSpace(summary), "❌") {
		session.Finish(map[string]bool{"summarization": false})
		return nil, fmt.Errorf("summarization via %s: %w",
			name, providers.NewBackendError(name, providers.KindMalformedResponse, strings.TrimSpace(summary), nil))
	}
	result.Summary = summary

	stages := map[string]bool{"summarization": true}
	if s.cfg.EnableReflection {
		session.BeginStage("reflection")
		result.Reflection = s.reflect(ctx, provider, result, messages)
		stages["reflection"] = result.Reflection != ""
	}
	if s.cfg.AutoImproveSummary && result.Reflection != "" {
		session.BeginStage("improvement")
		result.Improved = s.improve(ctx, provider, result, messages)
		stages["improvement"] = result.Improved != ""
	}

	s.persist(ctx, result)

	session.LogRawResult(result.Best())
	session.LogFormattedResult(result.ComposeText())
	session.Finish(stages)

	s.log.WithFields(logrus.Fields{
		"chat_id":    req.ChatID,
		"date":       req.Date,
		"provider":   name,
		"reflection": result.Reflection != "",
		"improved":   result.Improved != "",
	}).Info("analysis finished")
	return result, nil
}

// acquireProvider resolves the backend for one run. A pinned provider must
// come up or the run fails; otherwise the best available one is selected.
func (s *Service) acquireProvider(ctx context.Context, req Request) (providers.Provider, string, error) {
	name := req.Provider
	if name != "" {
		p := s.registry.Create(name, s.cfg.Provider(name))
		if p == nil {
			return nil, "", fmt.Errorf("%w: unknown provider %q", ErrNoProvider, name)
		}
		if !providers.Initialize(ctx, p) {
			return nil, "", fmt.Errorf("%w: pinned provider %q failed to initialize", ErrNoProvider, name)
		}
		if err := s.applyModel(p, req.Model); err != nil {
			return nil, "", err
		}
		return p, name, nil
	}

	name = s.selector.SelectBest(ctx, s.cfg.DefaultProvider)
	if name == "" {
		return nil, "", ErrNoProvider
	}
	p := s.registry.Create(name, s.cfg.Provider(name))
	if p == nil {
		return nil, "", fmt.Errorf("%w: %q selected but not constructible", ErrNoProvider, name)
	}
	if err := s.applyModel(p, req.Model); err != nil {
		return nil, "", err
	}
	return p, name, nil
}

// applyModel pins a model on the provider. A pinned-model request must run
// on exactly that model: a backend without runtime model selection fails the
// run instead of silently answering with its own default.
func (s *Service) applyModel(p providers.Provider, model string) error {
	if model == "" {
		return nil
	}
	sel, ok := p.(providers.ModelSelector)
	if !ok {
		return fmt.Errorf("%w: provider %q cannot run pinned model %q", ErrNoProvider, p.Name(), model)
	}
	sel.SetModel(model)
	return nil
}

func currentModel(p providers.Provider) string {
	if sel, ok := p.(providers.ModelSelector); ok {
		return sel.CurrentModel()
	}
	return p.Info().Version
}

// reflect critiques the summary. The stage degrades: any failure logs a
// warning and the run continues without a reflection.
func (s *Service) reflect(ctx context.Context, p providers.Provider, result *Result, messages []providers.ChatMessage) string {
	prompt, err := s.tmpl.Reflection(prompts.ReflectionData{
		Summary:      result.Summary,
		Sample:       providers.SampleMessages(messages, reflectionSampleSize),
		SampleCount:  min(reflectionSampleSize, len(messages)),
		MessageCount: len(messages),
		Date:         result.Date,
	})
	if err != nil {
		s.log.WithError(err).Warn("reflection prompt failed, continuing without reflection")
		return ""
	}

	reflection, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Warn("reflection failed, continuing without reflection")
		return ""
	}
	return strings.TrimSpace(reflection)
}

// improve synthesizes the improved summary from the critique. Degrades like
// reflect.
func (s *Service) improve(ctx context.Context, p providers.Provider, result *Result, messages []providers.ChatMessage) string {
	prompt, err := s.tmpl.Improvement(prompts.ImprovementData{
		Summary:      result.Summary,
		Reflection:   result.Reflection,
		Sample:       providers.SampleMessages(messages, improvementSampleSize),
		SampleCount:  min(improvementSampleSize, len(messages)),
		MessageCount: len(messages),
	})
	if err != nil {
		s.log.WithError(err).Warn("improvement prompt failed, keeping original summary")
		return ""
	}

	improved, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Warn("improvement failed, keeping original summary")
		return ""
	}
	return strings.TrimSpace(improved)
}

// persist stores the run's outputs. Storage failures are logged, not fatal:
// the caller still gets the result.
func (s *Service) persist(ctx context.Context, result *Result) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSummary(ctx, store.SummaryRecord{
		ChatID:   result.ChatID,
		Date:     result.Date,
		Type:     store.SummaryPlain,
		Content:  result.Summary,
		Provider: result.Provider,
		Model:    result.Model,
	}); err != nil {
		s.log.WithError(err).Error("saving summary failed")
	}
	if result.Improved != "" {
		if err := s.store.SaveSummary(ctx, store.SummaryRecord{
			ChatID:   result.ChatID,
			Date:     result.Date,
			Type:     store.SummaryImproved,
			Content:  result.Improved,
			Provider: result.Provider,
			Model:    result.Model,
		}); err != nil {
			s.log.WithError(err).Error("saving improved summary failed")
		}
	}
}

// ProviderStatus describes one registered backend for the API surface.
type ProviderStatus struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default"`
	Configured  bool   `json:"configured"`
}

// ListProviders enumerates the registered backends without probing them.
func (s *Service) ListProviders() []ProviderStatus {
	names := s.registry.Names()
	statuses := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		configured := false
		if p := s.registry.Create(name, s.cfg.Provider(name)); p != nil {
			configured = p.ValidateConfig() == nil
		}
		statuses = append(statuses, ProviderStatus{
			Name:        name,
			DisplayName: providers.DisplayName(name),
			Default:     name == s.cfg.DefaultProvider,
			Configured:  configured,
		})
	}
	return statuses
}

// TestAllProviders probes every registered backend concurrently.
func (s *Service) TestAllProviders(ctx context.Context) map[string]bool {
	return s.selector.TestAll(ctx)
}

// ProviderModels lists the selectable models of one backend, or an error
// when it does not enumerate models.
func (s *Service) ProviderModels(ctx context.Context, name string) ([]providers.ModelInfo, error) {
	p := s.registry.Create(name, s.cfg.Provider(name))
	if p == nil {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNoProvider, name)
	}
	lister, ok := p.(providers.ModelLister)
	if !ok {
		return nil, fmt.Errorf("provider %q does not enumerate models", name)
	}
	return lister.GetAvailableModels(ctx)
}
