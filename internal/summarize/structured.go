package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/prompts"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
)

// MessageClass is one row of the classification stage.
type MessageClass struct {
	MessageID string `json:"message_id"`
	Class     string `json:"class"`
}

// Event is one item the extraction stage pulls out of the chat.
type Event struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Importance     string `json:"importance"`
	ActionRequired bool   `json:"action_required"`
}

// StructuredResult is the outcome of one structured-analysis run.
type StructuredResult struct {
	ChatID         string         `json:"chat_id"`
	Date           string         `json:"date"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model,omitempty"`
	Classification []MessageClass `json:"classification"`
	Events         []Event        `json:"events"`
	Summary        string         `json:"summary"`
	MessageCount   int            `json:"message_count"`
	CleanedCount   int            `json:"cleaned_count"`
}

// AnalyzeStructured runs the structured pipeline for one chat day:
// cleaning → classification → extraction → parent summary. Cleaning degrades
// to the unfiltered message set; the three analysis stages are required and
// fail the run.
func (s *Service) AnalyzeStructured(ctx context.Context, req Request) (*StructuredResult, error) {
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
	}).Info("structured analysis started")

	result := &StructuredResult{
		ChatID:       req.ChatID,
		Date:         req.Date,
		Provider:     name,
		Model:        model,
		MessageCount: len(messages),
	}
	stages := make(map[string]bool)

	session.BeginStage("cleaning")
	cleaned, cleanedOK := s.cleanMessages(ctx, provider, messages)
	stages["cleaning"] = cleanedOK
	result.CleanedCount = len(cleaned)

	session.BeginStage("classification")
	result.Classification, err = s.classify(ctx, provider, cleaned)
	if err != nil {
		stages["classification"] = false
		session.Finish(stages)
		return nil, fmt.Errorf("classification via %s: %w", name, err)
	}
	stages["classification"] = true

	session.BeginStage("extraction")
	result.Events, err = s.extract(ctx, provider, cleaned, result.Classification)
	if err != nil {
		stages["extraction"] = false
		session.Finish(stages)
		return nil, fmt.Errorf("extraction via %s: %w", name, err)
	}
	stages["extraction"] = true

	session.BeginStage("parent_summary")
	result.Summary, err = s.parentSummary(ctx, provider, result.Events)
	if err != nil {
		stages["parent_summary"] = false
		session.Finish(stages)
		return nil, fmt.Errorf("parent summary via %s: %w", name, err)
	}
	stages["parent_summary"] = true

	if s.store != nil {
		if err := s.store.SaveSummary(ctx, store.SummaryRecord{
			ChatID:   result.ChatID,
			Date:     result.Date,
			Type:     store.SummaryStructured,
			Content:  result.Summary,
			Provider: result.Provider,
			Model:    result.Model,
		}); err != nil {
			s.log.WithError(err).Error("saving structured summary failed")
		}
	}

	session.LogRawResult(result.Summary)
	session.LogFormattedResult(result.Summary)
	session.Finish(stages)

	s.log.WithFields(logrus.Fields{
		"chat_id": req.ChatID,
		"date":    req.Date,
		"cleaned": result.CleanedCount,
		"events":  len(result.Events),
	}).Info("structured analysis finished")
	return result, nil
}

func (s *Service) loadMessages(ctx context.Context, req Request) ([]providers.ChatMessage, error) {
	messages := req.Messages
	if len(messages) == 0 && s.store != nil {
		var err error
		messages, err = s.store.MessagesByDate(ctx, req.ChatID, req.Date)
		if err != nil {
			return nil, fmt.Errorf("loading messages: %w", err)
		}
	}
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	return messages, nil
}

// cleanMessages asks the model which messages carry information parents
// need and drops the rest. Any failure keeps the full message set: losing
// the filter is better than losing the run. The second return reports
// whether the filter was actually applied.
func (s *Service) cleanMessages(ctx context.Context, p providers.Provider, messages []providers.ChatMessage) ([]providers.ChatMessage, bool) {
	var listing strings.Builder
	for i, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&listing, "ID: %d\nText: %s\n\n", i+1, text)
	}

	prompt, err := s.tmpl.Cleaning(prompts.CleaningData{
		Listing:      listing.String(),
		MessageCount: len(messages),
	})
	if err != nil {
		s.log.WithError(err).Warn("cleaning prompt failed, keeping all messages")
		return messages, false
	}

	response, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		s.log.WithError(err).Warn("cleaning failed, keeping all messages")
		return messages, false
	}

	keep := parseKeepList(response)
	if len(keep) == 0 {
		s.log.Warn("cleaning returned no usable id list, keeping all messages")
		return messages, false
	}

	cleaned := make([]providers.ChatMessage, 0, len(keep))
	for i, msg := range messages {
		if keep[i+1] {
			cleaned = append(cleaned, msg)
		}
	}
	if len(cleaned) == 0 {
		s.log.Warn("cleaning removed every message, keeping all messages")
		return messages, false
	}

	s.log.WithFields(logrus.Fields{
		"kept":  len(cleaned),
		"total": len(messages),
	}).Info("messages cleaned")
	return cleaned, true
}

// classify asks the model to put every message into a category. Required:
// an unparseable answer fails the stage.
func (s *Service) classify(ctx context.Context, p providers.Provider, messages []providers.ChatMessage) ([]MessageClass, error) {
	type entry struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	entries := make([]entry, 0, len(messages))
	for i, msg := range messages {
		entries = append(entries, entry{ID: strconv.Itoa(i + 1), Text: msg.Text})
	}
	messagesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding messages: %w", err)
	}

	prompt, err := s.tmpl.Classification(prompts.ClassificationData{MessagesJSON: string(messagesJSON)})
	if err != nil {
		return nil, fmt.Errorf("building classification prompt: %w", err)
	}

	response, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var classification []MessageClass
	if err := json.Unmarshal([]byte(stripJSONFences(response)), &classification); err != nil {
		return nil, providers.NewBackendError(p.Name(), providers.KindMalformedResponse, "classification is not a JSON array", err)
	}
	if len(classification) == 0 {
		return nil, providers.NewBackendError(p.Name(), providers.KindMalformedResponse, "classification is empty", nil)
	}
	return classification, nil
}

// extract asks the model for structured events over the classified messages.
func (s *Service) extract(ctx context.Context, p providers.Provider, messages []providers.ChatMessage, classification []MessageClass) ([]Event, error) {
	classes := make(map[string]string, len(classification))
	for _, c := range classification {
		classes[c.MessageID] = c.Class
	}

	type entry struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		Type string `json:"type"`
	}
	entries := make([]entry, 0, len(messages))
	for i, msg := range messages {
		id := strconv.Itoa(i + 1)
		class, ok := classes[id]
		if !ok {
			class = "unknown"
		}
		entries = append(entries, entry{ID: id, Text: msg.Text, Type: class})
	}
	messagesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encoding classified messages: %w", err)
	}

	prompt, err := s.tmpl.Extraction(prompts.ExtractionData{MessagesJSON: string(messagesJSON)})
	if err != nil {
		return nil, fmt.Errorf("building extraction prompt: %w", err)
	}

	response, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var events []Event
	if err := json.Unmarshal([]byte(stripJSONFences(response)), &events); err != nil {
		return nil, providers.NewBackendError(p.Name(), providers.KindMalformedResponse, "extraction is not a JSON array", err)
	}
	if len(events) == 0 {
		return nil, providers.NewBackendError(p.Name(), providers.KindMalformedResponse, "extraction produced no events", nil)
	}
	return events, nil
}

// parentSummary asks the model for the final parent-facing digest of the
// extracted events.
func (s *Service) parentSummary(ctx context.Context, p providers.Provider, events []Event) (string, error) {
	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding events: %w", err)
	}

	prompt, err := s.tmpl.ParentSummary(prompts.ParentSummaryData{EventsJSON: string(eventsJSON)})
	if err != nil {
		return "", fmt.Errorf("building parent summary prompt: %w", err)
	}

	summary, err := p.GenerateResponse(ctx, prompt)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", providers.NewBackendError(p.Name(), providers.KindMalformedResponse, "parent summary is empty", nil)
	}
	return summary, nil
}

var keepListRe = regexp.MustCompile(`\[[\d,\s]+\]`)

// parseKeepList finds the first plain integer array in the response and
// returns its members as a set. Returns nil when no array is found.
func parseKeepList(response string) map[int]bool {
	match := keepListRe.FindString(response)
	if match == "" {
		return nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(match), &ids); err != nil {
		return nil
	}
	keep := make(map[int]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	return keep
}

// stripJSONFences unwraps a markdown-fenced JSON answer and trims it to the
// outermost array. Models routinely wrap JSON in ``` fences or prose.
func stripJSONFences(response string) string {
	if idx := strings.Index(response, "```json"); idx != -1 {
		rest := response[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			response = rest[:end]
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		rest := response[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			response = rest[:end]
		}
	}
	response = strings.TrimSpace(response)

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start != -1 && end > start {
		response = response[start : end+1]
	}
	return response
}
