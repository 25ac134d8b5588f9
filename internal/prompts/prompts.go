// Package prompts renders the prompt templates used by the summarization
// pipeline. The persona and language are deployment-configurable; the
// defaults below carry the same structure the product ships with — an
// evening digest written by the class teacher for a parents' group chat.
package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/config"
)

const defaultSummarization = `ROLE: You are the class teacher of a first-grade class, writing the evening digest for the parents' group chat.

TASK: Produce a short digest of the important events from today's chat.

INCLUDE:
- Events with deadlines
- New rules or requirements
- Upcoming activities
- Important announcements
- Links to documents or forms

IGNORE: pickup/dropoff coordination, who is waiting where, household chatter, empty acknowledgements ("me too", "who's going").

IMPORTANT: if a link points to something that must be done, always include it.

Chat transcript:
{{.Transcript}}

FORMAT:
## 📋 IMPORTANT EVENTS
## 🚨 ACTION REQUIRED

RULES: at most 3-4 items per section. Facts and actions only, nothing else. If a section has nothing, leave it out.`

const defaultReflection = `Review the following chat summary and give a critical assessment:

SUMMARY:
{{.Summary}}

ORIGINAL MESSAGES (first {{.SampleCount}} of {{.MessageCount}}):
{{.Sample}}

CONTEXT:
- Date: {{.Date}}
- Total messages: {{.MessageCount}}

Assess:
1. Completeness — does the summary cover everything that matters?
2. Accuracy — check every stated fact against the original messages.
3. Structure — is it logically organized and easy to follow?
4. Highlights — were any important details missed?
5. Give an overall score from 1 to 10.

Provide constructive criticism and concrete suggestions.`

const defaultImprovement = `Using the original summary and its critique, write a single improved version:

ORIGINAL SUMMARY:
{{.Summary}}

CRITIQUE:
{{.Reflection}}

ORIGINAL MESSAGES (first {{.SampleCount}} of {{.MessageCount}}):
{{.Sample}}

The improved summary must address the critique, keep every important detail, and stay well structured and easy to read. Output only the improved summary, with no meta-commentary.

IMPROVED SUMMARY:`

const defaultCleaning = `Filter the chat messages, keeping only those that carry information parents need.

MESSAGES:
{{.Listing}}

Exclude:
- Coordination chatter (who picks up whom, where to meet, what time)
- Micromanagement ("don't forget", "remind the kids")
- Irrelevant small talk
- Repeated messages
- Short acknowledgements ("ok", "thanks", "got it")

Keep:
- Important announcements
- Event information
- Rules and requirements
- Problems and complaints
- Educational information

Return only a JSON array with the ids of the messages to keep:
[1, 5, 12, 23, ...]`

const defaultClassification = `Classify the following chat messages by type:

MESSAGES:
{{.MessagesJSON}}

Assign each message one of these categories:
- "important": information parents need
- "coordination": coordination and planning
- "micromanagement": micromanagement
- "irrelevant": irrelevant chatter
- "release_pickup": child pickup information
- "rules": rules and requirements
- "events": activities and events
- "problems": problems and complaints

Return only a JSON array of objects:
[{"message_id": "id", "class": "category"}, ...]`

const defaultExtraction = `Extract the important events and information from the messages:

CLASSIFIED MESSAGES:
{{.MessagesJSON}}

Structure the information as events. Each event must contain:
- type: the event type (rule, event, problem, coordination, etc.)
- title: a short name
- description: a description
- importance: high, medium or low
- action_required: whether parents must act

Return only a JSON array of event objects.`

const defaultParentSummary = `Write a short, clear digest for parents from the extracted events:

EVENTS:
{{.EventsJSON}}

The digest must:
1. Lead with what matters most
2. Group information by topic
3. Call out required actions
4. Be easy to read and understand

Use emoji and a clear structure.`

// SummaryData feeds the summarization template.
type SummaryData struct {
	Transcript   string
	Date         string
	MessageCount int
}

// ReflectionData feeds the reflection template.
type ReflectionData struct {
	Summary      string
	Sample       string
	SampleCount  int
	MessageCount int
	Date         string
}

// ImprovementData feeds the improvement template.
type ImprovementData struct {
	Summary      string
	Reflection   string
	Sample       string
	SampleCount  int
	MessageCount int
}

// CleaningData feeds the cleaning template. Listing is "ID: n / Text: ..."
// blocks, one per message.
type CleaningData struct {
	Listing      string
	MessageCount int
}

// ClassificationData feeds the classification template.
type ClassificationData struct {
	MessagesJSON string
}

// ExtractionData feeds the extraction template.
type ExtractionData struct {
	MessagesJSON string
}

// ParentSummaryData feeds the parent-summary template.
type ParentSummaryData struct {
	EventsJSON string
}

// Templates holds the compiled prompt templates of both pipelines.
type Templates struct {
	summarization *template.Template
	reflection    *template.Template
	improvement   *template.Template

	cleaning       *template.Template
	classification *template.Template
	extraction     *template.Template
	parentSummary  *template.Template
}

// Load compiles the configured templates, falling back to the defaults for
// any empty field. Broken templates fail loudly at startup, not mid-run.
func Load(cfg config.PromptsConfig) (*Templates, error) {
	t := &Templates{}
	var err error

	if t.summarization, err = compile("summarization", cfg.Summarization, defaultSummarization); err != nil {
		return nil, err
	}
	if t.reflection, err = compile("reflection", cfg.Reflection, defaultReflection); err != nil {
		return nil, err
	}
	if t.improvement, err = compile("improvement", cfg.Improvement, defaultImprovement); err != nil {
		return nil, err
	}
	if t.cleaning, err = compile("cleaning", cfg.Cleaning, defaultCleaning); err != nil {
		return nil, err
	}
	if t.classification, err = compile("classification", cfg.Classification, defaultClassification); err != nil {
		return nil, err
	}
	if t.extraction, err = compile("extraction", cfg.Extraction, defaultExtraction); err != nil {
		return nil, err
	}
	if t.parentSummary, err = compile("parent_summary", cfg.ParentSummary, defaultParentSummary); err != nil {
		return nil, err
	}
	return t, nil
}

// Default returns the built-in templates. It never fails.
func Default() *Templates {
	t, err := Load(config.PromptsConfig{})
	if err != nil {
		panic(err) // the defaults always compile
	}
	return t
}

func compile(name, text, fallback string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		text = fallback
	}
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing %s prompt template: %w", name, err)
	}
	return tmpl, nil
}

// Summarization renders the digest prompt around a formatted transcript.
func (t *Templates) Summarization(data SummaryData) (string, error) {
	return render(t.summarization, data)
}

// Reflection renders the critique prompt for a produced summary.
func (t *Templates) Reflection(data ReflectionData) (string, error) {
	return render(t.reflection, data)
}

// Improvement renders the synthesis prompt combining summary and critique.
func (t *Templates) Improvement(data ImprovementData) (string, error) {
	return render(t.improvement, data)
}

// Cleaning renders the noise-filter prompt of the structured pipeline.
func (t *Templates) Cleaning(data CleaningData) (string, error) {
	return render(t.cleaning, data)
}

// Classification renders the message-classification prompt.
func (t *Templates) Classification(data ClassificationData) (string, error) {
	return render(t.classification, data)
}

// Extraction renders the event-extraction prompt.
func (t *Templates) Extraction(data ExtractionData) (string, error) {
	return render(t.extraction, data)
}

// ParentSummary renders the final parent-digest prompt.
func (t *Templates) ParentSummary(data ParentSummaryData) (string, error) {
	return render(t.parentSummary, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}
