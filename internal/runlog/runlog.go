// Package runlog writes the per-run artifact files: every prompt, response
// and intermediate transcript of one analysis run lands in a dated
// directory as a numbered text file. The artifacts are diagnostics, not
// data — a failed write is logged and swallowed, it never fails the run.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/providers"
)

var _ providers.TraceSink = (*Session)(nil)

// Factory creates sessions rooted under a base directory.
type Factory struct {
	dir string
	log *logrus.Entry
	now func() time.Time
}

// NewFactory creates a factory writing under dir. An empty dir disables
// artifact logging entirely: NewSession returns nil, and a nil *Session is
// safe to use.
func NewFactory(dir string) *Factory {
	return &Factory{
		dir: dir,
		log: logrus.WithField("component", "runlog"),
		now: time.Now,
	}
}

// Session collects the artifacts of one run in <dir>/<date>/. It implements
// the trace sink the providers write through.
type Session struct {
	dir      string
	log      *logrus.Entry
	now      func() time.Time
	started  time.Time
	date     string
	provider string
	model    string
	chatID   string
	userID   int64

	mu      sync.Mutex
	stage   string
	elapsed map[string]time.Duration
}

// NewSession opens an artifact directory for one run. Creation failures
// disable the session (nil return) rather than failing the caller.
func (f *Factory) NewSession(date, provider, model, chatID string, userID int64) *Session {
	if f == nil || f.dir == "" {
		return nil
	}
	if date == "" {
		date = f.now().Format("2006-01-02")
	}

	dir := filepath.Join(f.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		f.log.WithError(err).WithField("dir", dir).Error("cannot create artifact directory, run logging disabled")
		return nil
	}

	f.log.WithField("dir", dir).Debug("artifact session opened")
	return &Session{
		dir:      dir,
		log:      f.log,
		now:      f.now,
		started:  f.now(),
		date:     date,
		provider: provider,
		model:    model,
		chatID:   chatID,
		userID:   userID,
		elapsed:  make(map[string]time.Duration),
	}
}

// BeginStage names the pipeline stage the next request/response pair belongs
// to. Providers report follow-up calls under the generic "generation" stage;
// this resolves them to the stage the pipeline is actually in.
func (s *Session) BeginStage(stage string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

// effectiveStage maps the provider-reported stage to the pipeline stage set
// by BeginStage. Only the generic "generation" stage is remapped.
func (s *Session) effectiveStage(stage string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stage == "generation" && s.stage != "" {
		return s.stage
	}
	return stage
}

// Dir returns the session's artifact directory, or "" for a nil session.
func (s *Session) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// LogTranscript records the optimized transcript sent to the model.
func (s *Session) LogTranscript(formatted string, messageCount int) {
	s.write("01_formatted_messages.txt", "Formatted messages for summarization", formatted,
		fmt.Sprintf("Messages: %d", messageCount))
}

// stageOrder is the full stage set a session can record, in pipeline order.
// The classic pipeline runs summarization/reflection/improvement; the
// structured pipeline runs cleaning/classification/extraction/parent_summary.
var stageOrder = []string{
	"cleaning",
	"summarization",
	"reflection",
	"improvement",
	"classification",
	"extraction",
	"parent_summary",
}

var requestFiles = map[string]string{
	"summarization":  "02_summarization_request.txt",
	"reflection":     "04_reflection_request.txt",
	"improvement":    "06_improvement_request.txt",
	"cleaning":       "10_cleaning_request.txt",
	"classification": "12_classification_request.txt",
	"extraction":     "14_extraction_request.txt",
	"parent_summary": "16_parent_summary_request.txt",
}

var responseFiles = map[string]string{
	"summarization":  "03_summarization_response.txt",
	"reflection":     "05_reflection_response.txt",
	"improvement":    "07_improvement_response.txt",
	"cleaning":       "11_cleaning_response.txt",
	"classification": "13_classification_response.txt",
	"extraction":     "15_extraction_response.txt",
	"parent_summary": "17_parent_summary_response.txt",
}

// LogRequest records the prompt of one pipeline stage.
func (s *Session) LogRequest(stage, prompt string) {
	if s == nil {
		return
	}
	stage = s.effectiveStage(stage)
	name, ok := requestFiles[stage]
	if !ok {
		name = "02_llm_request.txt"
	}
	s.write(name, "LLM request: "+stage, prompt,
		fmt.Sprintf("Prompt length: %d chars", len(prompt)),
		fmt.Sprintf("Estimated tokens: %d", len(prompt)/4))
}

// LogResponse records the model's answer for one stage, with a rough
// throughput figure (chars/4 per second) for eyeballing slow providers.
func (s *Session) LogResponse(stage, response string, elapsed time.Duration) {
	if s == nil {
		return
	}
	stage = s.effectiveStage(stage)
	s.mu.Lock()
	s.elapsed[stage] = elapsed
	s.mu.Unlock()

	name, ok := responseFiles[stage]
	if !ok {
		name = "03_llm_response.txt"
	}
	extra := []string{
		fmt.Sprintf("Response length: %d chars", len(response)),
		fmt.Sprintf("Elapsed: %s", elapsed.Round(time.Millisecond)),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		extra = append(extra, fmt.Sprintf("Throughput: %.1f tokens/sec", float64(len(response))/4/secs))
	}
	s.write(name, "LLM response: "+stage, response, extra...)
}

// LogRawResult records the assembled result before outbound formatting.
func (s *Session) LogRawResult(text string) {
	s.write("08_raw_result.txt", "Raw assembled result", text,
		fmt.Sprintf("Length: %d chars", len(text)))
}

// LogFormattedResult records the final text as delivered.
func (s *Session) LogFormattedResult(text string) {
	s.write("09_formatted_result.txt", "Formatted result", text,
		fmt.Sprintf("Length: %d chars", len(text)))
}

// Finish writes the session summary enumerating the full stage set: which
// stages ran, whether they produced output, and how long each took. stages
// maps the stages that ran to whether they succeeded; stages absent from the
// map are reported as not run.
func (s *Session) Finish(stages map[string]bool) {
	if s == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Duration: %s\n", s.now().Sub(s.started).Round(time.Millisecond))
	fmt.Fprintf(&b, "Provider: %s\n", s.provider)
	fmt.Fprintf(&b, "Model: %s\n", orDash(s.model))
	fmt.Fprintf(&b, "Chat: %s\n", orDash(s.chatID))
	if s.userID != 0 {
		fmt.Fprintf(&b, "User: %d\n", s.userID)
	}

	s.mu.Lock()
	b.WriteString("\nStages:\n")
	for _, stage := range stageOrder {
		ok, ran := stages[stage]
		switch {
		case !ran:
			fmt.Fprintf(&b, "- %s: not run\n", stage)
		case ok:
			if d, timed := s.elapsed[stage]; timed {
				fmt.Fprintf(&b, "- %s: ok (%s)\n", stage, d.Round(time.Millisecond))
			} else {
				fmt.Fprintf(&b, "- %s: ok\n", stage)
			}
		default:
			fmt.Fprintf(&b, "- %s: missing\n", stage)
		}
	}
	s.mu.Unlock()

	b.WriteString("\nArtifacts:\n")
	entries, err := os.ReadDir(s.dir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") && !strings.HasPrefix(e.Name(), "00_") {
				fmt.Fprintf(&b, "- %s\n", e.Name())
			}
		}
	}

	s.write("00_session_summary.txt", "Session summary", b.String())
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// write creates one artifact file with a standard header. Errors are
// swallowed after a log line.
func (s *Session) write(name, title, content string, extra ...string) {
	if s == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== %s ===\n", title)
	fmt.Fprintf(&b, "Date: %s\n", s.date)
	fmt.Fprintf(&b, "Time: %s\n", s.now().Format("15:04:05"))
	fmt.Fprintf(&b, "Provider: %s\n", orDash(s.provider))
	if s.model != "" {
		fmt.Fprintf(&b, "Model: %s\n", s.model)
	}
	if s.chatID != "" {
		fmt.Fprintf(&b, "Chat: %s\n", s.chatID)
	}
	for _, line := range extra {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(content)
	b.WriteByte('\n')

	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		s.log.WithError(err).WithField("file", name).Error("cannot write artifact file")
	}
}

// CleanupOld removes dated artifact directories older than keepDays.
// Directories whose names are not dates are left alone.
func (f *Factory) CleanupOld(keepDays int) {
	if f == nil || f.dir == "" || keepDays <= 0 {
		return
	}
	cutoff := f.now().AddDate(0, 0, -keepDays)

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.WithError(err).Error("cannot scan artifact directory")
		}
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", e.Name())
		if err != nil {
			continue
		}
		if dirDate.Before(cutoff) {
			path := filepath.Join(f.dir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				f.log.WithError(err).WithField("dir", path).Error("cannot remove old artifacts")
				continue
			}
			f.log.WithField("dir", path).Info("removed old artifact directory")
		}
	}
}
