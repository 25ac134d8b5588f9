package providers

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxTranscriptLen caps the formatted transcript to keep prompts inside
	// token budgets.
	MaxTranscriptLen = 8000

	// TruncationMarker is appended exactly once when the transcript is cut.
	TruncationMarker = "\n... (transcript truncated to save tokens)"

	maxMessageLen = 200
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// OptimizedMessage is a transient, prompt-ready view of a ChatMessage.
type OptimizedMessage struct {
	Time   string
	Sender string
	Text   string
}

// OptimizeMessages collapses whitespace, truncates long messages and renders
// timestamps as HH:MM local time. Empty-text messages are dropped, so the
// output is never longer than the input.
func OptimizeMessages(messages []ChatMessage) []OptimizedMessage {
	optimized := make([]OptimizedMessage, 0, len(messages))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		text = whitespaceRe.ReplaceAllString(text, " ")
		// The cap applies to the text itself; the ellipsis sits on top, so a
		// truncated message is 203 runes. Downstream counts on this layout.
		if runes := []rune(text); len(runes) > maxMessageLen {
			text = string(runes[:maxMessageLen]) + "..."
		}

		sender := msg.SenderName
		if sender == "" {
			sender = "Unknown"
		}

		timeStr := "??:??"
		if msg.Timestamp > 0 {
			timeStr = time.UnixMilli(msg.Timestamp).Local().Format("15:04")
		}

		optimized = append(optimized, OptimizedMessage{
			Time:   timeStr,
			Sender: sender,
			Text:   text,
		})
	}
	return optimized
}

// FormatTranscript joins optimized messages into "[HH:MM] sender: text"
// lines, hard-capped at MaxTranscriptLen characters plus the truncation
// marker.
func FormatTranscript(messages []OptimizedMessage) string {
	if len(messages) == 0 {
		return ""
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", msg.Time, msg.Sender, msg.Text))
	}
	full := strings.Join(lines, "\n")

	if runes := []rune(full); len(runes) > MaxTranscriptLen {
		full = string(runes[:MaxTranscriptLen]) + TruncationMarker
	}
	return full
}

// BuildTranscript is the shared optimize-then-format step every provider runs
// before talking to its backend.
func BuildTranscript(messages []ChatMessage) (transcript string, optimizedCount int) {
	optimized := OptimizeMessages(messages)
	return FormatTranscript(optimized), len(optimized)
}

// SampleMessages renders up to n numbered "[sender]: text" lines for the
// reflection and improvement prompts, noting how many messages were omitted.
func SampleMessages(messages []ChatMessage, n int) string {
	var b strings.Builder
	count := 0
	for _, msg := range messages {
		if count >= n {
			break
		}
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		sender := msg.SenderName
		if sender == "" {
			sender = "Unknown"
		}
		count++
		fmt.Fprintf(&b, "%d. [%s]: %s\n", count, sender, text)
	}
	if remaining := len(messages) - count; remaining > 0 {
		fmt.Fprintf(&b, "... and %d more messages\n", remaining)
	}
	return b.String()
}
