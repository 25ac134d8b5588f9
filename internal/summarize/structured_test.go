package summarize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huxuxuya/TGMaxSummarizer-sub000/internal/store"
)

func TestAnalyzeStructured(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		responses: []string{
			// cleaning: keep messages 1 and 2
			"Keeping the useful ones: [1, 2]",
			// classification, fenced the way models like to answer
			"```json\n[{\"message_id\":\"1\",\"class\":\"important\"},{\"message_id\":\"2\",\"class\":\"events\"}]\n```",
			// extraction
			`[{"type":"event","title":"Museum trip","description":"Friday museum trip, bring 500r","importance":"high","action_required":true}]`,
			// parent summary
			"📋 Museum trip on Friday, bring 500r.",
		},
	}
	svc, st := testService(t, p, nil)

	result, err := svc.AnalyzeStructured(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.NoError(t, err)
	assert.Equal(t, "fake", result.Provider)
	assert.Equal(t, 2, result.MessageCount)
	assert.Equal(t, 2, result.CleanedCount)
	require.Len(t, result.Classification, 2)
	assert.Equal(t, "important", result.Classification[0].Class)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "Museum trip", result.Events[0].Title)
	assert.True(t, result.Events[0].ActionRequired)
	assert.Equal(t, "📋 Museum trip on Friday, bring 500r.", result.Summary)

	// The parent digest is persisted under its own summary type.
	require.Len(t, st.saved, 1)
	assert.Equal(t, store.SummaryStructured, st.saved[0].Type)
	assert.Equal(t, result.Summary, st.saved[0].Content)
}

func TestAnalyzeStructuredCleaningDegrades(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		responses: []string{
			// cleaning answer carries no id list; the filter is skipped
			"I could not decide which messages matter.",
			`[{"message_id":"1","class":"important"},{"message_id":"2","class":"coordination"}]`,
			`[{"type":"rule","title":"Forms","description":"Bring the form","importance":"medium","action_required":true}]`,
			"Bring the form.",
		},
	}
	svc, _ := testService(t, p, nil)

	result, err := svc.AnalyzeStructured(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.NoError(t, err)
	// Cleaning failure keeps every message and does not fail the run.
	assert.Equal(t, 2, result.CleanedCount)
	assert.Equal(t, "Bring the form.", result.Summary)
}

func TestAnalyzeStructuredClassificationFailureAborts(t *testing.T) {
	p := &fakeProvider{
		name:      "fake",
		available: true,
		responses: []string{
			"[1, 2]",
			"this is not json at all",
		},
	}
	svc, st := testService(t, p, nil)

	_, err := svc.AnalyzeStructured(context.Background(), Request{
		ChatID:   "chat-1",
		Date:     "2026-08-20",
		Messages: testMessages(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification")
	assert.Empty(t, st.saved)
}

func TestAnalyzeStructuredNoMessages(t *testing.T) {
	p := &fakeProvider{name: "fake", available: true}
	svc, _ := testService(t, p, nil)

	_, err := svc.AnalyzeStructured(context.Background(), Request{ChatID: "chat-1", Date: "2026-08-20"})
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestStripJSONFences(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, stripJSONFences("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[{"a":1}]`, stripJSONFences("```\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[1, 2]`, stripJSONFences("Here you go: [1, 2] as requested."))
	assert.Equal(t, "no array here", stripJSONFences("no array here"))
}

func TestParseKeepList(t *testing.T) {
	keep := parseKeepList("keep these: [1, 5, 12]")
	assert.True(t, keep[1])
	assert.True(t, keep[5])
	assert.True(t, keep[12])
	assert.False(t, keep[2])

	assert.Nil(t, parseKeepList("nothing numeric"))
}
