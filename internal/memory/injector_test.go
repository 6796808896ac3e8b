package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/pkg/types"
)

func sampleHistory() []types.Turn {
	return []types.Turn{
		{Role: types.RoleUser, Text: "hi"},
		{Role: types.RoleAgent, Text: "hello, how can I help?"},
		{Role: types.RoleUser, Text: "what is my favorite animal?"},
	}
}

func TestInjectEmptyResultsLeavesHistoryUnchanged(t *testing.T) {
	history := sampleHistory()
	out := Inject(history, nil)
	assert.Equal(t, history, out)

	out = Inject(history, []types.RetrievalResult{})
	assert.Equal(t, history, out)
}

func TestInjectAddsExactlyFourTurnsBeforeNewestUserTurn(t *testing.T) {
	history := sampleHistory()
	results := []types.RetrievalResult{
		{Text: "my favorite animal is dogs", Role: types.RoleUser, Score: 0.92},
	}

	out := Inject(history, results)
	require.Len(t, out, len(history)+4)

	// Original prefix is untouched.
	assert.Equal(t, history[:2], out[:2])

	// Synthetic block alternates user/agent/user/agent.
	assert.Equal(t, types.RoleUser, out[2].Role)
	assert.Equal(t, types.RoleAgent, out[3].Role)
	assert.Equal(t, types.RoleUser, out[4].Role)
	assert.Equal(t, types.RoleAgent, out[5].Role)
	assert.Contains(t, out[3].Text, "my favorite animal is dogs")

	// The user's new message stays last.
	assert.Equal(t, history[len(history)-1], out[len(out)-1])
}

func TestInjectDoesNotModifyInput(t *testing.T) {
	history := sampleHistory()
	snapshot := append([]types.Turn(nil), history...)

	Inject(history, []types.RetrievalResult{{Text: "fact", Role: types.RoleUser}})
	assert.Equal(t, snapshot, history)
}

func TestInjectEmptyHistory(t *testing.T) {
	out := Inject(nil, []types.RetrievalResult{{Text: "fact", Role: types.RoleUser}})
	assert.Empty(t, out)
}

func TestFormatResults(t *testing.T) {
	created := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC).UnixMilli()
	results := []types.RetrievalResult{
		{Text: "my favorite animal is dogs", Role: types.RoleUser, CreatedAt: created, ConversationTitle: "Pets"},
		{Text: "noted, dogs it is", Role: types.RoleAgent, CreatedAt: created},
	}

	got := FormatResults(results)
	lines := []string{
		"- [user, 2026-03-14 09:30] (Pets) my favorite animal is dogs",
		"- [assistant, 2026-03-14 09:30] noted, dogs it is",
	}
	assert.Equal(t, lines[0]+"\n"+lines[1], got)
}
