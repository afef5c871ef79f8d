package assistant

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (s *scriptedCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	return s.reply, s.err
}

func TestSnapshotAgentParsesStrictJSON(t *testing.T) {
	completer := &scriptedCompleter{reply: `{
		"goal": "daily events report",
		"decisions": ["use UTC days"],
		"appliedChanges": [],
		"openQuestions": [],
		"importantFacts": ["events table is append-only"],
		"lastUserIntent": "group by day"
	}`}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	content, err := agent.BuildSnapshot(context.Background(), SnapshotRequest{
		TurnsToCompress: []TimelineTurn{{Role: RoleUser, Content: "group by day"}},
	})
	require.NoError(t, err)
	require.Equal(t, "daily events report", content.Goal)
	require.Equal(t, []string{"use UTC days"}, content.Decisions)
	require.Equal(t, "group by day", content.LastUserIntent)
}

func TestSnapshotAgentToleratesFencedReply(t *testing.T) {
	completer := &scriptedCompleter{reply: "```json\n{\"goal\":\"g\",\"decisions\":[],\"appliedChanges\":[],\"openQuestions\":[],\"importantFacts\":[],\"lastUserIntent\":\"\"}\n```"}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	content, err := agent.BuildSnapshot(context.Background(), SnapshotRequest{})
	require.NoError(t, err)
	require.Equal(t, "g", content.Goal)
}

func TestSnapshotAgentInvalidReplyKeepsExistingContent(t *testing.T) {
	completer := &scriptedCompleter{reply: "I could not summarize, sorry!"}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	existing := &ConversationSnapshot{
		SnapshotContent: SnapshotContent{Goal: "keep this"},
		CompressedTurns: 8,
	}
	content, err := agent.BuildSnapshot(context.Background(), SnapshotRequest{Existing: existing})
	require.NoError(t, err)
	require.Equal(t, "keep this", content.Goal)
}

func TestSnapshotAgentInvalidReplyWithoutExistingFallsBackToIntent(t *testing.T) {
	completer := &scriptedCompleter{reply: "not json"}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	content, err := agent.BuildSnapshot(context.Background(), SnapshotRequest{
		TurnsToCompress: []TimelineTurn{
			{Role: RoleAssistant, Content: "sure"},
			{Role: RoleUser, Content: "add orders source"},
			{Role: RoleAssistant, Content: "done"},
		},
	})
	require.NoError(t, err)
	require.Empty(t, content.Goal)
	require.Equal(t, "add orders source", content.LastUserIntent)
}

func TestSnapshotAgentCompletionFailurePropagates(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("model down")}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	_, err = agent.BuildSnapshot(context.Background(), SnapshotRequest{})
	require.Error(t, err)
}

func TestSnapshotAgentPromptIncludesExistingAndTurns(t *testing.T) {
	completer := &scriptedCompleter{reply: `{"goal":"","decisions":[],"appliedChanges":[],"openQuestions":[],"importantFacts":[],"lastUserIntent":""}`}
	agent, err := NewLLMSnapshotAgent(completer, zerolog.Nop())
	require.NoError(t, err)

	_, err = agent.BuildSnapshot(context.Background(), SnapshotRequest{
		Existing: &ConversationSnapshot{SnapshotContent: SnapshotContent{Goal: "previous goal"}},
		TurnsToCompress: []TimelineTurn{
			{Role: RoleUser, Content: "hello there"},
		},
	})
	require.NoError(t, err)
	require.Len(t, completer.prompts, 1)
	require.Contains(t, completer.prompts[0], "previous goal")
	require.Contains(t, completer.prompts[0], "[user] hello there")
}
