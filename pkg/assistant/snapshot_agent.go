package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ChatCompleter is the model call the summarizer is built on. It receives a
// system prompt and a user prompt and returns the raw completion text.
type ChatCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const snapshotSystemPrompt = `You maintain a running snapshot of a conversation between a user and a SQL source assistant.
Merge the existing snapshot with the new turns and return ONLY a JSON object with this exact shape:
{"goal": string, "decisions": [string], "appliedChanges": [string], "openQuestions": [string], "importantFacts": [string], "lastUserIntent": string}
Keep entries short. Carry forward still-relevant entries from the existing snapshot, drop superseded ones.
Do not include markdown fences or any text outside the JSON object.`

// LLMSnapshotAgent summarizes older conversation turns into a structured
// snapshot by calling a chat model and strictly decoding its JSON reply.
type LLMSnapshotAgent struct {
	completer ChatCompleter
	logger    zerolog.Logger
}

func NewLLMSnapshotAgent(completer ChatCompleter, logger zerolog.Logger) (*LLMSnapshotAgent, error) {
	if completer == nil {
		return nil, errors.New("snapshot agent: completer is nil")
	}
	return &LLMSnapshotAgent{
		completer: completer,
		logger:    logger.With().Str("component", "snapshot_agent").Logger(),
	}, nil
}

// BuildSnapshot merges the existing snapshot with the turns to compress. A
// model reply that is not the expected JSON object keeps the existing snapshot
// content instead of poisoning it.
func (a *LLMSnapshotAgent) BuildSnapshot(ctx context.Context, req SnapshotRequest) (SnapshotContent, error) {
	prompt := buildSnapshotPrompt(req)
	reply, err := a.completer.Complete(ctx, snapshotSystemPrompt, prompt)
	if err != nil {
		return SnapshotContent{}, errors.Wrap(err, "snapshot agent: completion")
	}

	content, ok := parseSnapshotReply(reply)
	if !ok {
		a.logger.Warn().Int("reply_len", len(reply)).Msg("snapshot reply is not valid JSON, keeping existing snapshot content")
		if req.Existing != nil {
			return req.Existing.SnapshotContent, nil
		}
		return SnapshotContent{LastUserIntent: lastUserIntentFromTurns(req.TurnsToCompress)}, nil
	}
	return content, nil
}

func buildSnapshotPrompt(req SnapshotRequest) string {
	var b strings.Builder
	if req.Existing != nil {
		existing, err := json.Marshal(req.Existing.SnapshotContent)
		if err == nil {
			b.WriteString("Existing snapshot:\n")
			b.Write(existing)
			b.WriteString("\n\n")
		}
	}
	b.WriteString("New turns to fold in:\n")
	for _, turn := range req.TurnsToCompress {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Content)
	}
	return b.String()
}

// parseSnapshotReply decodes the model reply, tolerating fenced code blocks
// but nothing else around the JSON object.
func parseSnapshotReply(reply string) (SnapshotContent, bool) {
	trimmed := strings.TrimSpace(reply)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var content SnapshotContent
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&content); err != nil {
		return SnapshotContent{}, false
	}
	return content, true
}

func lastUserIntentFromTurns(turns []TimelineTurn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Content
		}
	}
	return ""
}
