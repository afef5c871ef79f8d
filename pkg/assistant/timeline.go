package assistant

import (
	"fmt"
	"sort"
	"strings"
)

// MaxTurnChars caps the content length of a single timeline turn.
const MaxTurnChars = 1200

// BuildTurnTimeline merges chat turns and applied-action events into one
// chronological sequence. Content is whitespace-collapsed and truncated;
// entries that normalize to empty are dropped. The sort is stable so turns
// sharing a timestamp keep their input order.
func BuildTurnTimeline(turns []ChatTurn, applied []AppliedActionEvent) []TimelineTurn {
	entries := make([]TimelineTurn, 0, len(turns)+len(applied))
	for _, t := range turns {
		entries = append(entries, TimelineTurn{
			Role:      t.Role,
			Content:   normalizeTurnContent(t.Content),
			CreatedAt: t.CreatedAt,
		})
	}
	for _, ev := range applied {
		entries = append(entries, TimelineTurn{
			Role:      RoleUser,
			Content:   formatAppliedActionEvent(ev),
			CreatedAt: ev.AppliedAt,
		})
	}

	out := entries[:0]
	for _, e := range entries {
		if e.Content == "" {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// formatAppliedActionEvent renders a ledger entry as a synthetic user turn,
// e.g. `[Action applied] - create_and_attach_source - source: "events" -
// "Events by day" - template updated`.
func formatAppliedActionEvent(ev AppliedActionEvent) string {
	parts := []string{"[Action applied]"}
	if ev.ActionType != "" {
		parts = append(parts, string(ev.ActionType))
	}
	if ev.SourceKey != "" {
		parts = append(parts, fmt.Sprintf("source: %q", ev.SourceKey))
	}
	if ev.ArtifactTitle != "" {
		parts = append(parts, fmt.Sprintf("%q", ev.ArtifactTitle))
	}
	if ev.TemplateUpdated {
		parts = append(parts, "template updated")
	} else {
		parts = append(parts, "template not changed")
	}
	return normalizeTurnContent(strings.Join(parts, " - "))
}

func normalizeTurnContent(value string) string {
	return truncate(collapseWhitespace(value), MaxTurnChars)
}

func collapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

func normalizeOptional(value string) string {
	return strings.TrimSpace(value)
}
