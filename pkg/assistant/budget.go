package assistant

import "encoding/json"

// MaxContextChars bounds the serialized prompt context size.
const MaxContextChars = 12000

// EnforceContextBudget trims the assembled context to the character budget by
// evicting the oldest retained turn while more than one remains. If trimming
// drops every user turn, the latest user turn from the full timeline is
// re-inserted at the front. The retained list is finally capped to
// RecentWindow turns.
func EnforceContextBudget(pc PromptContext, timeline []TimelineTurn) PromptContext {
	trimmed := append([]TimelineTurn(nil), pc.RecentTurns...)
	lastUser, hasLastUser := lastUserTurn(timeline)

	for len(trimmed) > 1 && measureContextChars(PromptContext{
		RecentTurns:          trimmed,
		ConversationSnapshot: pc.ConversationSnapshot,
		StateSnapshot:        pc.StateSnapshot,
	}) > MaxContextChars {
		trimmed = trimmed[1:]
	}

	if hasLastUser && !containsUserTurn(trimmed) {
		trimmed = append([]TimelineTurn{lastUser}, trimmed...)
	}

	return PromptContext{
		RecentTurns:          tailTurns(trimmed, RecentWindow),
		ConversationSnapshot: pc.ConversationSnapshot,
		StateSnapshot:        pc.StateSnapshot,
	}
}

func measureContextChars(pc PromptContext) int {
	b, err := json.Marshal(pc)
	if err != nil {
		return 0
	}
	return len(b)
}

func lastUserTurn(turns []TimelineTurn) (TimelineTurn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i], true
		}
	}
	return TimelineTurn{}, false
}

func containsUserTurn(turns []TimelineTurn) bool {
	for _, t := range turns {
		if t.Role == RoleUser {
			return true
		}
	}
	return false
}
