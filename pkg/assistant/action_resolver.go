package assistant

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// TemplateEditIntent carries a full-document template edit produced alongside
// a turn: replacement text plus the placeholder tags it references.
type TemplateEditIntent struct {
	Text string
	Tags []PlaceholderTag
}

// ResolveProposedActions selects the action set the user may apply: the final
// model result's actions win when non-empty, otherwise the actions collected
// from tool calls during the turn. A template-edit intent, when present, is
// folded in: standalone replace_template_document actions are dropped, the
// intent merges into the first source-scoped action as a composite edit, and
// absent any source-scoped action a fresh replace_template_document action is
// synthesized.
func ResolveProposedActions(resultActions, collectedActions []ProposedAction, intent *TemplateEditIntent) []ProposedAction {
	selected := resultActions
	if len(selected) == 0 {
		selected = collectedActions
	}
	selected = append([]ProposedAction(nil), selected...)

	if intent == nil {
		return selected
	}

	kept := selected[:0]
	for _, action := range selected {
		if action.Type == ActionReplaceTemplateDocument {
			continue
		}
		kept = append(kept, action)
	}
	selected = kept

	for i := range selected {
		if !isSourceScoped(selected[i].Type) {
			continue
		}
		selected[i].Payload.Text = intent.Text
		selected[i].Payload.Tags = intent.Tags
		return selected
	}

	return append(selected, ProposedAction{
		Type:       ActionReplaceTemplateDocument,
		ID:         newActionID(),
		Confidence: 1,
		Payload: ProposedPayload{
			Text: intent.Text,
			Tags: intent.Tags,
		},
	})
}

func isSourceScoped(t ProposedActionType) bool {
	switch t {
	case ActionAttachSourceToTemplate,
		ActionApplySQLToArtifact,
		ActionApplyChangesToSource,
		ActionCreateSourceAndAttach,
		ActionReuseSourceWithoutChange:
		return true
	default:
		return false
	}
}

func newActionID() string {
	u := uuid.New()
	return "act_" + hex.EncodeToString(u[:])
}
