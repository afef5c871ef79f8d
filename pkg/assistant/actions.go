package assistant

import (
	"time"
)

// ProposedActionType enumerates the action kinds the assistant may suggest.
type ProposedActionType string

const (
	ActionAttachSourceToTemplate   ProposedActionType = "attach_source_to_template"
	ActionApplySQLToArtifact       ProposedActionType = "apply_sql_to_artifact"
	ActionApplyChangesToSource     ProposedActionType = "apply_changes_to_source"
	ActionCreateSourceAndAttach    ProposedActionType = "create_source_and_attach"
	ActionReplaceTemplateDocument  ProposedActionType = "replace_template_document"
	ActionRemoveSourceFromTemplate ProposedActionType = "remove_source_from_template"
	ActionReuseSourceWithoutChange ProposedActionType = "reuse_source_without_changes"
)

// PlaceholderTag marks one rendered placeholder inside a template edit.
type PlaceholderTag struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// ProposedPayload is the flattened payload superset across all proposed
// action kinds; which fields are meaningful depends on the action type.
type ProposedPayload struct {
	SuggestedSourceKey       string           `json:"suggestedSourceKey,omitempty"`
	SourceID                 string           `json:"sourceId,omitempty"`
	SourceKey                string           `json:"sourceKey,omitempty"`
	ArtifactID               string           `json:"artifactId,omitempty"`
	TargetArtifactID         string           `json:"targetArtifactId,omitempty"`
	InsertTag                *bool            `json:"insertTag,omitempty"`
	SuggestedArtifactTitle   string           `json:"suggestedArtifactTitle,omitempty"`
	SuggestedTemplateSnippet string           `json:"suggestedTemplateSnippet,omitempty"`
	Text                     string           `json:"text,omitempty"`
	Tags                     []PlaceholderTag `json:"tags,omitempty"`
	DiffPreview              string           `json:"suggestedTemplateEditDiffPreview,omitempty"`
}

// ProposedAction is a candidate next step the user may apply.
type ProposedAction struct {
	Type       ProposedActionType `json:"type"`
	ID         string             `json:"id"`
	Confidence float64            `json:"confidence"`
	Payload    ProposedPayload    `json:"payload"`
}

// ApplyActionType is the closed set of canonical executable action types.
type ApplyActionType string

const (
	ApplyUpdateExistingSource    ApplyActionType = "update_existing_source"
	ApplyCreateAndAttachSource   ApplyActionType = "create_and_attach_source"
	ApplyReplaceTemplateDocument ApplyActionType = "replace_template_document"
	ApplyRemoveSourceFromTemplate ApplyActionType = "remove_source_from_template"
)

// ApplyAction is the canonical payload the execution engine dispatches on.
type ApplyAction struct {
	Type             ApplyActionType  `json:"type"`
	SourceKey        string           `json:"sourceKey,omitempty"`
	TargetArtifactID string           `json:"targetArtifactId,omitempty"`
	TemplateSourceID string           `json:"templateSourceId,omitempty"`
	InsertTag        *bool            `json:"insertTag,omitempty"`
	Text             string           `json:"text,omitempty"`
	Tags             []PlaceholderTag `json:"tags,omitempty"`
}

// HasTemplateEdit reports whether the action carries a composite template
// edit (text plus placeholder tags) on top of its source-level effect.
func (a ApplyAction) HasTemplateEdit() bool {
	return normalizeOptional(a.Text) != "" && a.Tags != nil
}

// LifecycleStatus of an apply ledger record. Transitions only created->applied.
type LifecycleStatus string

const (
	LifecycleCreated LifecycleStatus = "created"
	LifecycleApplied LifecycleStatus = "applied"
)

// ApplyStatus is the uniform outcome classification of one executed action.
type ApplyStatus string

const (
	StatusUpdated          ApplyStatus = "updated"
	StatusAlreadyPresent   ApplyStatus = "already_present"
	StatusNoOp             ApplyStatus = "no_op"
	StatusValidationFailed ApplyStatus = "validation_failed"
)

// ApplyActionResponse is the stored payload of one ledger record: lifecycle
// state, the selected canonical action, and (once applied) the result fields.
type ApplyActionResponse struct {
	RequestID          string          `json:"requestId"`
	LifecycleStatus    LifecycleStatus `json:"lifecycleStatus"`
	ArtifactID         string          `json:"artifactId,omitempty"`
	ArtifactTitle      string          `json:"artifactTitle,omitempty"`
	TemplateUpdated    bool            `json:"templateUpdated"`
	TemplateID         string          `json:"templateId,omitempty"`
	SourceKey          string          `json:"sourceKey,omitempty"`
	AssistantMessageID string          `json:"assistantMessageId,omitempty"`
	ActionType         ApplyActionType `json:"actionType,omitempty"`
	TargetArtifactID   string          `json:"targetArtifactId,omitempty"`
	TemplateSourceID   string          `json:"templateSourceId,omitempty"`
	InsertTag          *bool           `json:"insertTag,omitempty"`
	SelectedAction     *ApplyAction    `json:"selectedAction,omitempty"`
	Status             ApplyStatus     `json:"status,omitempty"`
	Reason             string          `json:"reason,omitempty"`
}

// ApplyActionRecord is one row of the idempotency ledger. The triple
// (SessionID, RequestID, CreatedByID) is unique.
type ApplyActionRecord struct {
	ID          string
	SessionID   string
	RequestID   string
	CreatedByID string
	Response    ApplyActionResponse
	ModifiedAt  time.Time
}

// ApplyCommand is one apply request as received from the API surface.
type ApplyCommand struct {
	SessionID          string
	DataMartID         string
	ProjectID          string
	UserID             string
	RequestID          string
	AssistantMessageID string
	SQL                string
	ArtifactTitle      string
}

// ApplyResult is the uniform apply response returned to callers.
type ApplyResult struct {
	RequestID       string      `json:"requestId"`
	ArtifactID      string      `json:"artifactId,omitempty"`
	ArtifactTitle   string      `json:"artifactTitle,omitempty"`
	TemplateUpdated bool        `json:"templateUpdated"`
	TemplateID      string      `json:"templateId,omitempty"`
	SourceKey       string      `json:"sourceKey,omitempty"`
	Status          ApplyStatus `json:"status"`
	Reason          string      `json:"reason,omitempty"`
}

// ExecutionResult is the execution engine's uniform outcome, before the
// lifecycle orchestrator stamps the request id on it.
type ExecutionResult struct {
	ArtifactID      string
	ArtifactTitle   string
	TemplateUpdated bool
	TemplateID      string
	SourceKey       string
	Status          ApplyStatus
	Reason          string
}

// MapProposedAction converts a proposed action into its canonical apply
// payload. It returns false for action types that cannot be applied.
func MapProposedAction(action ProposedAction) (ApplyAction, bool) {
	switch action.Type {
	case ActionApplyChangesToSource:
		return ApplyAction{
			Type:             ApplyUpdateExistingSource,
			SourceKey:        action.Payload.SourceKey,
			TargetArtifactID: action.Payload.ArtifactID,
			TemplateSourceID: action.Payload.SourceID,
			Text:             action.Payload.Text,
			Tags:             action.Payload.Tags,
		}, true
	case ActionApplySQLToArtifact:
		return ApplyAction{
			Type:             ApplyUpdateExistingSource,
			TargetArtifactID: action.Payload.ArtifactID,
			Text:             action.Payload.Text,
			Tags:             action.Payload.Tags,
		}, true
	case ActionCreateSourceAndAttach:
		return ApplyAction{
			Type:      ApplyCreateAndAttachSource,
			SourceKey: action.Payload.SuggestedSourceKey,
			Text:      action.Payload.Text,
			Tags:      action.Payload.Tags,
		}, true
	case ActionAttachSourceToTemplate:
		insertTag := action.Payload.InsertTag
		if insertTag == nil {
			v := true
			insertTag = &v
		}
		return ApplyAction{
			Type:             ApplyCreateAndAttachSource,
			SourceKey:        action.Payload.SuggestedSourceKey,
			TargetArtifactID: action.Payload.TargetArtifactID,
			InsertTag:        insertTag,
			Text:             action.Payload.Text,
			Tags:             action.Payload.Tags,
		}, true
	case ActionReuseSourceWithoutChange:
		return ApplyAction{
			Type:             ApplyCreateAndAttachSource,
			SourceKey:        action.Payload.SourceKey,
			TargetArtifactID: action.Payload.ArtifactID,
			TemplateSourceID: action.Payload.SourceID,
			Text:             action.Payload.Text,
			Tags:             action.Payload.Tags,
		}, true
	case ActionReplaceTemplateDocument:
		return ApplyAction{
			Type: ApplyReplaceTemplateDocument,
			Text: action.Payload.Text,
			Tags: action.Payload.Tags,
		}, true
	case ActionRemoveSourceFromTemplate:
		return ApplyAction{
			Type:      ApplyRemoveSourceFromTemplate,
			SourceKey: action.Payload.SourceKey,
		}, true
	default:
		return ApplyAction{}, false
	}
}

// NewCreatedResponse builds the initial ledger response for a proposed action
// selected from an assistant turn.
func NewCreatedResponse(assistantMessageID string, proposed ProposedAction) (ApplyActionResponse, bool) {
	selected, ok := MapProposedAction(proposed)
	if !ok {
		return ApplyActionResponse{}, false
	}
	return ApplyActionResponse{
		RequestID:          proposed.ID,
		LifecycleStatus:    LifecycleCreated,
		SourceKey:          selected.SourceKey,
		AssistantMessageID: assistantMessageID,
		ActionType:         selected.Type,
		TargetArtifactID:   selected.TargetArtifactID,
		TemplateSourceID:   selected.TemplateSourceID,
		InsertTag:          selected.InsertTag,
		SelectedAction:     &selected,
	}, true
}

// SelectedActionFromResponse recovers the canonical action from a stored
// response. Older records without a selected action are rebuilt from the
// snapshotted fields.
func SelectedActionFromResponse(resp ApplyActionResponse) (ApplyAction, bool) {
	if resp.SelectedAction != nil {
		return *resp.SelectedAction, true
	}
	if resp.ActionType == "" {
		return ApplyAction{}, false
	}
	switch resp.ActionType {
	case ApplyUpdateExistingSource, ApplyCreateAndAttachSource,
		ApplyReplaceTemplateDocument, ApplyRemoveSourceFromTemplate:
		return ApplyAction{
			Type:             resp.ActionType,
			SourceKey:        resp.SourceKey,
			TargetArtifactID: resp.TargetArtifactID,
			TemplateSourceID: resp.TemplateSourceID,
			InsertTag:        resp.InsertTag,
		}, true
	default:
		return ApplyAction{}, false
	}
}

// ResultFromResponse rebuilds an apply result from a stored response, as used
// for idempotent replays.
func ResultFromResponse(resp ApplyActionResponse) ApplyResult {
	status := resp.Status
	if status == "" {
		status = StatusUpdated
	}
	return ApplyResult{
		RequestID:       resp.RequestID,
		ArtifactID:      resp.ArtifactID,
		ArtifactTitle:   resp.ArtifactTitle,
		TemplateUpdated: resp.TemplateUpdated,
		TemplateID:      resp.TemplateID,
		SourceKey:       resp.SourceKey,
		Status:          status,
		Reason:          resp.Reason,
	}
}
