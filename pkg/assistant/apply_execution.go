package assistant

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultArtifactTitle = "Untitled source"

// ExecutionEngine dispatches one canonical apply action against the template
// and artifact stores and reports a uniform result.
type ExecutionEngine struct {
	turns     TurnStore
	templates TemplateStore
	artifacts ArtifactStore
	validator TemplateValidator
	replacer  TemplateReplacer
	clock     Clock
	logger    zerolog.Logger
}

// ExecutionEngineConfig wires the engine's collaborators.
type ExecutionEngineConfig struct {
	Turns     TurnStore
	Templates TemplateStore
	Artifacts ArtifactStore
	Validator TemplateValidator
	Replacer  TemplateReplacer
	Clock     Clock
	Logger    zerolog.Logger
}

// NewExecutionEngine builds the engine.
func NewExecutionEngine(cfg ExecutionEngineConfig) *ExecutionEngine {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &ExecutionEngine{
		turns:     cfg.Turns,
		templates: cfg.Templates,
		artifacts: cfg.Artifacts,
		validator: cfg.Validator,
		replacer:  cfg.Replacer,
		clock:     clock,
		logger:    cfg.Logger.With().Str("component", "apply_execution").Logger(),
	}
}

// Execute runs one canonical action. Unknown action types are client errors:
// the union is closed and every case is handled here.
func (e *ExecutionEngine) Execute(ctx context.Context, session Session, cmd ApplyCommand, action ApplyAction) (ExecutionResult, error) {
	switch action.Type {
	case ApplyUpdateExistingSource:
		return e.executeUpdateExistingSource(ctx, session, cmd, action)
	case ApplyCreateAndAttachSource:
		return e.executeCreateAndAttachSource(ctx, session, cmd, action)
	case ApplyReplaceTemplateDocument:
		return e.executeReplaceTemplateDocument(ctx, session, action)
	case ApplyRemoveSourceFromTemplate:
		return e.executeRemoveSourceFromTemplate(ctx, session, cmd, action)
	default:
		return ExecutionResult{}, NewClientInputError("unsupported apply action type: %s", action.Type)
	}
}

func (e *ExecutionEngine) executeUpdateExistingSource(ctx context.Context, session Session, cmd ApplyCommand, action ApplyAction) (ExecutionResult, error) {
	sql, err := e.resolveSQLToApply(ctx, session, cmd)
	if err != nil {
		return ExecutionResult{}, err
	}
	artifact, err := e.applySQLToArtifact(ctx, session, cmd, sql, action)
	if err != nil {
		return ExecutionResult{}, err
	}
	sourceResult := ExecutionResult{
		ArtifactID:    artifact.ID,
		ArtifactTitle: artifact.Title,
		Status:        StatusUpdated,
		Reason:        "update_existing_source",
	}
	return e.applyTemplateEditAfterSource(ctx, session, action, sourceResult)
}

func (e *ExecutionEngine) executeCreateAndAttachSource(ctx context.Context, session Session, cmd ApplyCommand, action ApplyAction) (ExecutionResult, error) {
	sourceKey := normalizeOptional(action.SourceKey)
	if sourceKey == "" {
		return ExecutionResult{}, NewClientInputError("sourceKey is required for create_and_attach_source action")
	}
	templateID := normalizeOptional(session.TemplateID)
	if templateID == "" {
		return ExecutionResult{}, NewClientInputError("templateId is required for attach operation in template scope")
	}

	reuse, reused, err := e.tryReuseExistingTemplateSource(ctx, session, cmd, templateID, sourceKey)
	if err != nil {
		return ExecutionResult{}, err
	}
	if reused {
		return e.applyTemplateEditAfterSource(ctx, session, action, reuse)
	}

	if targetID := normalizeOptional(action.TargetArtifactID); targetID != "" {
		artifact, err := e.artifacts.Get(ctx, targetID, e.scope(session))
		if err != nil {
			return ExecutionResult{}, err
		}
		attached, err := e.attachArtifactToTemplate(ctx, session, artifact, templateID, sourceKey)
		if err != nil {
			return ExecutionResult{}, err
		}
		status := StatusAlreadyPresent
		if attached.TemplateUpdated {
			status = StatusUpdated
		}
		sourceResult := ExecutionResult{
			ArtifactID:      artifact.ID,
			ArtifactTitle:   artifact.Title,
			TemplateUpdated: attached.TemplateUpdated,
			TemplateID:      attached.TemplateID,
			SourceKey:       attached.SourceKey,
			Status:          status,
			Reason:          "attach_existing_source",
		}
		return e.applyTemplateEditAfterSource(ctx, session, action, sourceResult)
	}

	sql, err := e.resolveSQLToApply(ctx, session, cmd)
	if err != nil {
		return ExecutionResult{}, err
	}
	artifact, err := e.applySQLToArtifact(ctx, session, cmd, sql, action)
	if err != nil {
		return ExecutionResult{}, err
	}
	attached, err := e.attachArtifactToTemplate(ctx, session, artifact, templateID, sourceKey)
	if err != nil {
		return ExecutionResult{}, err
	}
	sourceResult := ExecutionResult{
		ArtifactID:      artifact.ID,
		ArtifactTitle:   artifact.Title,
		TemplateUpdated: attached.TemplateUpdated,
		TemplateID:      attached.TemplateID,
		SourceKey:       attached.SourceKey,
		Status:          StatusUpdated,
		Reason:          "create_and_attach_source",
	}
	return e.applyTemplateEditAfterSource(ctx, session, action, sourceResult)
}

// tryReuseExistingTemplateSource handles the attach-onto-existing-key case:
// plain reuse unless an explicit SQL override differs from the stored SQL
// under whitespace/case normalization, which turns it into an update.
func (e *ExecutionEngine) tryReuseExistingTemplateSource(ctx context.Context, session Session, cmd ApplyCommand, templateID, sourceKey string) (ExecutionResult, bool, error) {
	template, err := e.templates.Get(ctx, templateID, e.scope(session))
	if err != nil {
		return ExecutionResult{}, false, err
	}
	var existing *TemplateSource
	for i := range template.Sources {
		if template.Sources[i].Key == sourceKey {
			existing = &template.Sources[i]
			break
		}
	}
	if existing == nil {
		return ExecutionResult{}, false, nil
	}

	var existingArtifact *Artifact
	if existing.ArtifactID != "" {
		artifact, err := e.artifacts.Get(ctx, existing.ArtifactID, e.scope(session))
		if err == nil {
			existingArtifact = &artifact
		} else if !IsNotFoundError(err) {
			return ExecutionResult{}, false, err
		}
	}

	result := ExecutionResult{
		ArtifactID: existing.ArtifactID,
		TemplateID: template.ID,
		SourceKey:  sourceKey,
		Status:     StatusAlreadyPresent,
		Reason:     "source_already_in_template",
	}
	if existingArtifact != nil {
		result.ArtifactTitle = existingArtifact.Title
	}

	sqlOverride := normalizeOptional(cmd.SQL)
	if sqlOverride != "" && existingArtifact != nil &&
		normalizeSQLForComparison(existingArtifact.SQL) != normalizeSQLForComparison(sqlOverride) {
		updated, err := e.applySQLToArtifact(ctx, session, cmd, sqlOverride, ApplyAction{
			Type:      ApplyUpdateExistingSource,
			SourceKey: sourceKey,
		})
		if err != nil {
			return ExecutionResult{}, false, err
		}
		result.ArtifactID = updated.ID
		result.ArtifactTitle = updated.Title
		result.Status = StatusUpdated
		result.Reason = "update_existing_source"
	}

	return result, true, nil
}

func (e *ExecutionEngine) executeReplaceTemplateDocument(ctx context.Context, session Session, action ApplyAction) (ExecutionResult, error) {
	templateID := normalizeOptional(session.TemplateID)
	if templateID == "" {
		return ExecutionResult{}, NewClientInputError("templateId is required for template-scoped apply action")
	}
	if normalizeOptional(action.Text) == "" {
		return ExecutionResult{}, NewClientInputError("action.text is required for replace_template_document action")
	}
	if action.Tags == nil {
		return ExecutionResult{}, NewClientInputError("action.tags is required for replace_template_document action")
	}

	applied, err := e.replacer.Apply(ctx, ReplaceTemplateRequest{
		TemplateID: templateID,
		Scope:      e.scope(session),
		Text:       action.Text,
		Tags:       action.Tags,
	})
	if err != nil {
		return ExecutionResult{}, err
	}
	return ExecutionResult{
		TemplateUpdated: applied.TemplateUpdated,
		TemplateID:      applied.TemplateID,
		Status:          applied.Status,
		Reason:          applied.Reason,
	}, nil
}

func (e *ExecutionEngine) executeRemoveSourceFromTemplate(ctx context.Context, session Session, cmd ApplyCommand, action ApplyAction) (ExecutionResult, error) {
	templateID := normalizeOptional(session.TemplateID)
	if templateID == "" {
		return ExecutionResult{}, NewClientInputError("templateId is required for template-scoped apply action")
	}
	sourceKey := normalizeOptional(action.SourceKey)
	if sourceKey == "" {
		return ExecutionResult{}, NewClientInputError("sourceKey is required for remove_source_from_template action")
	}

	template, err := e.templates.Get(ctx, templateID, e.scope(session))
	if err != nil {
		return ExecutionResult{}, err
	}
	updated := make([]TemplateSource, 0, len(template.Sources))
	for _, src := range template.Sources {
		if src.Key != sourceKey {
			updated = append(updated, src)
		}
	}
	if len(updated) == len(template.Sources) {
		return ExecutionResult{
			TemplateID: template.ID,
			SourceKey:  sourceKey,
			Status:     StatusNoOp,
			Reason:     "remove_source_no_changes",
		}, nil
	}

	if err := e.validator.ValidateSources(ctx, updated, e.scope(session)); err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return ExecutionResult{}, err
		}
		return ExecutionResult{
			TemplateID: template.ID,
			SourceKey:  sourceKey,
			Status:     StatusValidationFailed,
			Reason:     verr.Reason,
		}, nil
	}
	if err := e.templates.SaveSources(ctx, template.ID, e.scope(session), updated); err != nil {
		return ExecutionResult{}, err
	}

	return ExecutionResult{
		TemplateUpdated: true,
		TemplateID:      template.ID,
		SourceKey:       sourceKey,
		Status:          StatusUpdated,
		Reason:          "remove_source_only",
	}, nil
}

// applyTemplateEditAfterSource runs the composite template edit riding on a
// source-level action. A validation failure here is escalated to an error so
// the surrounding transaction also rolls the source write back.
func (e *ExecutionEngine) applyTemplateEditAfterSource(ctx context.Context, session Session, action ApplyAction, sourceResult ExecutionResult) (ExecutionResult, error) {
	if !action.HasTemplateEdit() {
		return sourceResult, nil
	}

	editResult, err := e.executeReplaceTemplateDocument(ctx, session, action)
	if err != nil {
		return ExecutionResult{}, err
	}
	if editResult.Status == StatusValidationFailed {
		reason := editResult.Reason
		if reason == "" {
			reason = "template validation failed"
		}
		return ExecutionResult{}, NewValidationError("%s", reason)
	}

	merged := ExecutionResult{
		ArtifactID:      sourceResult.ArtifactID,
		ArtifactTitle:   sourceResult.ArtifactTitle,
		TemplateUpdated: sourceResult.TemplateUpdated || editResult.TemplateUpdated,
		TemplateID:      sourceResult.TemplateID,
		SourceKey:       sourceResult.SourceKey,
		Status:          sourceResult.Status,
		Reason:          sourceResult.Reason,
	}
	if editResult.TemplateID != "" {
		merged.TemplateID = editResult.TemplateID
	}
	if editResult.Status == StatusUpdated {
		merged.Status = StatusUpdated
		if sourceResult.Status != StatusUpdated {
			merged.Reason = editResult.Reason
		}
	}
	if merged.Reason == "" {
		merged.Reason = editResult.Reason
	}
	return merged, nil
}

type attachOutcome struct {
	TemplateUpdated bool
	TemplateID      string
	SourceKey       string
}

func (e *ExecutionEngine) attachArtifactToTemplate(ctx context.Context, session Session, artifact Artifact, templateID, sourceKey string) (attachOutcome, error) {
	template, err := e.templates.Get(ctx, templateID, e.scope(session))
	if err != nil {
		return attachOutcome{}, err
	}
	for _, src := range template.Sources {
		if src.Key != sourceKey {
			continue
		}
		sameSource := src.Type == SourceTypeInsightArtifact && src.ArtifactID == artifact.ID
		if !sameSource {
			return attachOutcome{}, NewClientInputError("source key %q is already used", sourceKey)
		}
		return attachOutcome{TemplateUpdated: false, TemplateID: template.ID, SourceKey: sourceKey}, nil
	}

	updated := append(append([]TemplateSource(nil), template.Sources...), TemplateSource{
		Key:        sourceKey,
		Type:       SourceTypeInsightArtifact,
		ArtifactID: artifact.ID,
	})
	if err := e.validator.ValidateSources(ctx, updated, e.scope(session)); err != nil {
		return attachOutcome{}, err
	}
	if err := e.templates.SaveSources(ctx, template.ID, e.scope(session), updated); err != nil {
		return attachOutcome{}, err
	}
	return attachOutcome{TemplateUpdated: true, TemplateID: template.ID, SourceKey: sourceKey}, nil
}

// resolveSQLToApply prefers an explicit override from the command and falls
// back to the referenced assistant turn's SQL candidate.
func (e *ExecutionEngine) resolveSQLToApply(ctx context.Context, session Session, cmd ApplyCommand) (string, error) {
	if sql := normalizeOptional(cmd.SQL); sql != "" {
		return sql, nil
	}
	turn, err := e.turns.GetAssistantTurn(ctx, session.ID, cmd.AssistantMessageID)
	if err != nil {
		return "", err
	}
	if sql := normalizeOptional(turn.SQLCandidate); sql != "" {
		return sql, nil
	}
	return "", NewClientInputError("SQL candidate is required: provide sql or generate SQL in assistant first")
}

// applySQLToArtifact writes SQL onto the target artifact (resetting its
// validation state) when one resolves, or creates a fresh artifact otherwise.
func (e *ExecutionEngine) applySQLToArtifact(ctx context.Context, session Session, cmd ApplyCommand, sql string, action ApplyAction) (Artifact, error) {
	explicitTitle := normalizeOptional(cmd.ArtifactTitle)
	targetID, err := e.resolveTargetArtifactID(ctx, session, action)
	if err != nil {
		return Artifact{}, err
	}

	if targetID != "" {
		artifact, err := e.artifacts.Get(ctx, targetID, e.scope(session))
		if err != nil {
			return Artifact{}, err
		}
		artifact.SQL = sql
		artifact.ValidationStatus = ValidationValid
		artifact.ValidationError = ""
		if explicitTitle != "" {
			artifact.Title = explicitTitle
		}
		artifact.ModifiedAt = e.clock.Now()
		return e.artifacts.Save(ctx, artifact)
	}

	title := explicitTitle
	if title == "" {
		suggested, err := e.suggestedArtifactTitle(ctx, session.ID)
		if err != nil {
			return Artifact{}, err
		}
		title = suggested
	}
	if title == "" {
		title = defaultArtifactTitle
	}

	return e.artifacts.Save(ctx, Artifact{
		ID:               uuid.NewString(),
		DataMartID:       session.DataMartID,
		Title:            title,
		SQL:              sql,
		ValidationStatus: ValidationValid,
		CreatedByID:      cmd.UserID,
		ModifiedAt:       e.clock.Now(),
	})
}

func (e *ExecutionEngine) resolveTargetArtifactID(ctx context.Context, session Session, action ApplyAction) (string, error) {
	if id := normalizeOptional(action.TargetArtifactID); id != "" {
		return id, nil
	}
	sourceKey := normalizeOptional(action.SourceKey)
	if sourceKey == "" || session.TemplateID == "" {
		return "", nil
	}
	template, err := e.templates.Get(ctx, session.TemplateID, e.scope(session))
	if err != nil {
		return "", err
	}
	for _, src := range template.Sources {
		if src.Key == sourceKey {
			return normalizeOptional(src.ArtifactID), nil
		}
	}
	return "", nil
}

// suggestedArtifactTitle scans assistant turns newest-first for the latest
// proposed action carrying a suggested artifact title.
func (e *ExecutionEngine) suggestedArtifactTitle(ctx context.Context, sessionID string) (string, error) {
	turns, err := e.turns.ListBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Role != RoleAssistant {
			continue
		}
		for _, action := range turn.ProposedActions {
			switch action.Type {
			case ActionApplySQLToArtifact, ActionApplyChangesToSource, ActionCreateSourceAndAttach:
			default:
				continue
			}
			if title := normalizeOptional(action.Payload.SuggestedArtifactTitle); title != "" {
				return title, nil
			}
		}
	}
	return "", nil
}

func (e *ExecutionEngine) scope(session Session) Scope {
	return Scope{DataMartID: session.DataMartID, ProjectID: session.ProjectID}
}

func normalizeSQLForComparison(value string) string {
	return strings.ToLower(collapseWhitespace(value))
}
