package assistant

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ApplyService is the lifecycle orchestrator around one apply request. It
// enforces idempotency, staleness and conflict rules, then hands execution to
// the engine inside one atomic unit of work.
type ApplyService struct {
	ledger    ApplyLedger
	sessions  SessionStore
	turns     TurnStore
	engine    *ExecutionEngine
	tx        TxRunner
	publisher *ApplyEventPublisher
	clock     Clock
	logger    zerolog.Logger
}

// ApplyServiceConfig wires the orchestrator's collaborators. Publisher is
// optional; Tx defaults to NopTxRunner.
type ApplyServiceConfig struct {
	Ledger    ApplyLedger
	Sessions  SessionStore
	Turns     TurnStore
	Engine    *ExecutionEngine
	Tx        TxRunner
	Publisher *ApplyEventPublisher
	Clock     Clock
	Logger    zerolog.Logger
}

// NewApplyService validates the wiring and returns the orchestrator.
func NewApplyService(cfg ApplyServiceConfig) (*ApplyService, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("apply service: ledger is nil")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("apply service: session store is nil")
	}
	if cfg.Turns == nil {
		return nil, errors.New("apply service: turn store is nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("apply service: execution engine is nil")
	}
	tx := cfg.Tx
	if tx == nil {
		tx = NopTxRunner{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &ApplyService{
		ledger:    cfg.Ledger,
		sessions:  cfg.Sessions,
		turns:     cfg.Turns,
		engine:    cfg.Engine,
		tx:        tx,
		publisher: cfg.Publisher,
		clock:     clock,
		logger:    cfg.Logger.With().Str("component", "apply_service").Logger(),
	}, nil
}

// Apply runs one apply request. Replays of an already-applied requestId
// return the cached result without touching anything else; every other
// failure leaves the ledger absent or still created, safe to retry with the
// same requestId.
func (s *ApplyService) Apply(ctx context.Context, cmd ApplyCommand) (ApplyResult, error) {
	var result ApplyResult
	var replayed bool

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		record, ok, err := s.ledger.Get(ctx, cmd.SessionID, cmd.RequestID, cmd.UserID)
		if err != nil {
			return errors.Wrap(err, "apply service: load ledger record")
		}
		if ok && record.Response.LifecycleStatus == LifecycleApplied {
			result = ResultFromResponse(record.Response)
			replayed = true
			s.logApplyDecision(cmd, record.Response.ActionType, result)
			return nil
		}

		session, err := s.sessions.Get(ctx, cmd.SessionID, Scope{DataMartID: cmd.DataMartID, ProjectID: cmd.ProjectID})
		if err != nil {
			return err
		}
		if session.Scope != ScopeTemplate {
			return NewClientInputError("source assistant currently supports only template scope sessions")
		}
		if err := s.ensureLatestSessionAction(ctx, cmd); err != nil {
			return err
		}

		if !ok {
			record, err = s.createRecordFromAssistantTurn(ctx, cmd)
			if err != nil {
				return err
			}
		}
		if record.Response.AssistantMessageID != "" &&
			record.Response.AssistantMessageID != cmd.AssistantMessageID {
			return NewConflictError("assistantMessageId conflicts with selected action")
		}

		action, actionOK := SelectedActionFromResponse(record.Response)
		if !actionOK {
			return NewClientInputError("apply action is malformed")
		}

		execResult, err := s.engine.Execute(ctx, session, cmd, action)
		if err != nil {
			return err
		}

		result = ApplyResult{
			RequestID:       cmd.RequestID,
			ArtifactID:      execResult.ArtifactID,
			ArtifactTitle:   execResult.ArtifactTitle,
			TemplateUpdated: execResult.TemplateUpdated,
			TemplateID:      execResult.TemplateID,
			SourceKey:       execResult.SourceKey,
			Status:          execResult.Status,
			Reason:          execResult.Reason,
		}

		assistantMessageID := record.Response.AssistantMessageID
		if assistantMessageID == "" {
			assistantMessageID = cmd.AssistantMessageID
		}
		targetArtifactID := action.TargetArtifactID
		if targetArtifactID == "" {
			targetArtifactID = record.Response.TargetArtifactID
		}
		applied := ApplyActionResponse{
			RequestID:          cmd.RequestID,
			LifecycleStatus:    LifecycleApplied,
			ArtifactID:         result.ArtifactID,
			ArtifactTitle:      result.ArtifactTitle,
			TemplateUpdated:    result.TemplateUpdated,
			TemplateID:         result.TemplateID,
			SourceKey:          result.SourceKey,
			AssistantMessageID: assistantMessageID,
			ActionType:         action.Type,
			TargetArtifactID:   targetArtifactID,
			TemplateSourceID:   record.Response.TemplateSourceID,
			InsertTag:          action.InsertTag,
			SelectedAction:     &action,
			Status:             result.Status,
			Reason:             result.Reason,
		}
		if err := s.ledger.MarkApplied(ctx, record.ID, applied, s.clock.Now()); err != nil {
			return errors.Wrap(err, "apply service: mark applied")
		}

		s.logApplyDecision(cmd, action.Type, result)
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	if !replayed && s.publisher != nil {
		if err := s.publisher.PublishApplied(ctx, cmd, result); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", cmd.SessionID).
				Str("request_id", cmd.RequestID).
				Msg("publish applied-action event failed")
		}
	}
	return result, nil
}

// ListAppliedBySession returns the applied-ledger digest feed the timeline
// builder renders as synthetic turns, oldest first.
func (s *ApplyService) ListAppliedBySession(ctx context.Context, sessionID, createdByID string) ([]AppliedActionEvent, error) {
	records, err := s.ledger.ListBySession(ctx, sessionID, createdByID)
	if err != nil {
		return nil, errors.Wrap(err, "apply service: list ledger records")
	}
	return appliedEventsFromRecords(records), nil
}

// ensureLatestSessionAction verifies the request targets the latest assistant
// turn's still-current proposed actions.
func (s *ApplyService) ensureLatestSessionAction(ctx context.Context, cmd ApplyCommand) error {
	latest, ok, err := s.turns.LatestAssistantTurnWithActions(ctx, cmd.SessionID)
	if err != nil {
		return errors.Wrap(err, "apply service: load latest assistant turn")
	}
	if !ok {
		return NewClientInputError("no active action to apply")
	}
	if latest.ID == cmd.AssistantMessageID {
		for _, action := range latest.ProposedActions {
			if action.ID == cmd.RequestID {
				return nil
			}
		}
	}
	return NewStaleRequestError("apply action is outdated: apply the latest action from the session")
}

// createRecordFromAssistantTurn creates the ledger record for a first apply
// attempt. A duplicate-key race means a concurrent request inserted first;
// the winner's record is re-read instead of erroring.
func (s *ApplyService) createRecordFromAssistantTurn(ctx context.Context, cmd ApplyCommand) (ApplyActionRecord, error) {
	turn, err := s.turns.GetAssistantTurn(ctx, cmd.SessionID, cmd.AssistantMessageID)
	if err != nil {
		return ApplyActionRecord{}, err
	}
	var proposed *ProposedAction
	for i := range turn.ProposedActions {
		if turn.ProposedActions[i].ID == cmd.RequestID {
			proposed = &turn.ProposedActions[i]
			break
		}
	}
	if proposed == nil {
		return ApplyActionRecord{}, NewNotFoundError("apply action with id %s is not found", cmd.RequestID)
	}

	created, ok := NewCreatedResponse(turn.ID, *proposed)
	if !ok {
		return ApplyActionRecord{}, NewClientInputError("apply action is malformed")
	}

	err = s.ledger.Insert(ctx, ApplyActionRecord{
		ID:          uuid.NewString(),
		SessionID:   cmd.SessionID,
		RequestID:   cmd.RequestID,
		CreatedByID: cmd.UserID,
		Response:    created,
		ModifiedAt:  s.clock.Now(),
	})
	if err != nil && !errors.Is(err, ErrDuplicateRecord) {
		return ApplyActionRecord{}, errors.Wrap(err, "apply service: insert ledger record")
	}

	record, ok, err := s.ledger.Get(ctx, cmd.SessionID, cmd.RequestID, cmd.UserID)
	if err != nil {
		return ApplyActionRecord{}, errors.Wrap(err, "apply service: reload ledger record")
	}
	if !ok {
		return ApplyActionRecord{}, NewNotFoundError("apply action with id %s is not found", cmd.RequestID)
	}
	return record, nil
}

func (s *ApplyService) logApplyDecision(cmd ApplyCommand, actionType ApplyActionType, result ApplyResult) {
	s.logger.Info().
		Str("session_id", cmd.SessionID).
		Str("request_id", cmd.RequestID).
		Str("assistant_message_id", cmd.AssistantMessageID).
		Str("action_type", string(actionType)).
		Str("source_key", result.SourceKey).
		Str("artifact_id", result.ArtifactID).
		Str("result_status", string(result.Status)).
		Str("reason", result.Reason).
		Msg("apply decision")
}
