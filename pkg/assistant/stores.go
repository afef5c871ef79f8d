package assistant

import (
	"context"
	"time"
)

// TurnStore persists chat turns per session.
type TurnStore interface {
	// AppendTurn stores a new turn. Turn ids are caller-assigned and unique.
	AppendTurn(ctx context.Context, turn ChatTurn) error
	// ListBySession returns all turns of a session, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]ChatTurn, error)
	// GetAssistantTurn fetches one assistant-authored turn by id within a
	// session. Returns a NotFoundError when absent or not assistant-authored.
	GetAssistantTurn(ctx context.Context, sessionID, turnID string) (ChatTurn, error)
	// LatestAssistantTurnWithActions returns the newest assistant turn that
	// carries proposed actions, or ok=false when the session has none.
	LatestAssistantTurnWithActions(ctx context.Context, sessionID string) (ChatTurn, bool, error)
}

// SessionStore resolves sessions scoped to a data mart and project.
type SessionStore interface {
	Get(ctx context.Context, sessionID string, scope Scope) (Session, error)
}

// TemplateStore fetches and persists report templates.
type TemplateStore interface {
	Get(ctx context.Context, templateID string, scope Scope) (Template, error)
	// SaveSources persists the declared source list of a template.
	SaveSources(ctx context.Context, templateID string, scope Scope, sources []TemplateSource) error
}

// ArtifactStore fetches and persists SQL artifacts.
type ArtifactStore interface {
	Get(ctx context.Context, artifactID string, scope Scope) (Artifact, error)
	ListByIDs(ctx context.Context, artifactIDs []string, scope Scope) ([]Artifact, error)
	// Save upserts an artifact and returns the stored value.
	Save(ctx context.Context, artifact Artifact) (Artifact, error)
}

// ApplyLedger is the keyed idempotency store for apply requests.
type ApplyLedger interface {
	// Get loads the record for the unique (sessionID, requestID, createdByID)
	// triple. ok=false when absent.
	Get(ctx context.Context, sessionID, requestID, createdByID string) (ApplyActionRecord, bool, error)
	// Insert stores a new record, returning ErrDuplicateRecord when the
	// unique triple already exists.
	Insert(ctx context.Context, record ApplyActionRecord) error
	// MarkApplied persists the created->applied transition.
	MarkApplied(ctx context.Context, recordID string, response ApplyActionResponse, modifiedAt time.Time) error
	// ListBySession returns all records of a session for one creator.
	ListBySession(ctx context.Context, sessionID, createdByID string) ([]ApplyActionRecord, error)
}

// ContextStore persists the per-session conversation context blob.
type ContextStore interface {
	Get(ctx context.Context, sessionID string) (StoredContext, bool, error)
	Save(ctx context.Context, stored StoredContext) error
}

// TemplateValidator checks a source list against the template's scope. An
// invalid source graph is reported as a ValidationError.
type TemplateValidator interface {
	ValidateSources(ctx context.Context, sources []TemplateSource, scope Scope) error
}

// ReplaceTemplateRequest asks the full-template-replace collaborator to swap
// the template document for the given text with rendered placeholder tags.
type ReplaceTemplateRequest struct {
	TemplateID string
	Scope      Scope
	Text       string
	Tags       []PlaceholderTag
}

// ReplaceTemplateResult is the collaborator's verdict, passed through verbatim.
type ReplaceTemplateResult struct {
	TemplateUpdated  bool
	TemplateID       string
	Status           ApplyStatus
	Reason           string
	RenderedTemplate string
}

// TemplateReplacer is the full-template-replace collaborator.
type TemplateReplacer interface {
	Apply(ctx context.Context, req ReplaceTemplateRequest) (ReplaceTemplateResult, error)
}

// SnapshotRequest carries the compaction input for the summarizer.
type SnapshotRequest struct {
	Existing        *ConversationSnapshot
	TurnsToCompress []TimelineTurn
}

// SnapshotAgent is the black-box summarization collaborator.
type SnapshotAgent interface {
	BuildSnapshot(ctx context.Context, req SnapshotRequest) (SnapshotContent, error)
}

// TxRunner executes fn inside one atomic unit of work. Store methods called
// with the derived context take part in the same transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTxRunner runs fn directly, for store sets without transactions.
type NopTxRunner struct{}

// RunInTx implements TxRunner.
func (NopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
