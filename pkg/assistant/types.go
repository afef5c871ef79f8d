package assistant

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SessionScope restricts what an assistant session may touch.
type SessionScope string

const (
	ScopeTemplate SessionScope = "template"
)

// Session is one assistant conversation bound to a data mart and, for the
// template scope, to a single report template.
type Session struct {
	ID          string
	DataMartID  string
	ProjectID   string
	TemplateID  string
	Scope       SessionScope
	CreatedByID string
}

// ChatTurn is one persisted chat message. Immutable once appended.
type ChatTurn struct {
	ID              string
	SessionID       string
	Role            Role
	Content         string
	SQLCandidate    string
	ProposedActions []ProposedAction
	CreatedAt       time.Time
}

// TimelineTurn is a prompt-facing entry of the merged turn timeline: either a
// normalized chat message or a synthesized applied-action event.
type TimelineTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// AppliedActionEvent describes one applied ledger entry for timeline rendering.
type AppliedActionEvent struct {
	ActionType      ApplyActionType
	SourceKey       string
	ArtifactTitle   string
	TemplateUpdated bool
	AppliedAt       time.Time
}

// SnapshotContent holds the narrative fields of a conversation snapshot,
// without the compaction checkpoint. This is what the summarizer returns.
type SnapshotContent struct {
	Goal           string   `json:"goal"`
	Decisions      []string `json:"decisions"`
	AppliedChanges []string `json:"appliedChanges"`
	OpenQuestions  []string `json:"openQuestions"`
	ImportantFacts []string `json:"importantFacts"`
	LastUserIntent string   `json:"lastUserIntent"`
}

// ConversationSnapshot is the evolving compressed summary of older turns.
// CompressedTurns is the checkpoint: how many leading timeline turns the
// summary already covers. It never decreases for a given session.
type ConversationSnapshot struct {
	SnapshotContent
	CompressedTurns int       `json:"compressedTurns"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SnapshotSource is one template source as surfaced in the state snapshot.
type SnapshotSource struct {
	SourceKey     string     `json:"sourceKey"`
	ArtifactID    string     `json:"artifactId,omitempty"`
	ArtifactTitle string     `json:"artifactTitle,omitempty"`
	Attached      bool       `json:"isAttachedToTemplate"`
	SQLHash       string     `json:"sqlHash,omitempty"`
	SQLPreview    string     `json:"sqlPreview,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
}

// ActionDigest is a compact view of one apply ledger record.
type ActionDigest struct {
	RequestID          string          `json:"requestId"`
	AssistantMessageID string          `json:"assistantMessageId,omitempty"`
	LifecycleStatus    LifecycleStatus `json:"lifecycleStatus"`
	ModifiedAt         time.Time       `json:"modifiedAt"`
}

// SQLRevision points at an assistant turn carrying a SQL candidate. Handle is
// the synthesized base-SQL handle ("rev:<turnID>").
type SQLRevision struct {
	ID         string    `json:"sqlRevisionId"`
	Handle     string    `json:"handle"`
	SQLPreview string    `json:"sqlPreview"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StateSnapshot is rebuilt from stores on every turn; it is surfaced to the
// prompt and persisted only for budgeting/debugging, never as source of truth.
type StateSnapshot struct {
	SessionID      string           `json:"sessionId"`
	TemplateID     string           `json:"templateId,omitempty"`
	Sources        []SnapshotSource `json:"sources"`
	AppliedActions []ActionDigest   `json:"appliedActions"`
	PendingActions []ActionDigest   `json:"pendingActions"`
	SQLRevisions   []SQLRevision    `json:"sqlRevisions"`
}

// PromptContext is the fully assembled, budget-trimmed model context.
type PromptContext struct {
	RecentTurns          []TimelineTurn        `json:"recentTurns"`
	ConversationSnapshot *ConversationSnapshot `json:"conversationSnapshot,omitempty"`
	StateSnapshot        StateSnapshot         `json:"stateSnapshot"`
}

// StoredContext is the per-session persisted context row. Snapshots are kept
// as raw JSON so that old or malformed payloads decode to "absent" instead of
// failing the whole load.
type StoredContext struct {
	SessionID            string
	ConversationSnapshot json.RawMessage
	StateSnapshot        json.RawMessage
	UpdatedAt            time.Time
}

// SourceType is the backing kind of a template source.
type SourceType string

const (
	SourceTypeInsightArtifact SourceType = "insight_artifact"
)

// TemplateSource declares one source slot of a report template.
type TemplateSource struct {
	ID         string     `json:"id,omitempty"`
	Key        string     `json:"key"`
	Type       SourceType `json:"type"`
	ArtifactID string     `json:"artifactId,omitempty"`
}

// Template is a report template scoped to a data mart and project.
type Template struct {
	ID         string
	DataMartID string
	ProjectID  string
	Sources    []TemplateSource
}

// ValidationStatus of an artifact's SQL.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationPending ValidationStatus = "pending"
)

// Artifact is a stored SQL query with a title and validation state.
type Artifact struct {
	ID               string
	DataMartID       string
	Title            string
	SQL              string
	ValidationStatus ValidationStatus
	ValidationError  string
	CreatedByID      string
	ModifiedAt       time.Time
}

// Scope narrows store lookups to one data mart within one project.
type Scope struct {
	DataMartID string
	ProjectID  string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
