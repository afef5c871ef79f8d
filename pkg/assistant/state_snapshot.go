package assistant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// MaxSnapshotSources caps the source list surfaced in a state snapshot.
	MaxSnapshotSources = 40
	// MaxActionDigests caps applied and pending digest lists independently.
	MaxActionDigests = 30
	// MaxSQLRevisions caps the revision list scanned from assistant turns.
	MaxSQLRevisions = 5
	// SQLPreviewChars truncates SQL previews in snapshots.
	SQLPreviewChars = 600
)

// StateSnapshotBuilder derives structured session facts fresh on every call.
type StateSnapshotBuilder struct {
	templates TemplateStore
	artifacts ArtifactStore
}

// NewStateSnapshotBuilder wires the builder to its stores.
func NewStateSnapshotBuilder(templates TemplateStore, artifacts ArtifactStore) *StateSnapshotBuilder {
	return &StateSnapshotBuilder{templates: templates, artifacts: artifacts}
}

// Build assembles the state snapshot for one session from the declared
// template sources, the apply ledger and the session's assistant turns.
func (b *StateSnapshotBuilder) Build(ctx context.Context, session Session, records []ApplyActionRecord, turns []ChatTurn) (StateSnapshot, error) {
	sources, err := b.buildSources(ctx, session)
	if err != nil {
		return StateSnapshot{}, errors.Wrap(err, "state snapshot: build sources")
	}
	applied, pending := BuildActionDigests(records)

	return StateSnapshot{
		SessionID:      session.ID,
		TemplateID:     session.TemplateID,
		Sources:        sources,
		AppliedActions: applied,
		PendingActions: pending,
		SQLRevisions:   BuildSQLRevisions(turns),
	}, nil
}

func (b *StateSnapshotBuilder) buildSources(ctx context.Context, session Session) ([]SnapshotSource, error) {
	if session.TemplateID == "" {
		return []SnapshotSource{}, nil
	}
	scope := Scope{DataMartID: session.DataMartID, ProjectID: session.ProjectID}
	template, err := b.templates.Get(ctx, session.TemplateID, scope)
	if err != nil {
		if IsNotFoundError(err) {
			return []SnapshotSource{}, nil
		}
		return nil, err
	}

	artifactIDs := make([]string, 0, len(template.Sources))
	seen := map[string]struct{}{}
	for _, src := range template.Sources {
		if src.ArtifactID == "" {
			continue
		}
		if _, ok := seen[src.ArtifactID]; ok {
			continue
		}
		seen[src.ArtifactID] = struct{}{}
		artifactIDs = append(artifactIDs, src.ArtifactID)
	}

	artifactsByID := map[string]Artifact{}
	if len(artifactIDs) > 0 {
		artifacts, err := b.artifacts.ListByIDs(ctx, artifactIDs, scope)
		if err != nil {
			return nil, err
		}
		for _, a := range artifacts {
			artifactsByID[a.ID] = a
		}
	}

	declared := template.Sources
	if len(declared) > MaxSnapshotSources {
		declared = declared[:MaxSnapshotSources]
	}
	out := make([]SnapshotSource, 0, len(declared))
	for _, src := range declared {
		entry := SnapshotSource{
			SourceKey:  src.Key,
			ArtifactID: src.ArtifactID,
			Attached:   true,
		}
		if artifact, ok := artifactsByID[src.ArtifactID]; ok {
			entry.ArtifactTitle = artifact.Title
			if artifact.SQL != "" {
				entry.SQLHash = hashSQL(artifact.SQL)
				entry.SQLPreview = truncate(artifact.SQL, SQLPreviewChars)
			}
			if !artifact.ModifiedAt.IsZero() {
				modified := artifact.ModifiedAt
				entry.UpdatedAt = &modified
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// BuildActionDigests splits ledger records into applied and pending digests,
// newest first. Pending records not strictly newer than the latest applied
// record are excluded as stale leftovers of superseded proposals.
func BuildActionDigests(records []ApplyActionRecord) (applied, pending []ActionDigest) {
	sorted := append([]ApplyActionRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ModifiedAt.After(sorted[j].ModifiedAt)
	})

	applied = []ActionDigest{}
	pending = []ActionDigest{}
	var latestApplied *ApplyActionRecord
	for i := range sorted {
		if sorted[i].Response.LifecycleStatus == LifecycleApplied {
			latestApplied = &sorted[i]
			break
		}
	}
	for _, rec := range sorted {
		switch rec.Response.LifecycleStatus {
		case LifecycleApplied:
			if len(applied) < MaxActionDigests {
				applied = append(applied, toActionDigest(rec))
			}
		case LifecycleCreated:
			if latestApplied != nil && !rec.ModifiedAt.After(latestApplied.ModifiedAt) {
				continue
			}
			if len(pending) < MaxActionDigests {
				pending = append(pending, toActionDigest(rec))
			}
		}
	}
	return applied, pending
}

func toActionDigest(rec ApplyActionRecord) ActionDigest {
	return ActionDigest{
		RequestID:          rec.RequestID,
		AssistantMessageID: rec.Response.AssistantMessageID,
		LifecycleStatus:    rec.Response.LifecycleStatus,
		ModifiedAt:         rec.ModifiedAt,
	}
}

// BuildSQLRevisions scans assistant turns newest-first for non-empty SQL
// candidates, exposing each as a "rev:<turnID>" handle.
func BuildSQLRevisions(turns []ChatTurn) []SQLRevision {
	revisions := []SQLRevision{}
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		if turn.Role != RoleAssistant {
			continue
		}
		normalized := collapseWhitespace(turn.SQLCandidate)
		if normalized == "" {
			continue
		}
		revisions = append(revisions, SQLRevision{
			ID:         turn.ID,
			Handle:     string(HandleKindRev) + ":" + turn.ID,
			SQLPreview: truncate(normalized, SQLPreviewChars),
			CreatedAt:  turn.CreatedAt,
		})
		if len(revisions) >= MaxSQLRevisions {
			break
		}
	}
	return revisions
}

func hashSQL(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])
}

// truncate cuts at max bytes, backing off so a multi-byte rune is never
// split mid-sequence.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
