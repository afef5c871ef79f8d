package assistant

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// HandleKind is a recognized base-SQL handle prefix.
type HandleKind string

const (
	HandleKindRev HandleKind = "rev"
	HandleKindSrc HandleKind = "src"
	HandleKindArt HandleKind = "art"
)

// handleKinds is the fixed fallback order.
var handleKinds = []HandleKind{HandleKindRev, HandleKindSrc, HandleKindArt}

// HandleOrigin records which handle and kind produced a resolution.
type HandleOrigin struct {
	Handle string
	Kind   HandleKind
}

// ResolvedBaseSQL is the outcome of resolving an opaque base-SQL handle.
type ResolvedBaseSQL struct {
	BaseSQL                string
	BaseAssistantMessageID string
	Origin                 HandleOrigin
}

// BaseSQLHandleResolver resolves "<kind>:<id>" handles (or raw ids) to
// concrete SQL text, trying the declared kind first and the remaining kinds
// in fixed order. Individual misses are non-fatal.
type BaseSQLHandleResolver struct {
	turns     TurnStore
	templates TemplateStore
	artifacts ArtifactStore
	logger    zerolog.Logger
}

// NewBaseSQLHandleResolver wires the resolver to its stores.
func NewBaseSQLHandleResolver(turns TurnStore, templates TemplateStore, artifacts ArtifactStore, logger zerolog.Logger) *BaseSQLHandleResolver {
	return &BaseSQLHandleResolver{
		turns:     turns,
		templates: templates,
		artifacts: artifacts,
		logger:    logger.With().Str("component", "base_sql_handle_resolver").Logger(),
	}
}

// Resolve tries every applicable kind and fails with a client error naming
// the original handle only when all attempts miss.
func (r *BaseSQLHandleResolver) Resolve(ctx context.Context, rawHandle string, session Session) (ResolvedBaseSQL, error) {
	raw := strings.TrimSpace(rawHandle)
	kind, id := parseHandle(raw)

	order := make([]HandleKind, 0, len(handleKinds))
	if kind != "" {
		order = append(order, kind)
	}
	for _, k := range handleKinds {
		if k != kind {
			order = append(order, k)
		}
	}

	for _, k := range order {
		resolved, err := r.tryResolve(ctx, k, raw, id, session)
		if err != nil {
			r.logger.Info().
				Str("kind", string(k)).
				Str("handle", raw).
				Str("id", id).
				Err(err).
				Msg("handle candidate resolve miss")
			continue
		}
		return resolved, nil
	}

	return ResolvedBaseSQL{}, NewClientInputError("unable to resolve SQL for baseSqlHandle %q", rawHandle)
}

// parseHandle splits an optional recognized "<kind>:" prefix off the handle.
// Unrecognized prefixes leave the whole string as the id.
func parseHandle(raw string) (HandleKind, string) {
	prefix, rest, found := strings.Cut(raw, ":")
	if found {
		for _, k := range handleKinds {
			if prefix == string(k) {
				id := strings.TrimSpace(rest)
				if id == "" {
					id = raw
				}
				return k, id
			}
		}
	}
	return "", raw
}

func (r *BaseSQLHandleResolver) tryResolve(ctx context.Context, kind HandleKind, raw, id string, session Session) (ResolvedBaseSQL, error) {
	origin := HandleOrigin{Handle: raw, Kind: kind}
	switch kind {
	case HandleKindRev:
		turn, err := r.turns.GetAssistantTurn(ctx, session.ID, id)
		if err != nil {
			return ResolvedBaseSQL{}, err
		}
		sql := strings.TrimSpace(turn.SQLCandidate)
		if sql == "" {
			return ResolvedBaseSQL{}, NewClientInputError("SQL revision %q has empty sqlCandidate and cannot be refined", id)
		}
		return ResolvedBaseSQL{BaseSQL: sql, BaseAssistantMessageID: turn.ID, Origin: origin}, nil

	case HandleKindSrc:
		sql, err := r.resolveTemplateSourceSQL(ctx, id, session)
		if err != nil {
			return ResolvedBaseSQL{}, err
		}
		return ResolvedBaseSQL{BaseSQL: sql, Origin: origin}, nil

	case HandleKindArt:
		artifact, err := r.artifacts.Get(ctx, id, Scope{DataMartID: session.DataMartID, ProjectID: session.ProjectID})
		if err != nil {
			return ResolvedBaseSQL{}, err
		}
		sql := strings.TrimSpace(artifact.SQL)
		if sql == "" {
			return ResolvedBaseSQL{}, NewClientInputError("artifact %q has no SQL", id)
		}
		return ResolvedBaseSQL{BaseSQL: sql, Origin: origin}, nil

	default:
		return ResolvedBaseSQL{}, NewClientInputError("unknown handle kind %q", kind)
	}
}

func (r *BaseSQLHandleResolver) resolveTemplateSourceSQL(ctx context.Context, templateSourceID string, session Session) (string, error) {
	if session.TemplateID == "" {
		return "", NewClientInputError("session %q has no template to resolve sources from", session.ID)
	}
	scope := Scope{DataMartID: session.DataMartID, ProjectID: session.ProjectID}
	template, err := r.templates.Get(ctx, session.TemplateID, scope)
	if err != nil {
		return "", err
	}
	for _, src := range template.Sources {
		if src.ID != templateSourceID {
			continue
		}
		if src.ArtifactID == "" {
			return "", NewClientInputError("template source %q has no backing artifact", templateSourceID)
		}
		artifact, err := r.artifacts.Get(ctx, src.ArtifactID, scope)
		if err != nil {
			return "", err
		}
		sql := strings.TrimSpace(artifact.SQL)
		if sql == "" {
			return "", NewClientInputError("template source %q has empty SQL", templateSourceID)
		}
		return sql, nil
	}
	return "", NewNotFoundError("template source %q not found", templateSourceID)
}
