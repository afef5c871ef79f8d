package assistant

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func handleResolverFixture() (*BaseSQLHandleResolver, Session) {
	session := Session{ID: "s1", DataMartID: "dm", ProjectID: "p", TemplateID: "tpl", Scope: ScopeTemplate}
	turns := &fakeTurnStore{turns: []ChatTurn{
		{ID: "turn-1", SessionID: "s1", Role: RoleAssistant, SQLCandidate: "SELECT rev"},
		{ID: "empty-turn", SessionID: "s1", Role: RoleAssistant},
	}}
	templates := &fakeTemplateStore{templates: map[string]Template{
		"tpl": {
			ID: "tpl", DataMartID: "dm", ProjectID: "p",
			Sources: []TemplateSource{
				{ID: "src-1", Key: "events", Type: SourceTypeInsightArtifact, ArtifactID: "art-1"},
			},
		},
	}}
	artifacts := &fakeArtifactStore{artifacts: map[string]Artifact{
		"art-1": {ID: "art-1", DataMartID: "dm", SQL: "SELECT art"},
	}}
	return NewBaseSQLHandleResolver(turns, templates, artifacts, zerolog.Nop()), session
}

func TestResolveDeclaredRevKind(t *testing.T) {
	r, session := handleResolverFixture()

	resolved, err := r.Resolve(context.Background(), "rev:turn-1", session)
	require.NoError(t, err)
	require.Equal(t, "SELECT rev", resolved.BaseSQL)
	require.Equal(t, "turn-1", resolved.BaseAssistantMessageID)
	require.Equal(t, HandleKindRev, resolved.Origin.Kind)
}

func TestResolveDeclaredSrcKind(t *testing.T) {
	r, session := handleResolverFixture()

	resolved, err := r.Resolve(context.Background(), "src:src-1", session)
	require.NoError(t, err)
	require.Equal(t, "SELECT art", resolved.BaseSQL)
	require.Empty(t, resolved.BaseAssistantMessageID)
	require.Equal(t, HandleKindSrc, resolved.Origin.Kind)
}

func TestResolveBareIDFallsThroughKinds(t *testing.T) {
	r, session := handleResolverFixture()

	// "art-1" is not a turn or a template source; the art fallback catches it.
	resolved, err := r.Resolve(context.Background(), "art-1", session)
	require.NoError(t, err)
	require.Equal(t, "SELECT art", resolved.BaseSQL)
	require.Equal(t, HandleKindArt, resolved.Origin.Kind)
}

func TestResolveDeclaredKindMissFallsBack(t *testing.T) {
	r, session := handleResolverFixture()

	// Declared as rev but only resolvable as an artifact.
	resolved, err := r.Resolve(context.Background(), "rev:art-1", session)
	require.NoError(t, err)
	require.Equal(t, HandleKindArt, resolved.Origin.Kind)
	require.Equal(t, "SELECT art", resolved.BaseSQL)
}

func TestResolveEmptySQLCandidateIsAMiss(t *testing.T) {
	r, session := handleResolverFixture()

	_, err := r.Resolve(context.Background(), "rev:empty-turn", session)
	require.Error(t, err)
	require.True(t, IsClientInputError(err))
	require.Contains(t, err.Error(), `"rev:empty-turn"`)
}

func TestResolveTotalFailureNamesOriginalHandle(t *testing.T) {
	r, session := handleResolverFixture()

	_, err := r.Resolve(context.Background(), "rev:nope", session)
	require.Error(t, err)
	require.True(t, IsClientInputError(err))
	require.Contains(t, err.Error(), `unable to resolve SQL for baseSqlHandle "rev:nope"`)
}

func TestParseHandle(t *testing.T) {
	kind, id := parseHandle("rev:abc")
	require.Equal(t, HandleKindRev, kind)
	require.Equal(t, "abc", id)

	// Unrecognized prefix: whole string is the id.
	kind, id = parseHandle("urn:abc")
	require.Equal(t, HandleKind(""), kind)
	require.Equal(t, "urn:abc", id)

	// Declared kind with empty rest keeps the raw handle as id.
	kind, id = parseHandle("src:")
	require.Equal(t, HandleKindSrc, kind)
	require.Equal(t, "src:", id)
}
