package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		decl     string
		kind, id string
		wantErr  bool
	}{
		{decl: "match", kind: "match"},
		{decl: "Reply:Hello", kind: "reply", id: "hello"},
		{decl: "  error : not-found ", kind: "error", id: "not-found"},
		{decl: ":top", id: "top"},
		{decl: "json:v1.2_x", kind: "json", id: "v1.2_x"},
		{decl: "reply:a:b", wantErr: true},
		{decl: "re ply", wantErr: true},
	}
	for _, tt := range tests {
		kind, id, err := Identify(tt.decl)
		if tt.wantErr {
			require.ErrorIs(t, err, domain.ErrInvalidDeclaration, tt.decl)
			continue
		}
		require.NoError(t, err, tt.decl)
		assert.Equal(t, tt.kind, kind, tt.decl)
		assert.Equal(t, tt.id, id, tt.decl)
	}
}

func TestNewGraphReservedAtoms(t *testing.T) {
	g := buildGraph(t)

	for _, id := range []string{IDTop, IDFallback, IDInternal} {
		a, ok := g.Load(id)
		require.True(t, ok, id)
		assert.Equal(t, id, a.ID())
	}
	top, ok := g.Load("place:top")
	require.True(t, ok)
	assert.Same(t, g.Entrance(), top)
	assert.Equal(t, "place", top.Type())
	assert.Equal(t, "{atom: place:top}", top.String())
	assert.Same(t, g.Entrance(), g.Failure().Ancestor())

	_, ok = g.Load("missing")
	assert.False(t, ok)
}

func TestNewGraphConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		route []any
		want  error
	}{
		{
			name:  "duplicate id",
			route: []any{atom("reply:same"), atom("json:same")},
			want:  domain.ErrDuplicateAtomID,
		},
		{
			name:  "reserved id reused",
			route: []any{atom("reply:fallback")},
			want:  domain.ErrDuplicateAtomID,
		},
		{
			name:  "unknown type",
			route: []any{atom("teleport")},
			want:  domain.ErrUnknownAtomType,
		},
		{
			name:  "missing type",
			route: []any{atom(":lonely")},
			want:  domain.ErrInvalidDeclaration,
		},
		{
			name:  "route entry is not a declaration",
			route: []any{"reply"},
			want:  domain.ErrInvalidDeclaration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(context.Background(), Options{Route: tt.route, Logger: testLogger()})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrAtomInitFailed)
		})
	}
}

func TestNewGraphPrepareFailure(t *testing.T) {
	boom := errors.New("warehouse unreachable")
	_, err := NewGraph(context.Background(), Options{
		Logger: testLogger(),
		Route: []any{atom("custom:loader", "prepare", func(context.Context, runtime.Node) error {
			return boom
		})},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAtomInitFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.CodeInitialization, domain.ErrorCode(err))
}

func TestNewGraphPreparePanic(t *testing.T) {
	_, err := NewGraph(context.Background(), Options{
		Logger: testLogger(),
		Route: []any{atom("custom", "prepare", func(context.Context, runtime.Node) error {
			panic("bad init")
		})},
	})
	require.ErrorIs(t, err, domain.ErrAtomInitFailed)
	assert.Contains(t, err.Error(), "bad init")
}

func TestNewGraphNestedRoutesPrepareBeforeReturn(t *testing.T) {
	g := buildGraph(t,
		atom("place:outer", "route", []any{
			atom("match:inner", "using", []any{map[string]any{"path": "^/x$"}}, "route", atom("reply:leaf")),
		}),
	)
	leaf, ok := g.Load("leaf")
	require.True(t, ok)
	inner, ok := g.Load("inner")
	require.True(t, ok)
	outer, ok := g.Load("outer")
	require.True(t, ok)

	assert.Same(t, inner, leaf.Ancestor())
	assert.Same(t, outer, inner.Ancestor())
	assert.Same(t, g.Entrance(), outer.Ancestor())
}

func TestFaviconRoute(t *testing.T) {
	dir := t.TempDir()
	icon := filepath.Join(dir, "icon.ico")
	require.NoError(t, os.WriteFile(icon, []byte{0, 0, 1, 0}, 0o600))

	g, err := NewGraph(context.Background(), Options{Identity: testIdentity, Favicon: icon, Logger: testLogger()})
	require.NoError(t, err)

	rec := serve(t, g, "GET", "http://example.com/favicon.ico")
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "image/x-icon; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0, 0, 1, 0}, rec.Body.Bytes())

	hidden := testIdentity
	hidden.Hide = true
	g, err = NewGraph(context.Background(), Options{Identity: hidden, Favicon: icon, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 404, serve(t, g, "GET", "http://example.com/favicon.ico").Code)
}
