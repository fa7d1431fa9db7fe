package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine"
	"github.com/polisai/atomws/pkg/engine/handlers"
	"github.com/polisai/atomws/pkg/job"
)

var identity = job.Identity{Title: "atomws", Powered: "atomws/test"}

func atom(decl string, fields ...any) domain.Schema {
	s := domain.Schema{domain.KeyAtom: decl}
	for i := 0; i+1 < len(fields); i += 2 {
		s[fields[i].(string)] = fields[i+1]
	}
	return s
}

type harness struct {
	handler http.Handler
}

func newHarness(t *testing.T, id job.Identity, route ...any) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := engine.NewGraph(context.Background(), engine.Options{Identity: id, Route: route, Logger: logger})
	require.NoError(t, err)
	return &harness{handler: engine.NewHTTPHandler(engine.HandlerConfig{
		Graphs: engine.NewGraphRegistry(g, logger),
		Logger: logger,
	})}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	return h.do(httptest.NewRequest(http.MethodGet, target, http.NoBody))
}

func TestTemplate(t *testing.T) {
	rule := strings.Repeat("-", 79) + "\n"
	got := handlers.Template("500: Internal Server Error", "", "footer")
	assert.Equal(t,
		"<html><head><title>500: Internal Server Error</title></head><body><pre>500: Internal Server Error\n"+rule+"footer</pre></body></html>",
		got)

	escaped := handlers.Template("404: <script>", "a & b")
	assert.Contains(t, escaped, "<title>404: &lt;script&gt;</title>")
	assert.Contains(t, escaped, rule+"a &amp; b</pre>")
	assert.NotContains(t, escaped, "<script>")
}

func TestErrorAtom(t *testing.T) {
	h := newHarness(t, identity, atom("error", "code", 418, "reason", "Short and stout"))
	rec := h.get("/pot")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>418: Short and stout</title>")
	assert.Contains(t, rec.Body.String(), "atomws (atomws/test), ")
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	hidden := identity
	hidden.Hide = true
	rec = newHarness(t, hidden).get("/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "atomws/test")
	assert.Empty(t, rec.Header().Get("Server"))
	assert.Empty(t, rec.Header().Get("X-Powered-By"))
}

func TestReplyAtom(t *testing.T) {
	h := newHarness(t, identity, atom("reply",
		"content", `{"ok":true}`,
		"mime", "application/json",
		"status", 201,
		"headers", map[string]any{"X-Custom": "yes", "Content-Type": "ignored"},
	))
	rec := h.get("/")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Custom"))
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
}

func TestReplyComputedContent(t *testing.T) {
	h := newHarness(t, identity, atom("reply", "content", domain.Computed(func(j domain.JobView) any {
		return "you asked for " + j.Field("path")
	})))
	assert.Equal(t, "you asked for /thing", h.get("/thing").Body.String())
}

func TestJSONAtomRendersObjectsOnly(t *testing.T) {
	h := newHarness(t, identity, atom("json", "using", []any{1, 2}))
	rec := h.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())
}

func TestAlterReplacesFirstMatchOnly(t *testing.T) {
	h := newHarness(t, identity,
		atom("alter", "using", []any{
			map[string]any{"path": []any{"o", "0"}},
			map[string]any{"parameters.lang": "en"},
		}),
		atom("reply", "content", domain.Computed(func(j domain.JobView) any {
			return j.Field("path") + "?" + j.Field("query")
		})),
	)
	assert.Equal(t, "/f0o/boo?lang=en", h.get("/foo/boo").Body.String())
}

func TestCustomAtomServesHTTPHandler(t *testing.T) {
	h := newHarness(t, identity, atom("custom", "handler", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "handled "+r.URL.Path)
	})))
	rec := h.get("/inner")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "handled /inner", rec.Body.String())
}

func TestCustomAtomWithoutDelegatePassesThrough(t *testing.T) {
	h := newHarness(t, identity, atom("custom"), atom("reply", "content", "after"))
	assert.Equal(t, "after", h.get("/").Body.String())
}

func TestLimitAtom(t *testing.T) {
	t.Run("error 429 without route", func(t *testing.T) {
		h := newHarness(t, identity,
			atom("limit", "rate", 0.001, "burst", 1),
			atom("reply", "content", "ok"),
		)
		assert.Equal(t, "ok", h.get("/").Body.String())
		rec := h.get("/")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "429: Too Many Requests")
	})

	t.Run("route child and per key buckets", func(t *testing.T) {
		h := newHarness(t, identity,
			atom("limit", "rate", 0.001, "burst", 1, "key", "headers.x-tenant",
				"route", atom("reply", "content", "slow down", "status", 429)),
			atom("reply", "content", "ok"),
		)
		tenant := func(name string) *http.Request {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("X-Tenant", name)
			return req
		}
		assert.Equal(t, "ok", h.do(tenant("a")).Body.String())
		assert.Equal(t, "slow down", h.do(tenant("a")).Body.String())
		assert.Equal(t, "ok", h.do(tenant("b")).Body.String())
	})
}

const rolePolicy = `package atomws

default allow := false

allow if input.headers["X-Role"] == "admin"
`

func TestPolicyAtom(t *testing.T) {
	withRole := func(role string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin", http.NoBody)
		if role != "" {
			req.Header.Set("X-Role", role)
		}
		return req
	}

	t.Run("denied jobs get 403", func(t *testing.T) {
		h := newHarness(t, identity,
			atom("policy", "modules", map[string]any{"role.rego": rolePolicy}),
			atom("reply", "content", "welcome"),
		)
		assert.Equal(t, "welcome", h.do(withRole("admin")).Body.String())
		assert.Equal(t, http.StatusForbidden, h.do(withRole("guest")).Code)
		assert.Equal(t, http.StatusForbidden, h.do(withRole("")).Code)
	})

	t.Run("denied jobs route into child", func(t *testing.T) {
		h := newHarness(t, identity,
			atom("policy", "modules", map[string]any{"role.rego": rolePolicy},
				"route", atom("reply", "content", "login first", "status", 401)),
			atom("reply", "content", "welcome"),
		)
		rec := h.do(withRole("guest"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "login first", rec.Body.String())
	})

	t.Run("object decision chooses status", func(t *testing.T) {
		h := newHarness(t, identity,
			atom("policy", "entrypoint", "atomws/decision", "modules", map[string]any{"maint.rego": `package atomws

decision := {"allow": false, "reason": "maintenance", "status": 503}
`}),
			atom("reply", "content", "welcome"),
		)
		assert.Equal(t, http.StatusServiceUnavailable, h.get("/").Code)
		assert.Equal(t, http.StatusServiceUnavailable, h.get("/").Code)
	})
}

func TestPolicyAtomPosture(t *testing.T) {
	conflicting := map[string]any{"conflict.rego": `package atomws

allow := true if input.method == "GET"

allow := false if input.path == "/conflict"
`}

	closed := newHarness(t, identity,
		atom("policy", "modules", conflicting),
		atom("reply", "content", "passed"),
	)
	assert.Equal(t, "passed", closed.get("/fine").Body.String())
	assert.Equal(t, http.StatusForbidden, closed.get("/conflict").Code)

	open := newHarness(t, identity,
		atom("policy", "modules", conflicting, "posture", "fail-open"),
		atom("reply", "content", "passed"),
	)
	assert.Equal(t, "passed", open.get("/conflict").Body.String())
}

func TestPolicyAtomRequiresModules(t *testing.T) {
	_, err := engine.NewGraph(context.Background(), engine.Options{
		Route:  []any{atom("policy")},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.ErrorIs(t, err, domain.ErrAtomInitFailed)
	assert.ErrorIs(t, err, domain.ErrInvalidDeclaration)

	_, err = engine.NewGraph(context.Background(), engine.Options{
		Route:  []any{atom("policy", "modules", map[string]any{"bad.rego": "package atomws\nallow if {"})},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.ErrorIs(t, err, domain.ErrAtomInitFailed)
}

func TestDropNoteIsStable(t *testing.T) {
	assert.Equal(t, "--connection dropped forcefully--", handlers.NoteDropped)
}
