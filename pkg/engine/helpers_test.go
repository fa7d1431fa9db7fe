package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testIdentity = job.Identity{Title: "atomws", Powered: "atomws/test"}

func atom(decl string, fields ...any) domain.Schema {
	s := domain.Schema{domain.KeyAtom: decl}
	for i := 0; i+1 < len(fields); i += 2 {
		s[fields[i].(string)] = fields[i+1]
	}
	return s
}

func buildGraph(t *testing.T, route ...any) *Graph {
	t.Helper()
	g, err := NewGraph(context.Background(), Options{
		Identity: testIdentity,
		Route:    route,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	return g
}

type releaseRecorder struct {
	mu   sync.Mutex
	recs []job.Record
}

func (r *releaseRecorder) JobReleased(rec job.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *releaseRecorder) records() []job.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.Record(nil), r.recs...)
}

func newTestHandler(g *Graph, timeout time.Duration) (*HTTPHandler, *releaseRecorder) {
	obs := &releaseRecorder{}
	h := NewHTTPHandler(HandlerConfig{
		Graphs:   NewGraphRegistry(g, testLogger()),
		Timeout:  timeout,
		Logger:   testLogger(),
		Observer: obs,
	})
	return h, obs
}

func serve(t *testing.T, g *Graph, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	h, _ := newTestHandler(g, 0)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, http.NoBody))
	return rec
}
