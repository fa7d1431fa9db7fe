package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminModule = `package atomws

default decision := {"allow": true}

decision := {"allow": false, "reason": "admin only", "status": 403, "metadata": {"rule": "admin"}} if {
	startswith(input.path, "/admin")
	input.headers["x-role"] != "admin"
}
`

func TestEngineEvaluatesObjectDecisions(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, EngineOptions{Modules: map[string]string{"admin.rego": adminModule}})
	require.NoError(t, err)

	allowed, err := engine.Evaluate(ctx, Input{Document: map[string]any{
		"path":    "/home",
		"headers": map[string]any{},
	}})
	require.NoError(t, err)
	assert.True(t, allowed.Allowed())

	blocked, err := engine.Evaluate(ctx, Input{Document: map[string]any{
		"path":    "/admin/users",
		"headers": map[string]any{"x-role": "guest"},
	}})
	require.NoError(t, err)
	assert.False(t, blocked.Allowed())
	assert.Equal(t, "admin only", blocked.Reason)
	assert.Equal(t, 403, blocked.Status)
	assert.Equal(t, "admin", blocked.Metadata["rule"])
}

func TestEngineBooleanEntrypoint(t *testing.T) {
	ctx := context.Background()
	module := `package gate

allow if input.method == "GET"
`
	engine, err := NewEngine(ctx, EngineOptions{
		Entrypoint: "gate/allow",
		Modules:    map[string]string{"gate.rego": module},
	})
	require.NoError(t, err)

	got, err := engine.Evaluate(ctx, Input{Document: map[string]any{"method": "GET"}})
	require.NoError(t, err)
	assert.True(t, got.Allowed())

	// allow is undefined for POST, which evaluates to no result.
	got, err = engine.Evaluate(ctx, Input{Document: map[string]any{"method": "POST"}})
	require.NoError(t, err)
	assert.True(t, got.Allowed())
}

func TestEngineRejectsBadModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{Modules: map[string]string{"bad.rego": "package x\nallow if {"}})
	require.Error(t, err)

	_, err = NewEngine(context.Background(), EngineOptions{})
	require.Error(t, err)
}

func TestDecisionCacheEvictsOldest(t *testing.T) {
	cache := newDecisionCache(2)
	cache.Add("a", Decision{Action: ActionAllow})
	cache.Add("b", Decision{Action: ActionBlock})
	_, _ = cache.Get("a")
	cache.Add("c", Decision{Action: ActionAllow})

	_, okA := cache.Get("a")
	_, okB := cache.Get("b")
	_, okC := cache.Get("c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)

	cache.Clear()
	_, okA = cache.Get("a")
	assert.False(t, okA)
}

func TestCachedDecisionsAreCopies(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, EngineOptions{Modules: map[string]string{"admin.rego": adminModule}})
	require.NoError(t, err)

	doc := map[string]any{"path": "/admin", "headers": map[string]any{"x-role": "guest"}}
	first, err := engine.Evaluate(ctx, Input{Document: doc})
	require.NoError(t, err)
	first.Metadata["rule"] = "mutated"

	second, err := engine.Evaluate(ctx, Input{Document: doc})
	require.NoError(t, err)
	assert.Equal(t, "admin", second.Metadata["rule"])
}
