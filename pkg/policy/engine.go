package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "atomws/decision").
	Entrypoint string
	// Modules maps module names to Rego source.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates policy decisions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	logger        *slog.Logger

	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery
}

const (
	defaultEntrypoint    = "atomws/decision"
	defaultCacheCapacity = 1024
)

// NewEngine parses the modules and prepares the default entrypoint so syntax
// errors surface at construction.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	order := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		order = append(order, name)
	}
	sort.Strings(order)

	parsed := make(map[string]*ast.Module, len(order))
	for _, name := range order {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsed[name] = module
	}

	engine := &Engine{
		moduleOrder:   order,
		parsedModules: parsed,
		entrypoint:    entry,
		logger:        logger,
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}
	if maxEntries > 0 {
		engine.cache = newDecisionCache(maxEntries)
	}

	if _, err := engine.preparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}
	return engine, nil
}

// Evaluate executes the entrypoint against input.Document.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	key, cacheable := e.cacheKey(entry, input)
	if cacheable {
		if cached, ok := e.cache.Get(key); ok {
			return cloneDecision(cached), nil
		}
	}

	prepared, err := e.preparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input.Document))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	decision := Decision{Action: ActionAllow, Metadata: map[string]string{}}
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		decision, err = parseDecision(results[0].Expressions[0].Value)
		if err != nil {
			return Decision{}, err
		}
	} else {
		e.logger.Debug("policy: undefined decision, allowing", "entrypoint", entry)
	}

	if cacheable {
		e.cache.Add(key, cloneDecision(decision))
	}
	return decision, nil
}

// FlushCache clears all cached decisions.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) preparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

func (e *Engine) cacheKey(entry string, input Input) (string, bool) {
	if e.cache == nil || input.DisableCache {
		return "", false
	}
	// encoding/json sorts map keys, giving a stable digest for equal documents.
	raw, err := json.Marshal(input.Document)
	if err != nil {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(entry))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), true
}

// parseDecision accepts either a bare boolean or an object of the form
// {allow|action, reason, status, metadata}.
func parseDecision(value any) (Decision, error) {
	decision := Decision{Action: ActionAllow, Metadata: map[string]string{}}
	switch typed := value.(type) {
	case bool:
		if !typed {
			decision.Action = ActionBlock
		}
		return decision, nil
	case map[string]any:
		if allow, ok := typed["allow"].(bool); ok && !allow {
			decision.Action = ActionBlock
		}
		if raw, ok := typed["action"]; ok {
			action, err := parseAction(raw)
			if err != nil {
				return Decision{}, err
			}
			decision.Action = action
		}
		decision.Reason, _ = typed["reason"].(string)
		decision.Status = parseStatus(typed["status"])
		decision.Metadata = parseMetadata(typed["metadata"])
		return decision, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func parseAction(value any) (Action, error) {
	text, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch strings.ToLower(text) {
	case "allow":
		return ActionAllow, nil
	case "block", "deny":
		return ActionBlock, nil
	default:
		return "", fmt.Errorf("opa decision: unknown action %q", text)
	}
}

func parseStatus(value any) int {
	switch n := value.(type) {
	case json.Number:
		v, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(v)
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

func parseMetadata(value any) map[string]string {
	out := map[string]string{}
	switch typed := value.(type) {
	case map[string]string:
		for k, v := range typed {
			out[k] = v
		}
	case map[string]any:
		for k, raw := range typed {
			if s, ok := raw.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

func cloneDecision(dec Decision) Decision {
	meta := make(map[string]string, len(dec.Metadata))
	for k, v := range dec.Metadata {
		meta[k] = v
	}
	dec.Metadata = meta
	return dec
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}
	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
