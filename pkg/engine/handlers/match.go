package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/expr"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// Predicate is a match rule implemented in Go.
type Predicate func(j *job.Job) bool

// MatchHandler routes into its child when the first of its rules matches the
// job, or unconditionally when it has no rules. Otherwise the job passes on.
type MatchHandler struct {
	rules []matchRule
	child runtime.Node
}

type matchRule struct {
	fields    []fieldTest
	predicate Predicate
	program   *expr.Program
}

// fieldTest passes when any pattern matches the field, inverted by "field!".
type fieldTest struct {
	field    string
	expect   bool
	patterns []*regexp.Regexp
}

// NewMatchHandler returns an unprepared match atom.
func NewMatchHandler() *MatchHandler { return &MatchHandler{} }

// Prepare compiles the "using" rules and builds the child route.
func (h *MatchHandler) Prepare(_ context.Context, node runtime.Node) error {
	for i, raw := range domain.AsList(node.Schema()["using"]) {
		rule, err := compileMatchRule(raw)
		if err != nil {
			return domain.ConfigError(domain.ErrInvalidDeclaration, "match rule %d: %v", i, err)
		}
		h.rules = append(h.rules, rule)
	}
	child, err := firstChild(node)
	h.child = child
	return err
}

func compileMatchRule(raw any) (matchRule, error) {
	switch r := raw.(type) {
	case Predicate:
		return matchRule{predicate: r}, nil
	case func(*job.Job) bool:
		return matchRule{predicate: r}, nil
	case domain.Computed:
		return matchRule{predicate: func(j *job.Job) bool { return toBool(r.Resolve(j)) }}, nil
	}

	fields, ok := domain.AsSchema(raw)
	if !ok {
		return matchRule{}, fmt.Errorf("must be a mapping or a predicate, got %T", raw)
	}
	if when, isExpr := fields["when"]; isExpr && len(fields) == 1 {
		prog, err := expr.Compile(toString(when))
		if err != nil {
			return matchRule{}, err
		}
		return matchRule{program: prog}, nil
	}

	rule := matchRule{}
	for _, key := range sortedKeys(fields) {
		test := fieldTest{field: key, expect: true}
		if strings.HasSuffix(key, "!") {
			test.field = strings.TrimSuffix(key, "!")
			test.expect = false
		}
		for _, p := range domain.AsList(fields[key]) {
			re, err := compilePattern(p)
			if err != nil {
				return matchRule{}, fmt.Errorf("field %q: %w", key, err)
			}
			test.patterns = append(test.patterns, re)
		}
		rule.fields = append(rule.fields, test)
	}
	return rule, nil
}

// compilePattern accepts a ready regexp or compiles a case-insensitive one.
func compilePattern(p any) (*regexp.Regexp, error) {
	if re, ok := p.(*regexp.Regexp); ok {
		return re, nil
	}
	return regexp.Compile("(?i)" + toString(p))
}

// Execute tests the rules in order; the first match wins. An expression whose
// operands have the wrong type for this job does not match.
func (h *MatchHandler) Execute(_ context.Context, _ runtime.Node, j *job.Job) (runtime.Advance, error) {
	if len(h.rules) == 0 {
		return runtime.Into(h.child), nil
	}
	for i := range h.rules {
		ok, err := h.rules[i].matches(j)
		if errors.Is(err, expr.ErrTypeMismatch) {
			j.Trail(fmt.Sprintf("--match rule %d skipped: %v--", i, err))
			continue
		}
		if err != nil {
			return runtime.Advance{}, err
		}
		if ok {
			return runtime.Into(h.child), nil
		}
	}
	return runtime.Next(), nil
}

func (r *matchRule) matches(j *job.Job) (bool, error) {
	switch {
	case r.predicate != nil:
		return r.predicate(j), nil
	case r.program != nil:
		return r.program.Eval(j.Field)
	}
	for _, test := range r.fields {
		source := j.Field(test.field)
		hit := false
		for _, re := range test.patterns {
			if re.MatchString(source) {
				hit = true
				break
			}
		}
		if hit != test.expect {
			return false, nil
		}
	}
	return true, nil
}
