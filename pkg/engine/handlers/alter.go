package handlers

import (
	"context"
	"fmt"
	"regexp"

	"github.com/polisai/atomws/pkg/domain"
	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

// Mutator is an alter rule implemented in Go.
type Mutator func(j *job.Job)

// AlterHandler rewrites job fields in rule order and always passes the job on.
type AlterHandler struct {
	rules []alterRule
}

type alterRule struct {
	mutate Mutator
	fields []fieldRewrite
}

type fieldRewrite struct {
	field       string
	pattern     *regexp.Regexp
	replacement string
}

var matchAll = regexp.MustCompile(`(?i)^.*$`)

// NewAlterHandler returns an unprepared alter atom.
func NewAlterHandler() *AlterHandler { return &AlterHandler{} }

// Prepare compiles the "using" rules. A field mapped to [pattern, replacement]
// is a regex rewrite; a field mapped to a plain value is replaced outright.
func (h *AlterHandler) Prepare(_ context.Context, node runtime.Node) error {
	for i, raw := range domain.AsList(node.Schema()["using"]) {
		rule, err := compileAlterRule(raw)
		if err != nil {
			return domain.ConfigError(domain.ErrInvalidDeclaration, "alter rule %d: %v", i, err)
		}
		h.rules = append(h.rules, rule)
	}
	return nil
}

func compileAlterRule(raw any) (alterRule, error) {
	switch r := raw.(type) {
	case Mutator:
		return alterRule{mutate: r}, nil
	case func(*job.Job):
		return alterRule{mutate: r}, nil
	}

	fields, ok := domain.AsSchema(raw)
	if !ok {
		return alterRule{}, fmt.Errorf("must be a mapping or a function, got %T", raw)
	}
	rule := alterRule{}
	for _, key := range sortedKeys(fields) {
		rw := fieldRewrite{field: key, pattern: matchAll}
		switch v := fields[key].(type) {
		case []any:
			if len(v) == 0 || len(v) > 2 {
				return alterRule{}, fmt.Errorf("field %q: expected [pattern, replacement]", key)
			}
			re, err := compilePattern(v[0])
			if err != nil {
				return alterRule{}, fmt.Errorf("field %q: %w", key, err)
			}
			rw.pattern = re
			if len(v) == 2 {
				rw.replacement = toString(v[1])
			}
		default:
			rw.replacement = toString(v)
		}
		rule.fields = append(rule.fields, rw)
	}
	return rule, nil
}

// Execute applies every rule. The trail records the atom when a field changed.
func (h *AlterHandler) Execute(_ context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	affected := false
	for _, rule := range h.rules {
		if rule.mutate != nil {
			rule.mutate(j)
			affected = true
			continue
		}
		for _, rw := range rule.fields {
			source := j.Field(rw.field)
			loc := rw.pattern.FindStringSubmatchIndex(source)
			if loc == nil {
				continue
			}
			// Only the first match is replaced.
			expanded := rw.pattern.ExpandString(nil, rw.replacement, source, loc)
			value := source[:loc[0]] + string(expanded) + source[loc[1]:]
			if value != source && j.SetField(rw.field, value) {
				affected = true
			}
		}
	}
	if affected {
		return runtime.Next().WithNote(node.String()), nil
	}
	return runtime.Next(), nil
}
