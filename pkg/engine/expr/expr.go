// Package expr implements the boolean expressions of "when" match rules.
//
// An expression compares job fields with literals:
//
//	method == "POST" && path =~ "^/api/" && !(parameters.page > 10)
//
// Identifiers are dotted job field paths and always resolve to a string,
// empty when the field is absent. Strings that parse as numbers compare
// numerically against number literals. Regular expressions must be string
// literals and are compiled with the expression.
package expr

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrSyntax reports an expression that cannot be compiled.
	ErrSyntax = errors.New("condition syntax error")
	// ErrTypeMismatch reports operands a comparison cannot handle, for
	// example an empty field ordered against a number.
	ErrTypeMismatch = errors.New("type mismatch")
)

// LookupFunc resolves a field path. Job.Field has this shape.
type LookupFunc func(field string) string

// Program is a compiled expression, safe for concurrent use.
type Program struct {
	source string
	eval   evaluator
}

type evaluator func(lookup LookupFunc) (any, error)

// Compile parses expression into a Program.
func Compile(expression string) (*Program, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	tokens, err := tokenize(expression)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	eval, err := p.or()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != kindEOF {
		return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, tok.text)
	}
	return &Program{source: expression, eval: eval}, nil
}

// MustCompile is Compile for expressions known to be valid.
func MustCompile(expression string) *Program {
	prog, err := Compile(expression)
	if err != nil {
		panic(err)
	}
	return prog
}

// String returns the source expression.
func (p *Program) String() string { return p.source }

// Eval reports whether the program holds for the fields served by lookup.
func (p *Program) Eval(lookup LookupFunc) (bool, error) {
	v, err := p.eval(lookup)
	if err != nil {
		return false, err
	}
	return truth(v)
}

type kind int

const (
	kindEOF kind = iota
	kindField
	kindNumber
	kindString
	kindBool
	kindOperator
	kindOpen
	kindClose
)

type token struct {
	kind kind
	text string
}

// operators lists two-character operators before their one-character prefixes.
var operators = []string{"&&", "||", "==", "!=", "=~", "!~", ">=", "<=", ">", "<", "!"}

func tokenize(src string) ([]token, error) {
	var out []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{kindOpen, "("})
			i++
		case c == ')':
			out = append(out, token{kindClose, ")"})
			i++
		case c == '"' || c == '\'':
			s, n, err := scanString(src[i:])
			if err != nil {
				return nil, err
			}
			out = append(out, token{kindString, s})
			i += n
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			out = append(out, token{kindNumber, src[i:j]})
			i = j
		case isFieldStart(c):
			j := i + 1
			for j < len(src) && isFieldPart(src[j]) {
				j++
			}
			word := src[i:j]
			if strings.EqualFold(word, "true") || strings.EqualFold(word, "false") {
				out = append(out, token{kindBool, strings.ToLower(word)})
			} else {
				out = append(out, token{kindField, word})
			}
			i = j
		default:
			op := ""
			for _, candidate := range operators {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("%w: unexpected character %q", ErrSyntax, c)
			}
			out = append(out, token{kindOperator, op})
			i += len(op)
		}
	}
	return append(out, token{kind: kindEOF}), nil
}

// scanString reads a quoted literal at the start of src and returns its
// unescaped content and the number of bytes consumed.
func scanString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(src[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrSyntax)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isFieldStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// isFieldPart admits the separators of dotted paths and header names.
func isFieldPart(c byte) bool {
	return isFieldStart(c) || isDigit(c) || c == '.' || c == '-' || c == ':'
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != kindEOF {
		p.pos++
	}
	return tok
}

func (p *parser) accept(op string) bool {
	if tok := p.peek(); tok.kind == kindOperator && tok.text == op {
		p.pos++
		return true
	}
	return false
}

// or := and { "||" and }
func (p *parser) or() (evaluator, error) {
	left, err := p.and()
	for err == nil && p.accept("||") {
		var right evaluator
		if right, err = p.and(); err == nil {
			left = logical(left, right, true)
		}
	}
	return left, err
}

// and := not { "&&" not }
func (p *parser) and() (evaluator, error) {
	left, err := p.not()
	for err == nil && p.accept("&&") {
		var right evaluator
		if right, err = p.not(); err == nil {
			left = logical(left, right, false)
		}
	}
	return left, err
}

// not := "!" not | comparison
func (p *parser) not() (evaluator, error) {
	if !p.accept("!") {
		return p.comparison()
	}
	inner, err := p.not()
	if err != nil {
		return nil, err
	}
	return func(lookup LookupFunc) (any, error) {
		v, err := inner(lookup)
		if err != nil {
			return nil, err
		}
		b, err := truth(v)
		return !b, err
	}, nil
}

// comparison := operand [ op operand ]
func (p *parser) comparison() (evaluator, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	tok := p.peek()
	if tok.kind != kindOperator {
		return left, nil
	}
	switch op := tok.text; op {
	case "=~", "!~":
		p.next()
		pattern := p.next()
		if pattern.kind != kindString {
			return nil, fmt.Errorf("%w: %s expects a string pattern", ErrSyntax, op)
		}
		re, err := regexp.Compile(pattern.text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrSyntax, pattern.text, err)
		}
		return matcher(left, re, op == "!~"), nil
	case "==", "!=", "<", "<=", ">", ">=":
		p.next()
		right, err := p.operand()
		if err != nil {
			return nil, err
		}
		return comparer(left, right, op), nil
	}
	return left, nil
}

// operand := field | number | string | bool | "(" or ")"
func (p *parser) operand() (evaluator, error) {
	tok := p.next()
	switch tok.kind {
	case kindField:
		return func(lookup LookupFunc) (any, error) { return lookup(tok.text), nil }, nil
	case kindNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.text)
		}
		return constant(n), nil
	case kindString:
		return constant(tok.text), nil
	case kindBool:
		return constant(tok.text == "true"), nil
	case kindOpen:
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.next().kind != kindClose {
			return nil, fmt.Errorf("%w: missing )", ErrSyntax)
		}
		return inner, nil
	case kindEOF:
		return nil, fmt.Errorf("%w: unexpected end of expression", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q", ErrSyntax, tok.text)
}

func constant(v any) evaluator {
	return func(LookupFunc) (any, error) { return v, nil }
}

// logical combines two operands with && or ||, evaluating right only when
// left does not decide the result.
func logical(left, right evaluator, or bool) evaluator {
	return func(lookup LookupFunc) (any, error) {
		v, err := left(lookup)
		if err != nil {
			return nil, err
		}
		l, err := truth(v)
		if err != nil || l == or {
			return l, err
		}
		if v, err = right(lookup); err != nil {
			return nil, err
		}
		return truth(v)
	}
}

func matcher(subject evaluator, re *regexp.Regexp, negate bool) evaluator {
	return func(lookup LookupFunc) (any, error) {
		v, err := subject(lookup)
		if err != nil {
			return nil, err
		}
		return re.MatchString(text(v)) != negate, nil
	}
}

func comparer(left, right evaluator, op string) evaluator {
	return func(lookup LookupFunc) (any, error) {
		l, err := left(lookup)
		if err != nil {
			return nil, err
		}
		r, err := right(lookup)
		if err != nil {
			return nil, err
		}
		c, err := order(l, r, op)
		if err != nil {
			return nil, err
		}
		switch op {
		case "==":
			return c == 0, nil
		case "!=":
			return c != 0, nil
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
}

// order compares two operands: numerically when both read as numbers,
// lexically for two strings, and by equality only for booleans.
func order(l, r any, op string) (int, error) {
	if lf, ok := number(l); ok {
		if rf, ok := number(r); ok {
			switch {
			case lf < rf:
				return -1, nil
			case lf > rf:
				return 1, nil
			}
			return 0, nil
		}
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return strings.Compare(ls, rs), nil
		}
	}
	if lb, ok := l.(bool); ok && (op == "==" || op == "!=") {
		if rb, ok := r.(bool); ok {
			if lb == rb {
				return 0, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: cannot apply %s to %s and %s", ErrTypeMismatch, op, describe(l), describe(r))
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// truth reads a boolean operand. Fields holding "true" or "false" count.
func truth(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b, nil
		}
	}
	return false, fmt.Errorf("%w: %s is not a boolean", ErrTypeMismatch, describe(v))
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func describe(v any) string {
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case float64:
		return "number " + text(t)
	default:
		return fmt.Sprintf("%T", v)
	}
}
