package domain

// JobView is the read side of a job that computed schema values may consult.
type JobView interface {
	// Field reads a scalar job attribute by dotted path ("path", "headers.host").
	Field(path string) string
	// Snapshot returns the job's addressable attributes as nested maps.
	Snapshot() map[string]any
}

// Value is a schema field whose content may depend on the job being routed.
type Value interface {
	Resolve(job JobView) any
}

// Literal is a Value fixed at configuration time.
type Literal struct {
	V any
}

// Resolve returns the literal.
func (l Literal) Resolve(JobView) any { return l.V }

// Computed is a Value evaluated for every job.
type Computed func(job JobView) any

// Resolve evaluates the function against job.
func (c Computed) Resolve(job JobView) any {
	if c == nil {
		return nil
	}
	return c(job)
}

// Resolve evaluates a raw schema value: Values and bare functions are computed,
// everything else is returned as-is.
func Resolve(v any, job JobView) any {
	switch t := v.(type) {
	case Value:
		return t.Resolve(job)
	case func(JobView) any:
		return t(job)
	default:
		return v
	}
}
