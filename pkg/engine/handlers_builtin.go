package engine

import (
	"github.com/polisai/atomws/pkg/engine/handlers"
)

// DefaultCatalog returns a catalog holding every built-in atom type. Each call
// returns a fresh catalog that callers may extend with Register.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register("place", func() any { return handlers.NewPlaceHandler() })
	c.Register("match", func() any { return handlers.NewMatchHandler() })
	c.Register("alter", func() any { return handlers.NewAlterHandler() })
	c.Register("jump", func() any { return handlers.NewJumpHandler() })
	c.Register("custom", func() any { return handlers.NewCustomHandler() })
	c.Register("error", func() any { return handlers.NewErrorHandler() })
	c.Register("file", func() any { return handlers.NewFileHandler() })
	c.Register("json", func() any { return handlers.NewJSONHandler() })
	c.Register("reply", func() any { return handlers.NewReplyHandler() })
	c.Register("drop", func() any { return handlers.NewDropHandler() })
	c.Register("policy", func() any { return handlers.NewPolicyHandler() }, "opa")
	c.Register("limit", func() any { return handlers.NewLimitHandler() }, "ratelimit")
	return c
}
