package mod

import (
	"github.com/samcharles93/steer/internal/logger"
	"github.com/samcharles93/steer/internal/tokenizer"
)

// Context is the per-request handle passed to every Handle call. Mods keep
// their request state in it so a single Mod value can serve many requests.
// A Context is used by one request at a time and is not safe for concurrent
// use.
type Context struct {
	RequestID string
	Tokens    *tokenizer.Table
	Log       logger.Logger

	values map[any]any
}

// NewContext returns a Context for request id.
func NewContext(id string, tab *tokenizer.Table, log logger.Logger) *Context {
	if log == nil {
		log = logger.Nop()
	}
	return &Context{
		RequestID: id,
		Tokens:    tab,
		Log:       log.With("request_id", id),
		values:    make(map[any]any),
	}
}

// Value returns the state stored under key, or nil.
func (c *Context) Value(key any) any { return c.values[key] }

func (c *Context) SetValue(key, v any) { c.values[key] = v }

func (c *Context) Delete(key any) { delete(c.values, key) }

// Encode encodes text with the request vocabulary.
func (c *Context) Encode(text string) ([]int, error) { return c.Tokens.Encode(text) }
