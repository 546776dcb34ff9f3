// Package transform holds the user supplied filter and handler applied to the
// change stream, and the compilers that build them from script text.
package transform

import (
	"context"
	"errors"
	"strings"

	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
)

var ErrCompile = errors.New("transform compile")

// Context exposes the live target handles to handlers for supplementary reads.
type Context struct {
	Database   session.Database
	Collection session.Collection
}

// FilterFunc admits or rejects one raw oplog entry.
type FilterFunc func(ctx context.Context, e *message.Entry) (bool, error)

// HandlerFunc maps a resolved event to zero or more payloads.
type HandlerFunc func(ctx context.Context, hc Context, ev *message.Event) ([]any, error)

// Unit is one compiled transform. A Unit is never mutated after it is
// built; recompilation produces a new one.
type Unit struct {
	Source     string
	Filter     FilterFunc
	Handler    HandlerFunc
	Projection []string
}

func AcceptAll(context.Context, *message.Entry) (bool, error) {
	return true, nil
}

func Identity(_ context.Context, _ Context, ev *message.Event) ([]any, error) {
	return []any{ev.Plain()}, nil
}

// Default admits every entry and emits each event unchanged.
func Default() *Unit {
	return &Unit{Filter: AcceptAll, Handler: Identity}
}

type Compiler interface {
	Compile(source string) (*Unit, error)
}

type CompilerFunc func(source string) (*Unit, error)

func (f CompilerFunc) Compile(source string) (*Unit, error) {
	return f(source)
}

// IsIdentity reports whether source is empty or the identity script.
func IsIdentity(source string) bool {
	s := strings.TrimSpace(source)
	return s == "" || s == "return $;" || s == "return $"
}

// Complete fills the missing parts of u with the defaults. A nil u yields
// Default().
func Complete(u *Unit) *Unit {
	if u == nil {
		return Default()
	}
	if u.Filter == nil {
		u.Filter = AcceptAll
	}
	if u.Handler == nil {
		u.Handler = Identity
	}
	return u
}
