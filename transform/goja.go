package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/spf13/cast"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/snapflowio/mongocdc/logger"
	"github.com/snapflowio/mongocdc/message"
	"github.com/snapflowio/mongocdc/session"
	"github.com/snapflowio/mongocdc/telemetry"
)

var log = logger.Named("transform")

var errNoCallback = errors.New("callback was never invoked")

// JavaScript compiles transform scripts with an embedded goja runtime.
//
// Three script forms are accepted:
//
//	return $.obj;                       // body: $ is the event
//	$.op === "delete" ? null : $.obj    // bare expression over $
//	exports.filter = function (e) {...} // module: filter, handler, projection
//
// Functions may return a value, return a Promise, or take a trailing
// (err, result) callback.
type JavaScript struct{}

func (JavaScript) Compile(source string) (*Unit, error) {
	if IsIdentity(source) {
		telemetry.TransformCompilesTotal.With("identity").Inc()
		return &Unit{Source: source, Filter: AcceptAll, Handler: Identity}, nil
	}

	u, err := compileScript(source)
	if err != nil {
		telemetry.TransformCompilesTotal.With("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrCompile, err)
	}
	telemetry.TransformCompilesTotal.With("ok").Inc()
	return u, nil
}

// script serializes access to one runtime; goja is single threaded.
type script struct {
	vm *goja.Runtime
	mu sync.Mutex

	// set for the duration of one call
	ctx context.Context
}

func isModule(source string) bool {
	return strings.Contains(source, "exports.") ||
		strings.Contains(source, "module.exports") ||
		strings.Contains(source, "exports[")
}

func compileScript(source string) (*Unit, error) {
	s := &script{vm: goja.New()}
	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	u := &Unit{Source: source, Filter: AcceptAll}

	if isModule(source) {
		module := s.vm.NewObject()
		exports := s.vm.NewObject()
		if err := module.Set("exports", exports); err != nil {
			return nil, err
		}
		if err := s.vm.Set("module", module); err != nil {
			return nil, err
		}
		if err := s.vm.Set("exports", exports); err != nil {
			return nil, err
		}
		if _, err := s.vm.RunString(source); err != nil {
			return nil, err
		}

		exported := module.Get("exports").ToObject(s.vm)
		if fn, ok := s.function(exported.Get("filter")); ok {
			u.Filter = s.filter(fn)
		}
		if fn, ok := s.function(exported.Get("handler")); ok {
			u.Handler = s.handler(fn)
		} else {
			u.Handler = Identity
		}
		if p := exported.Get("projection"); p != nil && !goja.IsUndefined(p) && !goja.IsNull(p) {
			u.Projection = projection(p.Export())
		}
		return u, nil
	}

	expr := strings.TrimRight(strings.TrimSpace(source), ";")
	fnValue, err := s.vm.RunString("(function ($) { return (" + expr + "\n); })")
	if err != nil {
		fnValue, err = s.vm.RunString("(function ($) {\n" + source + "\n})")
		if err != nil {
			return nil, err
		}
	}
	fn, ok := s.function(fnValue)
	if !ok {
		return nil, errors.New("script did not produce a function")
	}
	u.Handler = s.handler(fn)
	return u, nil
}

type jsFunc struct {
	call   goja.Callable
	length int64
}

func (s *script) function(v goja.Value) (jsFunc, bool) {
	if v == nil {
		return jsFunc{}, false
	}
	call, ok := goja.AssertFunction(v)
	if !ok {
		return jsFunc{}, false
	}
	return jsFunc{call: call, length: v.ToObject(s.vm).Get("length").ToInteger()}, true
}

func projection(v any) []string {
	switch p := v.(type) {
	case string:
		return []string{p}
	case []any:
		return cast.ToStringSlice(p)
	case map[string]any:
		fields := make([]string, 0, len(p))
		for k, on := range p {
			if cast.ToBool(on) {
				fields = append(fields, k)
			}
		}
		return fields
	}
	return nil
}

func (s *script) filter(fn jsFunc) FilterFunc {
	return func(ctx context.Context, e *message.Entry) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		// the entry is also bound as this
		data := s.vm.ToValue(e.Plain())
		v, err := s.call(ctx, fn, data, data)
		if err != nil {
			return false, err
		}
		return v != nil && v.ToBoolean(), nil
	}
}

func (s *script) handler(fn jsFunc) HandlerFunc {
	return func(ctx context.Context, hc Context, ev *message.Event) ([]any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		this := s.thisObject(hc)
		v, err := s.call(ctx, fn, this, ev.Plain())
		if err != nil {
			return nil, err
		}
		return payloads(v), nil
	}
}

// call runs fn with s.mu held and resolves callback and promise results.
func (s *script) call(ctx context.Context, fn jsFunc, this goja.Value, arg any) (goja.Value, error) {
	s.ctx = ctx
	defer func() { s.ctx = nil }()

	if this == nil {
		this = goja.Undefined()
	}

	if fn.length >= 2 {
		var (
			result  goja.Value
			cbErr   error
			invoked bool
		)
		done := s.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			if invoked {
				return goja.Undefined()
			}
			invoked = true
			if e := call.Argument(0); !goja.IsUndefined(e) && !goja.IsNull(e) {
				cbErr = fmt.Errorf("%v", e.Export())
				return goja.Undefined()
			}
			result = call.Argument(1)
			return goja.Undefined()
		})
		if _, err := fn.call(this, s.vm.ToValue(arg), done); err != nil {
			return nil, err
		}
		if !invoked {
			return nil, errNoCallback
		}
		return result, cbErr
	}

	v, err := fn.call(this, s.vm.ToValue(arg))
	if err != nil {
		return nil, err
	}
	return settle(v)
}

func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return nil, nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("promise rejected: %v", p.Result().Export())
	default:
		return nil, errors.New("promise never settled")
	}
}

// payloads flattens a handler result: arrays yield one payload per element,
// null and undefined yield none.
func payloads(v goja.Value) []any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	if list, ok := exported.([]any); ok {
		out := make([]any, 0, len(list))
		for _, item := range list {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	}
	return []any{exported}
}

// thisObject exposes {collection, database} with find helpers to handlers.
func (s *script) thisObject(hc Context) goja.Value {
	this := s.vm.NewObject()
	if hc.Collection != nil {
		_ = this.Set("collection", s.collectionObject(hc.Collection))
	}
	if hc.Database != nil {
		db := s.vm.NewObject()
		_ = db.Set("name", hc.Database.Name())
		_ = db.Set("collection", func(name string) goja.Value {
			return s.collectionObject(hc.Database.Collection(name))
		})
		_ = this.Set("database", db)
	}
	return this
}

func (s *script) collectionObject(coll session.Collection) goja.Value {
	obj := s.vm.NewObject()
	_ = obj.Set("name", coll.Name())
	_ = obj.Set("namespace", coll.Namespace())
	_ = obj.Set("find", func(call goja.FunctionCall) goja.Value {
		docs, err := s.find(coll, call.Argument(0).Export())
		if err != nil {
			panic(s.vm.NewGoError(err))
		}
		return s.vm.ToValue(docs)
	})
	return obj
}

func (s *script) find(coll session.Collection, filter any) ([]any, error) {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	query := bson.M{}
	if m, ok := filter.(map[string]any); ok {
		query = bson.M(m)
	}

	cur, err := coll.Find(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := cur.Close(ctx); err != nil {
			log.Debug("close find cursor", "error", err)
		}
	}()

	var docs []any
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, message.Plain(doc))
	}
	return docs, cur.Err()
}
