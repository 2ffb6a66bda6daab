// Package middleware implements the per-handler middleware chain: an
// ordered list of steps that may transform the record's context, observe
// the record, or short-circuit dispatch for that handler (§4.3).
package middleware

import (
	"context"

	"github.com/rogerchi/ddb-stream-router-sub001/record"
)

// Ctx is the per-record mutable map passed through the chain and into the
// user callback. Absent keys are absent values; two records never share
// an instance.
type Ctx struct {
	values map[string]interface{}
}

// New returns an empty Ctx.
func New() *Ctx {
	return &Ctx{values: make(map[string]interface{})}
}

// Get returns the value stored under key and whether it was present.
func (c *Ctx) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key, visible to downstream middleware and the
// callback.
func (c *Ctx) Set(key string, value interface{}) {
	c.values[key] = value
}

// Next is called by a middleware step to pass control to the next step in
// the chain. Calling it exactly once continues the chain; not calling it
// short-circuits the handler for this record (§4.3).
type Next func(ctx context.Context) error

// Middleware is one step of the chain. It must either call next exactly
// once (continue) or return without calling it (short-circuit the
// handler for this record). A returned error aborts dispatch for this
// handler on this record only (§7); other handlers are unaffected.
type Middleware func(ctx context.Context, rec *record.Record, rc *Ctx, next Next) error

// Chain is an ordered, immutable list of Middleware, frozen at
// registration time.
type Chain []Middleware

// Run executes the chain in registration order against rec and rc,
// returning whether the terminal step (the handler callback, modeled as
// the innermost Next) was reached, and any error raised by a step.
func (c Chain) Run(ctx context.Context, rec *record.Record, rc *Ctx, terminal func(context.Context) error) (reached bool, err error) {
	return runFrom(ctx, c, 0, rec, rc, terminal)
}

func runFrom(ctx context.Context, c Chain, i int, rec *record.Record, rc *Ctx, terminal func(context.Context) error) (bool, error) {
	if i >= len(c) {
		return true, terminal(ctx)
	}

	reached := false

	next := func(nctx context.Context) error {
		var innerErr error
		reached, innerErr = runFrom(nctx, c, i+1, rec, rc, terminal)
		return innerErr
	}

	err := c[i](ctx, rec, rc, next)
	return reached, err
}
