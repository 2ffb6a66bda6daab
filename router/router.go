// Package router implements the matching and dispatch core: the
// StreamRouter classifies each record, evaluates the registered
// handlers' predicates against the resolved validation target, runs
// their middleware, and either dispatches immediately or buffers into
// the batching aggregator (§4.4-§4.6).
package router

import (
	"context"
	"fmt"

	"github.com/rogerchi/ddb-stream-router-sub001/attr"
	"github.com/rogerchi/ddb-stream-router-sub001/config"
	"github.com/rogerchi/ddb-stream-router-sub001/internal/queue"
	"github.com/rogerchi/ddb-stream-router-sub001/middleware"
	"github.com/rogerchi/ddb-stream-router-sub001/predicate"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
	"github.com/rogerchi/ddb-stream-router-sub001/registry"
	"github.com/rogerchi/ddb-stream-router-sub001/report"
)

// StreamRouter ties a Registry to a Reporter and an (optional) deferral
// queue client and dispatches batches of records against it.
type StreamRouter struct {
	Registry *registry.Registry
	Reporter report.Reporter
	Queue    queue.Client
}

// New builds a StreamRouter backed by reg. If reporter is nil, events are
// discarded.
func New(reg *registry.Registry, reporter report.Reporter, q queue.Client) *StreamRouter {
	return &StreamRouter{Registry: reg, Reporter: reporter, Queue: q}
}

// NewFromConfig builds a StreamRouter wired from a loaded engine Config:
// the default HTTP deferral queue client (nil if cfg.DeferralQueueEndpoint
// is unset) and the console Reporter unless cfg.DisableReporting is set.
// reg is unaffected by cfg; build it with cfg.NewRegistry to also apply
// cfg.DefaultMaxBatchSize to batch handlers that don't set their own.
func NewFromConfig(cfg config.Config, reg *registry.Registry) *StreamRouter {
	return New(reg, cfg.Reporter(), cfg.NewQueueClient())
}

func (sr *StreamRouter) report(e report.Event) {
	if sr.Reporter == nil {
		return
	}
	sr.Reporter.Report(e)
}

// ProcessBatch decodes a raw wire batch and dispatches it. Decode errors
// are reported (§7) and the offending records are skipped; everything
// else proceeds.
func (sr *StreamRouter) ProcessBatch(ctx context.Context, batch record.RawBatch) error {
	recs, decodeErrs := record.DecodeBatch(batch)
	for _, de := range decodeErrs {
		sr.report(report.Event{Stage: report.StageDecode, EventID: de.EventID, Err: de.Err})
	}
	return sr.Process(ctx, recs)
}

// Process dispatches already-decoded records in arrival order against
// every registered handler (§4.4), buffering batch-mode matches and
// flushing all aggregator groups once at the end (§4.5). It returns an
// error only for a programmer-contract violation; ordinary per-stage
// failures are reported via Reporter and otherwise swallowed (§7).
func (sr *StreamRouter) Process(ctx context.Context, recs []*record.Record) error {
	agg, err := newAggregator()
	if err != nil {
		return err
	}

	handlers := sr.Registry.Handlers()
	byID := make(map[string]*registry.Handler, len(handlers))
	for _, h := range handlers {
		byID[h.ID] = h
	}

	for _, rec := range recs {
		for _, h := range handlers {
			if !h.Matches(rec.OperationKind) {
				continue
			}
			sr.dispatchOne(ctx, h, rec, agg)
		}
	}

	return agg.FlushAll(func(handlerID, batchKey string, entries []registry.BatchEntry) error {
		h, ok := byID[handlerID]
		if !ok {
			return fmt.Errorf("router: flush for unknown handler %q", handlerID)
		}
		if err := sr.invokeBatchCallback(h, entries); err != nil {
			sr.report(report.Event{Stage: report.StageCallback, HandlerID: handlerLabel(h), Err: err})
		}
		return nil
	})
}

// dispatchOne runs the per-record, per-handler dispatch algorithm of
// §4.4 steps 2-6.
func (sr *StreamRouter) dispatchOne(ctx context.Context, h *registry.Handler, rec *record.Record, agg *aggregator) {
	target := h.resolveTarget(rec.OperationKind)
	predTarget := predicate.Target{Diff: rec.Diff()}
	switch target {
	case registry.TargetNewImage:
		predTarget.New = rec.NewImage
	case registry.TargetOldImage:
		predTarget.Old = rec.OldImage
	case registry.TargetBoth:
		predTarget.Old = rec.OldImage
		predTarget.New = rec.NewImage
	}

	matched, parsed, err := evalPredicate(h.Predicate, predTarget)
	if err != nil {
		sr.report(report.Event{Stage: report.StagePredicate, HandlerID: handlerLabel(h), EventID: rec.EventID, Err: err})
		return
	}
	if !matched {
		return
	}

	if rec.OperationKind == record.Insert {
		if h.Deferred && !rec.Deferred {
			if err := sr.emitDeferral(ctx, h, rec); err != nil {
				sr.report(report.Event{Stage: report.StageCallback, HandlerID: handlerLabel(h), EventID: rec.EventID, Err: err})
			}
			return
		}
		if !h.Deferred && rec.Deferred {
			return
		}
	}

	rc := middleware.New()
	var cbErr error
	reached, mwErr := h.Middleware.Run(ctx, rec, rc, func(innerCtx context.Context) error {
		cbErr = sr.invoke(innerCtx, h, rec, target, parsed, rc, agg)
		return cbErr
	})
	if mwErr != nil {
		stage := report.StageMiddleware
		if reached {
			stage = report.StageCallback
		}
		sr.report(report.Event{Stage: stage, HandlerID: handlerLabel(h), EventID: rec.EventID, Err: mwErr})
	}
}

// handlerLabel prefers a handler's human-readable slug (set via
// registry.Options.Name) over its opaque id, for reported events.
func handlerLabel(h *registry.Handler) string {
	if h.Slug != "" {
		return h.Slug
	}
	return h.ID
}

func evalPredicate(p predicate.Predicate, t predicate.Target) (matched bool, parsed predicate.Parsed, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched, parsed, err = false, predicate.Parsed{}, fmt.Errorf("router: predicate panicked: %v", r)
		}
	}()
	if sb, ok := p.(predicate.SchemaBacked); ok {
		return sb.EvalParsed(t)
	}
	ok, err := p.Eval(t)
	return ok, predicate.Parsed{}, err
}

// invoke delivers a matched record to h's callback, either immediately
// (single mode) or by buffering it in agg (batch mode), per §4.4 step 6.
func (sr *StreamRouter) invoke(_ context.Context, h *registry.Handler, rec *record.Record, target registry.ValidationTarget, parsed predicate.Parsed, rc *middleware.Ctx, agg *aggregator) error {
	newVal, oldVal := resolveValues(rec, target, parsed)

	if h.Mode == registry.ModeBatch {
		entry := registry.BatchEntry{Record: rec, Value: newVal, OldValue: oldVal}
		return agg.Append(h.ID, h.BatchKey(rec), entry, h.MaxBatchSize, func(handlerID, batchKey string, entries []registry.BatchEntry) error {
			return sr.invokeBatchCallback(h, entries)
		})
	}

	switch rec.OperationKind {
	case record.Modify:
		cb, ok := h.Callback.(registry.ModifyCallback)
		if !ok {
			return fmt.Errorf("router: handler %s: callback is not a ModifyCallback", h.ID)
		}
		return cb(newVal, oldVal, rec, rc)
	default:
		cb, ok := h.Callback.(registry.SingleCallback)
		if !ok {
			return fmt.Errorf("router: handler %s: callback is not a SingleCallback", h.ID)
		}
		return cb(newVal, rec, rc)
	}
}

func (sr *StreamRouter) invokeBatchCallback(h *registry.Handler, entries []registry.BatchEntry) error {
	cb, ok := h.Callback.(registry.BatchCallback)
	if !ok {
		return fmt.Errorf("router: handler %s: callback is not a BatchCallback", h.ID)
	}
	rc := middleware.New()
	return cb(entries, rc)
}

// resolveValues picks what a callback receives for the new/old arguments:
// the schema-parsed value when the predicate was schema-backed and
// produced one, otherwise the raw decoded image.
func resolveValues(rec *record.Record, target registry.ValidationTarget, parsed predicate.Parsed) (newVal, oldVal interface{}) {
	newVal = imageOrNil(rec.NewImage)
	oldVal = imageOrNil(rec.OldImage)
	if parsed.New != nil {
		newVal = parsed.New
	}
	if parsed.Old != nil {
		oldVal = parsed.Old
	}

	switch rec.OperationKind {
	case record.Insert:
		return newVal, nil
	case record.Remove, record.TTLRemove:
		return oldVal, nil
	default:
		return newVal, oldVal
	}
}

// imageOrNil returns t as an interface{}, or untyped nil when t is nil, so
// callbacks never receive a typed-nil *attr.Tree.
func imageOrNil(t *attr.Tree) interface{} {
	if t == nil {
		return nil
	}
	return t
}
