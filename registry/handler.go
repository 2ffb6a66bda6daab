// Package registry holds the typed storage of registered handlers: their
// predicates, options, middleware, and callbacks, keyed by operation kind
// (§4.4).
package registry

import (
	"github.com/rogerchi/ddb-stream-router-sub001/middleware"
	"github.com/rogerchi/ddb-stream-router-sub001/predicate"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
)

// ValidationTarget selects which image(s) a MODIFY handler's predicate is
// evaluated against. INSERT is always newImage and REMOVE/TTL_REMOVE are
// always oldImage regardless of this setting (§4.4 step 2).
type ValidationTarget string

const (
	TargetNewImage ValidationTarget = "newImage"
	TargetOldImage ValidationTarget = "oldImage"
	TargetBoth     ValidationTarget = "both"
)

// Mode selects single-record versus batch dispatch for a handler.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeBatch  Mode = "batch"
)

// SingleCallback is the callback shape for single-record INSERT, REMOVE,
// and TTL_REMOVE handlers: (image, record, context).
type SingleCallback func(image interface{}, rec *record.Record, ctx *middleware.Ctx) error

// ModifyCallback is the callback shape for single-record MODIFY handlers:
// (newImage|parsed, oldImage|parsed, record, context). Both arguments are
// always populated for MODIFY regardless of validationTarget, which only
// governs which image(s) the predicate is evaluated against.
type ModifyCallback func(newValue, oldValue interface{}, rec *record.Record, ctx *middleware.Ctx) error

// BatchEntry is one accumulated (record, parsed-or-raw-value) pair
// delivered to a batch callback, in arrival order (§4.5).
type BatchEntry struct {
	Record *record.Record
	Value  interface{}
	// OldValue is populated for MODIFY batch handlers the same way
	// ModifyCallback's second argument is for single-record MODIFY.
	OldValue interface{}
}

// BatchCallback is the callback shape for batch-mode handlers:
// (entries, context).
type BatchCallback func(entries []BatchEntry, ctx *middleware.Ctx) error

// Handler is one registered routing entry (§3 "Handler").
type Handler struct {
	ID               string
	Slug             string
	OperationKinds   map[record.OperationKind]bool
	Predicate        predicate.Predicate
	ValidationTarget ValidationTarget
	Middleware       middleware.Chain
	Mode             Mode

	BatchKey     func(rec *record.Record) string
	MaxBatchSize int

	ExcludeTTL bool
	Deferred   bool

	// Callback holds a SingleCallback, ModifyCallback, or BatchCallback
	// depending on Mode and OperationKinds; the dispatch core type
	// switches on it.
	Callback interface{}
}

// Matches reports whether kind is one of this handler's operation kinds.
func (h *Handler) Matches(kind record.OperationKind) bool {
	return h.OperationKinds[kind]
}

// resolveTarget returns which image(s) this handler's predicate is
// evaluated against for a record of the given kind, per §4.4 step 2.
func (h *Handler) resolveTarget(kind record.OperationKind) ValidationTarget {
	switch kind {
	case record.Insert:
		return TargetNewImage
	case record.Remove, record.TTLRemove:
		return TargetOldImage
	case record.Modify:
		if h.ValidationTarget == "" {
			return TargetNewImage
		}
		return h.ValidationTarget
	default:
		return TargetNewImage
	}
}
