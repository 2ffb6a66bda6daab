package registry

import (
	"fmt"
	"sync"

	"github.com/ettle/strcase"
	"github.com/google/uuid"
	"github.com/rogerchi/ddb-stream-router-sub001/predicate"
	"github.com/rogerchi/ddb-stream-router-sub001/record"
)

// Registry is typed storage for registered handlers. Registration is
// append-only and must complete before Process is called on the router
// that wraps it; the handler list is frozen (read-only) during dispatch
// (§3 "Lifecycle").
type Registry struct {
	mu                  sync.Mutex
	handlers            []*Handler
	defaultMaxBatchSize int
}

// NewRegistry builds a Registry whose batch handlers fall back to
// defaultMaxBatchSize when they don't set their own maxBatchSize (zero
// means unbounded, matching the zero value of a bare Registry{}).
func NewRegistry(defaultMaxBatchSize int) *Registry {
	return &Registry{defaultMaxBatchSize: defaultMaxBatchSize}
}

// Handlers returns a snapshot of the registered handlers, in registration
// order. The order is a stable internal tiebreak only and is not an
// externally observable dispatch guarantee (§4.4).
func (r *Registry) Handlers() []*Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

func kindSet(kinds []record.OperationKind) map[record.OperationKind]bool {
	out := make(map[record.OperationKind]bool, len(kinds))
	for _, k := range kinds {
		out[k] = true
	}
	return out
}

// register validates opts and cb, assigns a stable id, and appends the
// resulting Handler to the registry.
func (r *Registry) register(kinds []record.OperationKind, pred predicate.Predicate, cb interface{}, opts Options, isModify bool) (*Handler, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("registry: configuration error: operationKinds must be non-empty")
	}
	if opts.Batch && opts.MaxBatchSize == 0 {
		opts.MaxBatchSize = r.defaultMaxBatchSize
	}
	resolvedOpts, err := resolved(opts)
	if err != nil {
		return nil, err
	}

	mode := ModeSingle
	if resolvedOpts.Batch {
		mode = ModeBatch
	}

	if err := validateCallback(mode, isModify, cb); err != nil {
		return nil, err
	}

	if pred == nil {
		pred = predicate.Always()
	}

	slug := ""
	if resolvedOpts.Name != "" {
		slug = strcase.ToKebab(resolvedOpts.Name)
	}

	h := &Handler{
		ID:               uuid.NewString(),
		Slug:             slug,
		OperationKinds:   kindSet(kinds),
		Predicate:        pred,
		ValidationTarget: resolvedOpts.ValidationTarget,
		Middleware:       resolvedOpts.Use,
		Mode:             mode,
		BatchKey:         resolvedOpts.BatchKey,
		MaxBatchSize:     resolvedOpts.MaxBatchSize,
		ExcludeTTL:       resolvedOpts.ExcludeTTL,
		Deferred:         resolvedOpts.Deferred,
		Callback:         cb,
	}

	r.mu.Lock()
	r.handlers = append(r.handlers, h)
	r.mu.Unlock()
	return h, nil
}

func validateCallback(mode Mode, isModify bool, cb interface{}) error {
	if cb == nil {
		return fmt.Errorf("registry: configuration error: callback is required")
	}
	if mode == ModeBatch {
		if _, ok := cb.(BatchCallback); !ok {
			return fmt.Errorf("registry: configuration error: batch handlers require a BatchCallback")
		}
		return nil
	}
	if isModify {
		if _, ok := cb.(ModifyCallback); !ok {
			return fmt.Errorf("registry: configuration error: MODIFY handlers require a ModifyCallback")
		}
		return nil
	}
	if _, ok := cb.(SingleCallback); !ok {
		return fmt.Errorf("registry: configuration error: handler requires a SingleCallback")
	}
	return nil
}

// OnInsert registers cb for INSERT records. cb must be a SingleCallback,
// or a BatchCallback when opts.Batch is true.
func (r *Registry) OnInsert(pred predicate.Predicate, cb interface{}, opts Options) (*Handler, error) {
	return r.register([]record.OperationKind{record.Insert}, pred, cb, opts, false)
}

// OnModify registers cb for MODIFY records. cb must be a ModifyCallback,
// or a BatchCallback when opts.Batch is true.
func (r *Registry) OnModify(pred predicate.Predicate, cb interface{}, opts Options) (*Handler, error) {
	return r.register([]record.OperationKind{record.Modify}, pred, cb, opts, true)
}

// OnRemove registers cb for REMOVE records, and for TTL_REMOVE too unless
// opts.ExcludeTTL is set.
func (r *Registry) OnRemove(pred predicate.Predicate, cb interface{}, opts Options) (*Handler, error) {
	kinds := []record.OperationKind{record.Remove}
	if !opts.ExcludeTTL {
		kinds = append(kinds, record.TTLRemove)
	}
	return r.register(kinds, pred, cb, opts, false)
}

// OnTTLRemove registers cb for TTL_REMOVE records only.
func (r *Registry) OnTTLRemove(pred predicate.Predicate, cb interface{}, opts Options) (*Handler, error) {
	return r.register([]record.OperationKind{record.TTLRemove}, pred, cb, opts, false)
}

// OnChange is sugar over OnModify with a changed_attribute(path)
// predicate.
func (r *Registry) OnChange(path string, cb interface{}, opts Options) (*Handler, error) {
	return r.OnModify(predicate.ChangedAttribute(path), cb, opts)
}

// OnFieldCleared is sugar over OnModify with a field_cleared(path)
// predicate.
func (r *Registry) OnFieldCleared(path string, cb interface{}, opts Options) (*Handler, error) {
	return r.OnModify(predicate.FieldCleared(path), cb, opts)
}

// OnChangeTypes is sugar over OnModify with an any_of combinator across
// the given change kinds at path.
func (r *Registry) OnChangeTypes(path string, kinds []predicate.ChangeKind, cb interface{}, opts Options) (*Handler, error) {
	return r.OnModify(predicate.ChangeTypes(path, kinds...), cb, opts)
}
