// Package predicate implements the predicate library used to select
// which records a handler matches: type guards, diff-kind predicates over
// nested paths, schema validators, and boolean combinators.
package predicate

import (
	"github.com/rogerchi/ddb-stream-router-sub001/attr"
)

// Target is the resolved image(s) a predicate is evaluated against. For
// validationTarget "both" both Old and New are set; otherwise exactly one
// of them carries the chosen image.
type Target struct {
	Old *attr.Tree
	New *attr.Tree
	// Diff is the record-wide diff, always available regardless of
	// validationTarget, since changed_attribute/field_cleared/
	// added_attribute predicates use the diff rather than an image.
	Diff attr.Diff
}

// Image returns whichever of Old/New is set, preferring New. Used by
// predicates that only care about "the chosen image" rather than the
// distinction between old and new.
func (t Target) Image() *attr.Tree {
	if t.New != nil {
		return t.New
	}
	return t.Old
}

// Parsed carries a schema-validated value alongside the raw image it
// replaces for delivery to the handler callback, per §4.2's schema()
// predicate.
type Parsed struct {
	Old interface{}
	New interface{}
}

// Predicate is a pure function over a Target. Implementations must not
// mutate Target or panic on a well-formed Target; a panic or error from a
// Predicate is caught by the dispatch core and treated as "false" (§7).
type Predicate interface {
	Eval(Target) (bool, error)
}

// Func adapts a plain function to the Predicate interface.
type Func func(Target) (bool, error)

// Eval implements Predicate.
func (f Func) Eval(t Target) (bool, error) { return f(t) }

// TypeGuard applies a user-supplied structural predicate to the image.
// It is the escape hatch for arbitrary Go-level checks the rest of the
// library doesn't model, mirroring the teacher's pattern of plugging a
// caller-supplied function into a fixed dispatch shape (pkg/crud.Actions).
//
// When validationTarget is "both", Old and New are each checked against
// guard independently and must both pass, the same "both images must
// individually satisfy" rule schemaPredicate.eval applies to schema().
func TypeGuard(guard func(*attr.Tree) bool) Predicate {
	return Func(func(t Target) (bool, error) {
		if t.Old == nil && t.New == nil {
			return false, nil
		}
		if t.Old != nil && !guard(t.Old) {
			return false, nil
		}
		if t.New != nil && !guard(t.New) {
			return false, nil
		}
		return true, nil
	})
}

// AnyOf succeeds iff at least one child predicate succeeds, evaluated in
// order with short-circuit.
func AnyOf(preds ...Predicate) Predicate {
	return Func(func(t Target) (bool, error) {
		for _, p := range preds {
			ok, err := p.Eval(t)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	})
}

// AllOf succeeds iff every child predicate succeeds, evaluated in order
// with short-circuit.
func AllOf(preds ...Predicate) Predicate {
	return Func(func(t Target) (bool, error) {
		for _, p := range preds {
			ok, err := p.Eval(t)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// Always is a predicate that matches every record; the default when a
// handler registers no predicate.
func Always() Predicate {
	return Func(func(Target) (bool, error) { return true, nil })
}
