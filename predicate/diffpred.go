package predicate

import "github.com/rogerchi/ddb-stream-router-sub001/attr"

// ChangedAttribute succeeds iff the record-wide diff for path is exactly
// Changed. Nested paths use dotted form; sibling isolation is inherited
// from attr.Diff's interior-path coarsening (§4.2).
func ChangedAttribute(path string) Predicate {
	return Func(func(t Target) (bool, error) {
		return t.Diff.Get(path) == attr.Changed, nil
	})
}

// FieldCleared succeeds iff the diff for path is Cleared.
func FieldCleared(path string) Predicate {
	return Func(func(t Target) (bool, error) {
		return t.Diff.Get(path) == attr.Cleared, nil
	})
}

// AddedAttribute succeeds iff the diff for path is Added.
func AddedAttribute(path string) Predicate {
	return Func(func(t Target) (bool, error) {
		return t.Diff.Get(path) == attr.Added, nil
	})
}

// ChangeKind is the subset of attr.Tag a ChangeTypes predicate may test
// for; re-exported here so callers needn't import attr directly.
type ChangeKind = attr.Tag

const (
	KindAdded   = attr.Added
	KindChanged = attr.Changed
	KindCleared = attr.Cleared
)

// ChangeTypes succeeds iff the diff for path is any of kinds. Sugar over
// AnyOf for onChangeTypes registrations.
func ChangeTypes(path string, kinds ...ChangeKind) Predicate {
	return Func(func(t Target) (bool, error) {
		got := t.Diff.Get(path)
		for _, k := range kinds {
			if got == k {
				return true, nil
			}
		}
		return false, nil
	})
}
