package attr

import "strconv"

// Tag classifies how a path differs between an old and a new tree.
type Tag int

const (
	// Unchanged is the implicit zero value for any path not present in
	// a Diff: present in both images with the same value, or absent
	// from both.
	Unchanged Tag = iota
	// Added means the path is present only in the new tree.
	Added
	// Changed means the path is present in both trees with a different
	// scalar or collection value.
	Changed
	// Cleared means the path was present in the old tree and is either
	// absent from the new tree or explicitly set to the null sentinel
	// there.
	Cleared
)

func (t Tag) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// rank orders tags from weakest to strongest for interior-path
// coarsening: added < changed < cleared, ties preferring changed.
func rank(t Tag) int {
	switch t {
	case Cleared:
		return 3
	case Changed:
		return 2
	case Added:
		return 1
	default:
		return 0
	}
}

func combine(a, b Tag) Tag {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Diff is a sparse map from dotted path (with bracketed list indices) to
// the tag of every path that is not Unchanged, including interior
// ancestors of any changed leaf.
type Diff map[string]Tag

// Get returns the tag recorded for path, defaulting to Unchanged.
func (d Diff) Get(path string) Tag {
	if t, ok := d[path]; ok {
		return t
	}
	return Unchanged
}

func (d Diff) set(path string, tag Tag) {
	if path == "" {
		return
	}
	if existing, ok := d[path]; ok {
		d[path] = combine(existing, tag)
		return
	}
	d[path] = tag
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func indexPath(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// Compute diffs oldImage against newImage and returns the sparse set of
// affected paths. Either image may be the zero Tree (Kind: KindNull is
// treated as "no attributes"); callers with no image at all (e.g. an
// INSERT's missing oldImage) should pass Map(nil).
func Compute(oldImage, newImage Tree) Diff {
	if oldImage.Kind == KindNull {
		oldImage = Map(nil)
	}
	if newImage.Kind == KindNull {
		newImage = Map(nil)
	}
	d := make(Diff)
	diffNode(d, "", &oldImage, &newImage)
	return d
}

func diffNode(d Diff, path string, oldT, newT *Tree) Tag {
	switch {
	case oldT == nil && newT == nil:
		return Unchanged
	case oldT == nil:
		d.set(path, Added)
		markSubtree(d, path, *newT, Added)
		return Added
	case newT == nil:
		d.set(path, Cleared)
		markSubtree(d, path, *oldT, Cleared)
		return Cleared
	}

	if newT.Kind == KindNull && oldT.Kind != KindNull {
		d.set(path, Cleared)
		return Cleared
	}
	if oldT.Kind == KindNull && newT.Kind == KindNull {
		return Unchanged
	}
	if oldT.Kind == KindNull {
		// old was null-sentinel, new carries a real value: treated as
		// an ordinary value change, not an add (the attribute existed).
		d.set(path, Changed)
		return Changed
	}

	if oldT.Kind == KindMap && newT.Kind == KindMap {
		return diffMap(d, path, oldT.Map, newT.Map)
	}
	if oldT.Kind == KindList && newT.Kind == KindList {
		return diffList(d, path, oldT.List, newT.List)
	}

	if Equal(*oldT, *newT) {
		return Unchanged
	}
	d.set(path, Changed)
	return Changed
}

func diffMap(d Diff, path string, oldM, newM map[string]Tree) Tag {
	agg := Unchanged
	seen := make(map[string]bool, len(oldM)+len(newM))
	for k := range oldM {
		seen[k] = true
	}
	for k := range newM {
		seen[k] = true
	}
	for k := range seen {
		childPath := joinPath(path, k)
		var oldPtr, newPtr *Tree
		if v, ok := oldM[k]; ok {
			oldPtr = &v
		}
		if v, ok := newM[k]; ok {
			newPtr = &v
		}
		tag := diffNode(d, childPath, oldPtr, newPtr)
		if tag != Unchanged {
			agg = combine(agg, tag)
		}
	}
	if agg != Unchanged {
		d.set(path, agg)
	}
	return agg
}

func diffList(d Diff, path string, oldL, newL []Tree) Tag {
	agg := Unchanged
	max := len(oldL)
	if len(newL) > max {
		max = len(newL)
	}
	for i := 0; i < max; i++ {
		childPath := indexPath(path, i)
		var oldPtr, newPtr *Tree
		if i < len(oldL) {
			oldPtr = &oldL[i]
		}
		if i < len(newL) {
			newPtr = &newL[i]
		}
		tag := diffNode(d, childPath, oldPtr, newPtr)
		if tag != Unchanged {
			agg = combine(agg, tag)
		}
	}
	if agg != Unchanged {
		d.set(path, agg)
	}
	return agg
}

// markSubtree recursively tags every descendant path of t with tag, so
// that an entirely added or cleared subtree reports every leaf as
// affected, matching the "affected paths" definition in the spec.
func markSubtree(d Diff, path string, t Tree, tag Tag) {
	switch t.Kind {
	case KindMap:
		for k, v := range t.Map {
			childPath := joinPath(path, k)
			d.set(childPath, tag)
			markSubtree(d, childPath, v, tag)
		}
	case KindList:
		for i, v := range t.List {
			childPath := indexPath(path, i)
			d.set(childPath, tag)
			markSubtree(d, childPath, v, tag)
		}
	}
}
