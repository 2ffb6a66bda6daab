// Package attr decodes wire-format attribute maps into a canonical value
// tree and diffs two such trees path by path.
package attr

import (
	"fmt"
	"sort"
	"strconv"
)

// Kind discriminates the variants of Tree.
type Kind int

const (
	// KindNull is an explicit null-sentinel value, distinct from absence.
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindBinary
	KindList
	KindMap
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindBinary:
		return "binary"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// Tree is the canonical decoded form of a wire attribute value. Exactly
// one of the fields below is meaningful, selected by Kind.
type Tree struct {
	Kind Kind

	Str    string
	Num    float64
	NumStr string // original wire string, preserved when not losslessly numeric
	Bool   bool
	Bin    []byte

	List []Tree
	Map  map[string]Tree
	Set  []Tree
}

// Null returns the null-sentinel value.
func Null() Tree { return Tree{Kind: KindNull} }

// String returns a scalar string value.
func String(s string) Tree { return Tree{Kind: KindString, Str: s} }

// Number returns a scalar numeric value that round-trips through the
// decoder without loss. Use NumberString for values that should stay
// strings (e.g. lose precision as a float64).
func Number(n float64) Tree { return Tree{Kind: KindNumber, Num: n} }

// NumberString returns a numeric value that is preserved as its original
// wire string because converting it to float64 would be lossy.
func NumberString(s string) Tree { return Tree{Kind: KindNumber, NumStr: s} }

// Bool returns a scalar boolean value.
func Bool(b bool) Tree { return Tree{Kind: KindBool, Bool: b} }

// Binary returns a scalar binary value.
func Binary(b []byte) Tree { return Tree{Kind: KindBinary, Bin: b} }

// List returns an ordered list of values.
func List(items ...Tree) Tree { return Tree{Kind: KindList, List: items} }

// Map returns a map of string to value.
func Map(m map[string]Tree) Tree { return Tree{Kind: KindMap, Map: m} }

// Set returns an unordered bag of scalars. Equality is by multiset.
func Set(items ...Tree) Tree { return Tree{Kind: KindSet, Set: items} }

// IsNull reports whether t is the null sentinel.
func (t Tree) IsNull() bool { return t.Kind == KindNull }

// NumberValue renders the numeric scalar as a string for comparison and
// reporting purposes, preferring the preserved wire string when present.
func (t Tree) NumberValue() string {
	if t.Kind != KindNumber {
		return ""
	}
	if t.NumStr != "" {
		return t.NumStr
	}
	return strconv.FormatFloat(t.Num, 'g', -1, 64)
}

// Equal reports whether two trees are structurally equal. Set equality is
// by multiset (order-independent, duplicate-counted).
func Equal(a, b Tree) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindString:
		return a.Str == b.Str
	case KindNumber:
		return a.NumberValue() == b.NumberValue()
	case KindBool:
		return a.Bool == b.Bool
	case KindBinary:
		return string(a.Bin) == string(b.Bin)
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Map) != len(b.Map) {
			return false
		}
		for k, av := range a.Map {
			bv, ok := b.Map[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case KindSet:
		return setEqual(a.Set, b.Set)
	default:
		return false
	}
}

func setEqual(a, b []Tree) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, av := range a {
		found := false
		for j, bv := range b {
			if used[j] {
				continue
			}
			if Equal(av, bv) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortedMapKeys returns m's keys sorted, for deterministic traversal.
func sortedMapKeys(m map[string]Tree) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t Tree) String() string {
	switch t.Kind {
	case KindNull:
		return "null"
	case KindString:
		return t.Str
	case KindNumber:
		return t.NumberValue()
	case KindBool:
		return strconv.FormatBool(t.Bool)
	case KindBinary:
		return fmt.Sprintf("<%d bytes>", len(t.Bin))
	case KindList:
		return fmt.Sprintf("<list len=%d>", len(t.List))
	case KindMap:
		return fmt.Sprintf("<map len=%d>", len(t.Map))
	case KindSet:
		return fmt.Sprintf("<set len=%d>", len(t.Set))
	default:
		return "<unknown>"
	}
}
