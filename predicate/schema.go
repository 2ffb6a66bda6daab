package predicate

import (
	"encoding/json"
	"fmt"

	"github.com/blang/semver/v4"
	"github.com/rogerchi/ddb-stream-router-sub001/attr"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaBacked is implemented by predicates that, on a successful match,
// also produce a parsed value to be delivered to the handler callback in
// place of the raw image (§4.2, §4.4 step 4).
type SchemaBacked interface {
	Predicate
	EvalParsed(Target) (bool, Parsed, error)
}

// Schema is the minimal capability the engine needs from a schema
// library: parse(value) -> {ok, parsed} | {ok:false}, as described in
// §9's design note. It deliberately does not depend on any one schema
// library's API; Compile below adapts github.com/xeipuuv/gojsonschema to
// it, but a caller may supply any implementation.
type Schema interface {
	// Parse validates value (a plain Go value, typically produced by
	// treeToAny) against the schema. ok is false if validation fails;
	// parsed is the (possibly normalized) value on success.
	Parse(value interface{}) (parsed interface{}, ok bool, err error)
}

// jsonSchema adapts a compiled gojsonschema.Schema to the Schema
// interface.
type jsonSchema struct {
	compiled *gojsonschema.Schema
}

// Compile compiles a JSON Schema document (as a Go value, e.g. unmarshaled
// from JSON/YAML) into a Schema.
func Compile(schemaDoc interface{}) (Schema, error) {
	loader := gojsonschema.NewGoLoader(schemaDoc)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("predicate: compile schema: %w", err)
	}
	return &jsonSchema{compiled: compiled}, nil
}

func (s *jsonSchema) Parse(value interface{}) (interface{}, bool, error) {
	result, err := s.compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, false, err
	}
	if !result.Valid() {
		return nil, false, nil
	}
	return value, true, nil
}

// MinVersion pairs a Schema with a minimum semver; Satisfies reports
// whether a reported schema version meets it. Nothing in registration
// checks it: registry.Options has no schema-version field, and
// SchemaMatch on a MinVersion validates exactly as the embedded Schema
// does.
type MinVersion struct {
	Schema
	Version semver.Version
}

// Satisfies reports whether reported (e.g. a schema registry's reported
// version) is >= the minimum required version.
func (m MinVersion) Satisfies(reported semver.Version) bool {
	return reported.GE(m.Version)
}

type schemaPredicate struct {
	schema Schema
}

// SchemaMatch builds a SchemaBacked predicate: it succeeds iff the
// decoded tree conforms to schema. On success the handler receives
// schema.Parse's return value instead of the raw tree (§4.2).
func SchemaMatch(schema Schema) SchemaBacked {
	return &schemaPredicate{schema: schema}
}

func (p *schemaPredicate) Eval(t Target) (bool, error) {
	ok, _, err := p.eval(t)
	return ok, err
}

func (p *schemaPredicate) EvalParsed(t Target) (bool, Parsed, error) {
	ok, parsed, err := p.eval(t)
	return ok, parsed, err
}

func (p *schemaPredicate) eval(t Target) (bool, Parsed, error) {
	var parsed Parsed
	matched := true

	if t.Old != nil {
		v := treeToAny(*t.Old)
		out, ok, err := p.schema.Parse(v)
		if err != nil {
			return false, Parsed{}, err
		}
		if !ok {
			matched = false
		}
		parsed.Old = out
	}
	if t.New != nil {
		v := treeToAny(*t.New)
		out, ok, err := p.schema.Parse(v)
		if err != nil {
			return false, Parsed{}, err
		}
		if !ok {
			matched = false
		}
		parsed.New = out
	}
	if t.Old == nil && t.New == nil {
		matched = false
	}
	return matched, parsed, nil
}

// treeToAny renders an attr.Tree into a plain Go value suitable for
// gojsonschema validation (map[string]interface{}, []interface{}, and
// scalars) by walking the tree recursively; sets become lists, binary
// values become strings.
func treeToAny(t attr.Tree) interface{} {
	switch t.Kind {
	case attr.KindNull:
		return nil
	case attr.KindString:
		return t.Str
	case attr.KindNumber:
		if t.NumStr != "" {
			var f float64
			if err := json.Unmarshal([]byte(t.NumStr), &f); err == nil {
				return f
			}
			return t.NumStr
		}
		return t.Num
	case attr.KindBool:
		return t.Bool
	case attr.KindBinary:
		return string(t.Bin)
	case attr.KindList:
		out := make([]interface{}, len(t.List))
		for i, v := range t.List {
			out[i] = treeToAny(v)
		}
		return out
	case attr.KindMap:
		out := make(map[string]interface{}, len(t.Map))
		for k, v := range t.Map {
			out[k] = treeToAny(v)
		}
		return out
	case attr.KindSet:
		out := make([]interface{}, len(t.Set))
		for i, v := range t.Set {
			out[i] = treeToAny(v)
		}
		return out
	default:
		return nil
	}
}
