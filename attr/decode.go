package attr

import (
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
)

// DecodeError reports a single attribute value that could not be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("attr: decode %q: %v", e.Path, e.Err)
}

// DecodeMap decodes an already-unmarshaled wire attribute map (the shape
// produced by encoding/json.Unmarshal of a DynamoDB-stream image, where
// every leaf is a single-key map such as {"S": "foo"}) into a canonical
// Tree of kind Map.
func DecodeMap(raw map[string]interface{}) (Tree, error) {
	out := make(map[string]Tree, len(raw))
	for k, v := range raw {
		t, err := decodeValue(v)
		if err != nil {
			return Tree{}, &DecodeError{Path: k, Err: err}
		}
		out[k] = t
	}
	return Map(out), nil
}

func decodeValue(v interface{}) (Tree, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return Tree{}, fmt.Errorf("attribute value is not a tagged object: %T", v)
	}
	for tag, raw := range m {
		switch tag {
		case "NULL":
			return Null(), nil
		case "S":
			s, _ := raw.(string)
			return String(s), nil
		case "N":
			s, _ := raw.(string)
			return decodeNumberString(s), nil
		case "BOOL":
			b, _ := raw.(bool)
			return Bool(b), nil
		case "B":
			s, _ := raw.(string)
			return Binary([]byte(s)), nil
		case "L":
			list, _ := raw.([]interface{})
			items := make([]Tree, 0, len(list))
			for i, item := range list {
				t, err := decodeValue(item)
				if err != nil {
					return Tree{}, &DecodeError{Path: strconv.Itoa(i), Err: err}
				}
				items = append(items, t)
			}
			return List(items...), nil
		case "M":
			nested, _ := raw.(map[string]interface{})
			t, err := DecodeMap(nested)
			if err != nil {
				return Tree{}, err
			}
			return t, nil
		case "SS":
			items, _ := raw.([]interface{})
			set := make([]Tree, 0, len(items))
			for _, item := range items {
				s, _ := item.(string)
				set = append(set, String(s))
			}
			return Set(set...), nil
		case "NS":
			items, _ := raw.([]interface{})
			set := make([]Tree, 0, len(items))
			for _, item := range items {
				s, _ := item.(string)
				set = append(set, decodeNumberString(s))
			}
			return Set(set...), nil
		case "BS":
			items, _ := raw.([]interface{})
			set := make([]Tree, 0, len(items))
			for _, item := range items {
				s, _ := item.(string)
				set = append(set, Binary([]byte(s)))
			}
			return Set(set...), nil
		default:
			return Tree{}, fmt.Errorf("unknown attribute tag %q", tag)
		}
	}
	return Tree{}, fmt.Errorf("empty attribute value object")
}

// decodeNumberString coerces a wire numeric string to a native float64
// when the conversion is lossless (round-trips back to the same string
// via strconv), and otherwise preserves it as a string so that callers
// never silently lose precision on large integers or high-precision
// decimals, per the codec's canonicalization invariant.
func decodeNumberString(s string) Tree {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NumberString(s)
	}
	if strconv.FormatFloat(f, 'g', -1, 64) != s {
		return NumberString(s)
	}
	return Number(f)
}

// DecodeRawJSON decodes a wire attribute map directly from raw JSON bytes
// using gjson, without an intermediate map[string]interface{} allocation.
// This is the path used for the Lambda stream-event payload, where the
// batch arrives as one large JSON document and a full unmarshal into
// generic interfaces would be wasteful for images the engine never reads.
func DecodeRawJSON(data []byte) (Tree, error) {
	return decodeGJSON(gjson.ParseBytes(data))
}

func decodeGJSON(v gjson.Result) (Tree, error) {
	if !v.IsObject() {
		return Tree{}, fmt.Errorf("attribute value is not an object")
	}
	var (
		result Tree
		err    error
		found  bool
	)
	v.ForEach(func(key, val gjson.Result) bool {
		found = true
		switch key.Str {
		case "NULL":
			result = Null()
		case "S":
			result = String(val.String())
		case "N":
			result = decodeNumberString(val.String())
		case "BOOL":
			result = Bool(val.Bool())
		case "B":
			result = Binary([]byte(val.String()))
		case "L":
			var items []Tree
			val.ForEach(func(_, item gjson.Result) bool {
				t, e := decodeGJSON(item)
				if e != nil {
					err = e
					return false
				}
				items = append(items, t)
				return true
			})
			result = List(items...)
		case "M":
			out := make(map[string]Tree)
			val.ForEach(func(mk, mv gjson.Result) bool {
				t, e := decodeGJSON(mv)
				if e != nil {
					err = &DecodeError{Path: mk.Str, Err: e}
					return false
				}
				out[mk.Str] = t
				return true
			})
			result = Map(out)
		case "SS":
			var set []Tree
			val.ForEach(func(_, item gjson.Result) bool {
				set = append(set, String(item.String()))
				return true
			})
			result = Set(set...)
		case "NS":
			var set []Tree
			val.ForEach(func(_, item gjson.Result) bool {
				set = append(set, decodeNumberString(item.String()))
				return true
			})
			result = Set(set...)
		case "BS":
			var set []Tree
			val.ForEach(func(_, item gjson.Result) bool {
				set = append(set, Binary([]byte(item.String())))
				return true
			})
			result = Set(set...)
		default:
			err = fmt.Errorf("unknown attribute tag %q", key.Str)
		}
		return err == nil
	})
	if err != nil {
		return Tree{}, err
	}
	if !found {
		return Tree{}, fmt.Errorf("empty attribute value object")
	}
	return result, nil
}

// DecodeImageRawJSON decodes a whole image (a JSON object of attribute
// name to tagged wire value) from raw JSON, keyed by attribute name, using
// gjson for the top-level walk and DecodeRawJSON-style tagging for leaves.
func DecodeImageRawJSON(data []byte) (Tree, error) {
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Tree{}, fmt.Errorf("image is not an object")
	}
	out := make(map[string]Tree)
	var err error
	root.ForEach(func(k, v gjson.Result) bool {
		t, e := decodeGJSON(v)
		if e != nil {
			err = &DecodeError{Path: k.Str, Err: e}
			return false
		}
		out[k.Str] = t
		return true
	})
	if err != nil {
		return Tree{}, err
	}
	return Map(out), nil
}
