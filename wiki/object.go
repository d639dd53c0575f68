package wiki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Object is a decoded JSON object returned by the API.
//
// Numbers are kept as json.Number so page and revision ids survive decoding
// exactly. The accessor methods give member-style lookups
// (resp.Obj("query").Array("pages")) without changing the underlying map.
type Object map[string]any

// decodeObject parses a response body into an Object.
func decodeObject(body []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return obj, nil
}

// asObject reports whether v is a JSON object in either of its decoded forms.
func asObject(v any) (Object, bool) {
	switch m := v.(type) {
	case Object:
		return m, true
	case map[string]any:
		return Object(m), true
	default:
		return nil, false
	}
}

// Has reports whether key is present, even with a null value.
func (o Object) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Get walks path through nested objects.
func (o Object) Get(path ...string) (any, bool) {
	var cur any = o
	for _, key := range path {
		obj, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Obj returns the object at path, or nil.
func (o Object) Obj(path ...string) Object {
	v, _ := o.Get(path...)
	obj, _ := asObject(v)
	return obj
}

// Array returns the array at path, or nil.
func (o Object) Array(path ...string) []any {
	v, _ := o.Get(path...)
	arr, _ := v.([]any)
	return arr
}

// Objects returns the objects held in the array at path, skipping other values.
func (o Object) Objects(path ...string) []Object {
	arr := o.Array(path...)
	out := make([]Object, 0, len(arr))
	for _, v := range arr {
		if obj, ok := asObject(v); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Str returns the string at path. Numbers are rendered in their literal form.
func (o Object) Str(path ...string) string {
	v, _ := o.Get(path...)
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

// Int returns the integer at path.
func (o Object) Int(path ...string) (int64, bool) {
	v, ok := o.Get(path...)
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// Bool returns the boolean at path. Formatversion 1 style empty-string flags count as true.
func (o Object) Bool(path ...string) bool {
	v, ok := o.Get(path...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return true
	default:
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
