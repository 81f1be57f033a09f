package datastore

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/i5heu/ouroboros-graph/pkg/types"
)

// Field names of the persisted anchor document.
const (
	FieldID           = "_id"
	FieldName         = "name"
	FieldRoot         = "root"
	FieldAccess       = "access"
	FieldArchitype    = "architype"
	FieldEdges        = "edges"
	FieldSource       = "source"
	FieldTarget       = "target"
	FieldIsUndirected = "is_undirected"
)

// Document is a schemaless stored record. Values are restricted to nil, bool,
// numbers, strings, []any and map[string]any after Normalize.
type Document map[string]any

// ID parses the document's _id field.
func (d Document) ID() (types.ID, error) {
	s, ok := d[FieldID].(string)
	if !ok {
		return types.ID{}, fmt.Errorf("document has no string %s", FieldID)
	}
	return types.IDFromHex(s)
}

func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

func (d Document) Map(field string) map[string]any {
	m, _ := d[field].(map[string]any)
	return m
}

func (d Document) Strings(field string) []string {
	raw, _ := d[field].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clone deep copies the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(deepCopy(map[string]any(d)).(map[string]any))
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, val := range t {
			c[k] = deepCopy(val)
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i, val := range t {
			c[i] = deepCopy(val)
		}
		return c
	}
	return v
}

// Normalize converts arbitrary Go values into the restricted document value
// set: typed slices become []any, string keyed maps become map[string]any,
// pointers are dereferenced and integer kinds widen to int64.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case string, bool, int64, float64:
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := Normalize(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			n, err := Normalize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

// lookupParent walks to the map holding the last path segment, creating
// intermediate maps when create is set.
func lookupParent(doc map[string]any, path string, create bool) (map[string]any, string, error) {
	parts := splitPath(path)
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil {
			if !create {
				return nil, "", nil
			}
			m := map[string]any{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("path %q crosses non-object field %q", path, p)
		}
		cur = m
	}
	return cur, parts[len(parts)-1], nil
}

// GetPath returns the value at a dotted path.
func (d Document) GetPath(path string) (any, bool) {
	parent, key, err := lookupParent(d, path, false)
	if err != nil || parent == nil {
		return nil, false
	}
	v, ok := parent[key]
	return v, ok
}

// SetPath assigns a value at a dotted path, creating parents.
func (d Document) SetPath(path string, value any) error {
	parent, key, err := lookupParent(d, path, true)
	if err != nil {
		return err
	}
	parent[key] = value
	return nil
}

// UnsetPath removes the value at a dotted path if present.
func (d Document) UnsetPath(path string) error {
	parent, key, err := lookupParent(d, path, false)
	if err != nil || parent == nil {
		return err
	}
	delete(parent, key)
	return nil
}
