package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"
)

// Kind is the stored type of a field.
type Kind string

const (
	KindString     Kind = "string"
	KindInt        Kind = "int"
	KindFloat      Kind = "float"
	KindBool       Kind = "bool"
	KindStringList Kind = "string_list"
	KindDatetime   Kind = "datetime"
)

// ErrUnsupportedType is returned when assigning a value the store cannot
// represent. Wrap such values with StringifyUnsupported first.
type ErrUnsupportedType struct {
	Path string
	Type reflect.Type
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported value type %v at %q", e.Type, e.Path)
}

// flatten expands value into leaf fields under path. Maps become
// namespaces; everything else must be an atom.
func flatten(path string, value any) ([]Field, error) {
	if m, ok := asStringMap(value); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var fields []Field
		for _, k := range keys {
			sub, err := flatten(joinPath(path, k), m[k])
			if err != nil {
				return nil, err
			}
			fields = append(fields, sub...)
		}
		return fields, nil
	}

	kind, data, err := encodeValue(value)
	if err != nil {
		return nil, &ErrUnsupportedType{Path: path, Type: reflect.TypeOf(value)}
	}
	return []Field{{Path: path, Kind: kind, Data: data}}, nil
}

func encodeValue(value any) (Kind, []byte, error) {
	var kind Kind
	var v any = value

	switch x := value.(type) {
	case string:
		kind = KindString
	case bool:
		kind = KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		kind = KindInt
	case uint64:
		if x > math.MaxInt64 {
			return "", nil, fmt.Errorf("integer %d out of range", x)
		}
		kind = KindInt
		v = int64(x)
	case float32:
		kind = KindFloat
		v = float64(x)
	case float64:
		kind = KindFloat
	case []string:
		kind = KindStringList
		if x == nil {
			v = []string{}
		}
	case time.Time:
		kind = KindDatetime
		v = x.UTC().Format(time.RFC3339Nano)
	default:
		return "", nil, fmt.Errorf("unsupported type %T", value)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return kind, data, nil
}

func decodeValue(kind Kind, data []byte) (any, error) {
	switch kind {
	case KindString:
		var s string
		err := json.Unmarshal(data, &s)
		return s, err
	case KindBool:
		var b bool
		err := json.Unmarshal(data, &b)
		return b, err
	case KindInt:
		var i int64
		err := json.Unmarshal(data, &i)
		return i, err
	case KindFloat:
		var f float64
		err := json.Unmarshal(data, &f)
		return f, err
	case KindStringList:
		var l []string
		err := json.Unmarshal(data, &l)
		return l, err
	case KindDatetime:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	default:
		return nil, fmt.Errorf("unknown field kind %q", kind)
	}
}

// StringifyUnsupported converts every value the store cannot hold into its
// string form, recursing into maps. Nil becomes "null".
func StringifyUnsupported(value any) any {
	if m, ok := asStringMap(value); ok {
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = StringifyUnsupported(v)
		}
		return out
	}
	if value == nil {
		return "null"
	}
	if _, _, err := encodeValue(value); err == nil {
		return value
	}
	return stringify(value)
}

func stringify(value any) string {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if data, err := json.Marshal(value); err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(value)
}

// asStringMap reports whether value is a map keyed by strings and returns
// it as map[string]any.
func asStringMap(value any) (map[string]any, bool) {
	switch m := value.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
