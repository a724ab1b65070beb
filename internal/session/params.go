package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidParams is returned for malformed extra parameters.
var ErrInvalidParams = errors.New("invalid extra params")

// ParseParams parses "key=value,other.key=value" into a parameters
// mapping. Dotted keys become nested mappings; "key:value" is accepted as
// well. Values are converted to int, float or bool when they parse as one.
func ParseParams(s string) (map[string]any, error) {
	out := make(map[string]any)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		sep := strings.IndexAny(item, "=:")
		if sep <= 0 {
			return nil, fmt.Errorf("%w: %q must be of the form key=value", ErrInvalidParams, item)
		}
		key := strings.TrimSpace(item[:sep])
		value := strings.TrimSpace(item[sep+1:])
		if err := setParam(out, strings.Split(key, "."), convertParam(value)); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, key, err)
		}
	}
	return out, nil
}

func setParam(m map[string]any, path []string, value any) error {
	for i, seg := range path {
		if seg == "" {
			return errors.New("empty key segment")
		}
		if i == len(path)-1 {
			m[seg] = value
			return nil
		}
		child, ok := m[seg].(map[string]any)
		if !ok {
			if _, set := m[seg]; set {
				return fmt.Errorf("%s is both a value and a mapping", seg)
			}
			child = make(map[string]any)
			m[seg] = child
		}
		m = child
	}
	return nil
}

func convertParam(v string) any {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}
