package config

import (
	"fmt"
	"os"
	"strings"
)

// envPrefix marks a config string as a reference to an environment variable.
const envPrefix = "$"

// ParseConfigValue substitutes environment variable references. A string
// starting with "$" is replaced by the value of the named variable, or the
// empty string if it is unset. Lists are resolved element by element; all
// other values are returned unchanged.
func ParseConfigValue(value any) any {
	switch v := value.(type) {
	case string:
		return extractEnvVariable(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ParseConfigValue(item)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = extractEnvVariable(item)
		}
		return out
	default:
		return value
	}
}

func extractEnvVariable(value string) string {
	if !strings.HasPrefix(value, envPrefix) {
		return value
	}
	return os.Getenv(strings.TrimPrefix(value, envPrefix))
}

// EnsureBool coerces a config value to a boolean. The strings "false", "no"
// and "0" (case-insensitive, surrounding whitespace ignored) are false; any
// other string is true. Booleans pass through and anything else, including
// nil, is true.
func EnsureBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "false", "no", "0":
			return false
		}
		return true
	default:
		return true
	}
}

// stringValue renders a resolved scalar as a string. Nil becomes "".
func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// stringList normalises a resolved value into a list of strings. A single
// string becomes a one-element list.
func stringList(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := stringValue(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{stringValue(v)}
	}
}
