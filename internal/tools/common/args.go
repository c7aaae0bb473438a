package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// StringArg returns args[key] as a string, or defaultValue when it is
// missing or empty.
func StringArg(args map[string]any, key, defaultValue string) (string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return defaultValue, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if s == "" {
		return defaultValue, nil
	}
	return s, nil
}

// BoolArg returns args[key] as a bool, or defaultValue when it is missing.
// The strings "true" and "false" are accepted as well.
func BoolArg(args map[string]any, key string, defaultValue bool) (bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return defaultValue, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean", key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%s must be a boolean", key)
	}
}

// IntArg returns args[key] as an int. ok is false when the argument is
// missing. JSON numbers arrive as float64; integral values and numeric
// strings are accepted.
func IntArg(args map[string]any, key string) (value int, ok bool, err error) {
	raw, present := args[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, true, fmt.Errorf("%s must be an integer", key)
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("%s must be an integer", key)
	}
}
