package util

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// ExtractFloat evaluates path against decoded JSON and converts the first
// match to a float. Paths without a leading "$" are taken from the root.
func ExtractFloat(data any, path string) (float64, error) {
	if !strings.HasPrefix(path, "$") {
		path = "$." + strings.TrimPrefix(path, ".")
	}
	value, err := jsonpath.Get(path, data)
	if err != nil {
		return 0, fmt.Errorf("json path %s: %w", path, err)
	}
	if values, ok := value.([]any); ok {
		if len(values) == 0 {
			return 0, fmt.Errorf("json path %s: no match", path)
		}
		value = values[0]
	}
	return toFloat(value)
}

// ParseFloatPayload reads a plain number, or a JSON document when path is set.
func ParseFloatPayload(payload []byte, path string) (float64, error) {
	if path == "" {
		return strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return 0, err
	}
	return ExtractFloat(data, path)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("value %v (%T) is not a number", value, value)
}
