package render

import (
	"encoding/json"
	"strconv"
)

// idKeys are the response keys backends have been observed to use
// for the execution identifier, in priority order.
var idKeys = []string{"prompt_id", "execution_id", "id", "execution", "task_id", "job_id"}

// extractStrategy attempts to pull an execution id out of a decoded
// response body. Strategies are pure and applied in order; the first
// non-empty match wins.
type extractStrategy func(body map[string]any) (string, bool)

var extractStrategies = []extractStrategy{
	extractTopLevel,
	extractNestedData,
}

// ExtractExecutionID finds the execution identifier in a submit
// response body, tolerating the known shapes: a top-level key, the
// same keys nested under "data", and alternate key names. Returns
// false when no strategy matches.
func ExtractExecutionID(raw []byte) (string, bool) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}

	for _, strategy := range extractStrategies {
		if id, ok := strategy(body); ok {
			return id, true
		}
	}
	return "", false
}

func extractTopLevel(body map[string]any) (string, bool) {
	for _, key := range idKeys {
		if id, ok := stringValue(body[key]); ok {
			return id, true
		}
	}
	return "", false
}

func extractNestedData(body map[string]any) (string, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return "", false
	}
	return extractTopLevel(data)
}

// stringValue accepts string ids and numeric ids (some backends
// return the id as a JSON number).
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, true
		}
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}
