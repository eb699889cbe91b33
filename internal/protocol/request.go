package protocol

import "encoding/json"

// Requests are handled as raw maps until the validation chain has passed, so
// that malformed fields (a numeric platform, a missing verb) produce the
// chain's error frames instead of unmarshal failures, and so that fields the
// dispatcher does not know about survive the round trip to the listener.

// ParseBatch parses an inbound text frame into an ordered batch of requests.
// A JSON array whose first element is an object is treated as the batch;
// anything else is wrapped as a singleton.
func ParseBatch(data []byte) ([]any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if arr, ok := v.([]any); ok && len(arr) > 0 {
		if _, ok := arr[0].(map[string]any); ok {
			return arr, nil
		}
	}
	return []any{v}, nil
}

// RequestID extracts the rid. The second return is false unless the rid is a
// string or a number.
func RequestID(req map[string]any) (any, bool) {
	switch rid := req["rid"].(type) {
	case string:
		return rid, true
	case float64:
		return rid, true
	case json.Number:
		return rid, true
	default:
		return nil, false
	}
}

// StringField returns the named field if present as a string.
func StringField(req map[string]any, key string) (string, bool) {
	s, ok := req[key].(string)
	return s, ok
}

// NormalizeTarget rewrites the request's target to an ordered sequence:
// absent becomes empty, a single object becomes a one-element sequence, and a
// sequence is kept as-is. The normalized value is returned.
func NormalizeTarget(req map[string]any) []any {
	switch t := req["target"].(type) {
	case nil:
		target := []any{}
		req["target"] = target
		return target
	case []any:
		return t
	default:
		target := []any{t}
		req["target"] = target
		return target
	}
}

// NormalizeObject replaces a missing object with an empty mapping and returns
// the normalized value.
func NormalizeObject(req map[string]any) map[string]any {
	if obj, ok := req["object"].(map[string]any); ok {
		return obj
	}
	obj := map[string]any{}
	req["object"] = obj
	return obj
}
