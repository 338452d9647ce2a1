package transcribe

import (
	"encoding/json"
	"fmt"
)

// Fields probed, in order, when looking for results in a response body.
var (
	wrapperFields = []string{"results", "data"}
	textFields    = []string{"transcription", "transcript", "text"}
	nameFields    = []string{"filename", "file", "name"}
)

// NormalizeResult maps a response body to filename -> transcript for the
// given file names (in request order).
//
// The result is looked up under "results", then "data", then the top-level
// object. Recognised shapes are a filename keyed mapping (to strings or to
// objects with a text field), a single object with a text field, an array of
// strings or objects, and a bare string. Positional entries are matched to
// names by index. Any other body yields ErrUnrecognizedShape; the payload is
// never passed through as a transcript.
func NormalizeResult(body []byte, names []string) (map[string]string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedShape, err)
	}

	payload := doc
	if obj, ok := doc.(map[string]any); ok {
		for _, field := range wrapperFields {
			if v, ok := obj[field]; ok {
				payload = v
				break
			}
		}
	}

	out := make(map[string]string)
	switch v := payload.(type) {
	case map[string]any:
		if text, ok := lookupString(v, textFields); ok {
			if name, ok := lookupString(v, nameFields); ok {
				out[name] = text
			} else if len(names) == 1 {
				out[names[0]] = text
			}
			break
		}
		for key, item := range v {
			switch it := item.(type) {
			case string:
				out[key] = it
			case map[string]any:
				if text, ok := lookupString(it, textFields); ok {
					out[key] = text
				}
			}
		}
	case []any:
		for i, item := range v {
			switch it := item.(type) {
			case string:
				if i < len(names) {
					out[names[i]] = it
				}
			case map[string]any:
				text, ok := lookupString(it, textFields)
				if !ok {
					continue
				}
				if name, ok := lookupString(it, nameFields); ok {
					out[name] = text
				} else if i < len(names) {
					out[names[i]] = text
				}
			}
		}
	case string:
		if len(names) == 1 {
			out[names[0]] = v
		}
	}

	if len(out) == 0 {
		return nil, ErrUnrecognizedShape
	}
	return out, nil
}

func lookupString(obj map[string]any, fields []string) (string, bool) {
	for _, f := range fields {
		if s, ok := obj[f].(string); ok {
			return s, true
		}
	}
	return "", false
}
