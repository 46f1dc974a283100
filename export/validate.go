package export

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/hazyhaar/domstage/selector"
)

// ValidationError describes one structural defect in a payload. Validation
// always returns the complete list, never just the first, so a caller can
// report everything wrong at once.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidateArtifact validates an assembled artifact through the same path a
// serialized payload takes, guaranteeing the two can never disagree.
func ValidateArtifact(a *Artifact) []ValidationError {
	raw, err := json.Marshal(a)
	if err != nil {
		return []ValidationError{{Field: "$", Message: "artifact does not serialize: " + err.Error()}}
	}
	return Validate(raw)
}

// Validate structurally validates a serialized artifact payload.
func Validate(raw []byte) []ValidationError {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []ValidationError{{Field: "$", Message: "payload is not a JSON object: " + err.Error()}}
	}

	if v, ok := stringField(doc, "exportVersion"); !ok {
		add("exportVersion", "required string field is missing")
	} else if v != Version {
		add("exportVersion", fmt.Sprintf("got %q, want exactly %q", v, Version))
	}

	if v, ok := stringField(doc, "capturedAt"); !ok {
		add("capturedAt", "required string field is missing")
	} else if _, err := time.Parse(time.RFC3339, v); err != nil {
		add("capturedAt", "not an ISO-8601 timestamp")
	}

	if v, ok := stringField(doc, "pageUrl"); !ok {
		add("pageUrl", "required string field is missing")
	} else if u, err := url.Parse(v); err != nil || !u.IsAbs() || u.Host == "" {
		add("pageUrl", "not an absolute URL")
	}

	validateViewport(doc, add)
	validatePatches(doc, add)
	validateWarnings(doc, add)

	return errs
}

func validateViewport(doc map[string]any, add func(field, msg string)) {
	raw, ok := doc["viewport"]
	if !ok {
		add("viewport", "required object is missing")
		return
	}
	vp, ok := raw.(map[string]any)
	if !ok {
		add("viewport", "not an object")
		return
	}
	for _, key := range []string{"width", "height"} {
		n, ok := vp[key].(float64)
		if !ok {
			add("viewport."+key, "required integer is missing")
			continue
		}
		if n < 0 || n != math.Trunc(n) {
			add("viewport."+key, "must be a non-negative integer")
		}
	}
}

func validatePatches(doc map[string]any, add func(field, msg string)) {
	raw, ok := doc["patches"]
	if !ok {
		add("patches", "required array is missing")
		return
	}
	list, ok := raw.([]any)
	if !ok {
		add("patches", "not an array")
		return
	}
	for i, item := range list {
		field := func(name string) string { return fmt.Sprintf("patches[%d].%s", i, name) }
		obj, ok := item.(map[string]any)
		if !ok {
			add(fmt.Sprintf("patches[%d]", i), "not an object")
			continue
		}

		if v, ok := stringField(obj, "selector"); !ok || v == "" {
			add(field("selector"), "required non-empty string")
		}
		if v, ok := stringField(obj, "property"); !ok || v == "" {
			add(field("property"), "required non-empty string")
		}
		if ov, present := obj["originalValue"]; !present {
			add(field("originalValue"), "required field is missing (string or null)")
		} else if ov != nil {
			if _, isStr := ov.(string); !isStr {
				add(field("originalValue"), "must be a string or null")
			}
		}
		if _, ok := stringField(obj, "finalValue"); !ok {
			add(field("finalValue"), "required string field is missing")
		}
		if v, ok := stringField(obj, "selectorConfidence"); !ok {
			add(field("selectorConfidence"), "required string field is missing")
		} else if !selector.Confidence(v).Valid() {
			add(field("selectorConfidence"), fmt.Sprintf("%q is not one of high, medium, low", v))
		}
		if v, ok := stringField(obj, "capturedAt"); !ok {
			add(field("capturedAt"), "required string field is missing")
		} else if _, err := time.Parse(time.RFC3339, v); err != nil {
			add(field("capturedAt"), "not an ISO-8601 timestamp")
		}
	}
}

func validateWarnings(doc map[string]any, add func(field, msg string)) {
	raw, ok := doc["warnings"]
	if !ok {
		add("warnings", "required array is missing")
		return
	}
	list, ok := raw.([]any)
	if !ok {
		add("warnings", "not an array")
		return
	}
	for i, item := range list {
		field := func(name string) string { return fmt.Sprintf("warnings[%d].%s", i, name) }
		obj, ok := item.(map[string]any)
		if !ok {
			add(fmt.Sprintf("warnings[%d]", i), "not an object")
			continue
		}

		if v, ok := stringField(obj, "code"); !ok {
			add(field("code"), "required string field is missing")
		} else if !WarningCode(v).Valid() {
			add(field("code"), fmt.Sprintf("%q is not an enumerated warning code", v))
		}
		if _, ok := stringField(obj, "message"); !ok {
			add(field("message"), "required string field is missing")
		}
		if sel, present := obj["affectedSelectors"]; present {
			arr, ok := sel.([]any)
			if !ok {
				add(field("affectedSelectors"), "must be an array of strings")
				continue
			}
			for j, s := range arr {
				if _, isStr := s.(string); !isStr {
					add(fmt.Sprintf("warnings[%d].affectedSelectors[%d]", i, j), "must be a string")
				}
			}
		}
	}
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
