package export

import (
	"encoding/json"
	"strings"
	"testing"
)

func validPayload() map[string]any {
	return map[string]any{
		"exportVersion": Version,
		"capturedAt":    "2026-08-30T12:00:00Z",
		"pageUrl":       "https://example.com/pricing",
		"viewport":      map[string]any{"width": 1280, "height": 800},
		"patches": []any{
			map[string]any{
				"selector":           "#hero",
				"property":           "color",
				"originalValue":      nil,
				"finalValue":         "red",
				"selectorConfidence": "high",
				"capturedAt":         "2026-08-30T11:59:00Z",
			},
		},
		"warnings": []any{
			map[string]any{
				"code":              "low_confidence_selector",
				"message":           "fragile",
				"affectedSelectors": []any{"li:nth-of-type(2)"},
			},
		},
	}
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestValidateAcceptsValidPayload(t *testing.T) {
	if errs := Validate(marshal(t, validPayload())); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

func TestValidateVersionMismatchIsSingleError(t *testing.T) {
	p := validPayload()
	p["exportVersion"] = "0.9.0"
	errs := Validate(marshal(t, p))
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want exactly one", errs)
	}
	if errs[0].Field != "exportVersion" {
		t.Errorf("error field = %q, want exportVersion", errs[0].Field)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	p := validPayload()
	p["exportVersion"] = "2.0"
	p["pageUrl"] = "not a url"
	p["viewport"] = map[string]any{"width": -5}
	p["patches"] = []any{
		map[string]any{
			"selector":           "",
			"property":           "color",
			"finalValue":         "red",
			"selectorConfidence": "certain",
			"capturedAt":         "yesterday",
		},
	}

	errs := Validate(marshal(t, p))
	wantFields := []string{
		"exportVersion",
		"pageUrl",
		"viewport.width",
		"viewport.height",
		"patches[0].selector",
		"patches[0].originalValue",
		"patches[0].selectorConfidence",
		"patches[0].capturedAt",
	}
	for _, f := range wantFields {
		if !hasField(errs, f) {
			t.Errorf("missing error for %s in %v", f, errs)
		}
	}
	if len(errs) != len(wantFields) {
		t.Errorf("errors = %d, want %d: %v", len(errs), len(wantFields), errs)
	}
}

func TestValidatePatchEnumAndNullability(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]any)
		field  string
	}{
		{"bad confidence", func(p map[string]any) {
			p["patches"].([]any)[0].(map[string]any)["selectorConfidence"] = "maybe"
		}, "patches[0].selectorConfidence"},
		{"numeric originalValue", func(p map[string]any) {
			p["patches"].([]any)[0].(map[string]any)["originalValue"] = 12
		}, "patches[0].originalValue"},
		{"bad warning code", func(p map[string]any) {
			p["warnings"].([]any)[0].(map[string]any)["code"] = "mystery"
		}, "warnings[0].code"},
		{"non-string affected selector", func(p map[string]any) {
			p["warnings"].([]any)[0].(map[string]any)["affectedSelectors"] = []any{7}
		}, "warnings[0].affectedSelectors[0]"},
	}

	for _, tt := range tests {
		p := validPayload()
		tt.mutate(p)
		errs := Validate(marshal(t, p))
		if len(errs) != 1 || errs[0].Field != tt.field {
			t.Errorf("%s: errors = %v, want one for %s", tt.name, errs, tt.field)
		}
	}
}

func TestValidateRejectsNonObject(t *testing.T) {
	errs := Validate([]byte(`[1,2,3]`))
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "JSON object") {
		t.Fatalf("errors = %v", errs)
	}
}

func TestValidateArtifactMatchesSerializedPath(t *testing.T) {
	a := &Artifact{
		ExportVersion: Version,
		CapturedAt:    "2026-08-30T12:00:00Z",
		PageURL:       "https://example.com/",
		Viewport:      Viewport{Width: 1, Height: 1},
		Patches:       []Entry{},
		Warnings:      []Warning{},
	}
	if errs := ValidateArtifact(a); len(errs) != 0 {
		t.Fatalf("valid artifact rejected: %v", errs)
	}

	a.ExportVersion = "0.9.0"
	errs := ValidateArtifact(a)
	if len(errs) != 1 || errs[0].Field != "exportVersion" {
		t.Fatalf("errors = %v", errs)
	}
}
