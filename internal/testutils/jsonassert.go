package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Present in an expected document matches any actual value, as long as the
// key exists.
const Present = "<<PRESENT>>"

type JSONOptions struct {
	// IgnoreExtraKeys drops actual object keys the expected object lacks.
	IgnoreExtraKeys bool `default:"true"`
	// IgnoredFields are removed from both sides at every depth.
	IgnoredFields []string
}

type JSONOption func(*JSONOptions)

func WithIgnoreExtraKeys(v bool) JSONOption {
	return func(o *JSONOptions) { o.IgnoreExtraKeys = v }
}

func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONOptions) { o.IgnoredFields = fields }
}

// AssertJSON compares two JSON documents structurally.
func AssertJSON(t TestingT, actual, expected string, opts ...JSONOption) bool {
	t.Helper()
	if d := JSONDiff(actual, expected, opts...); d != "" {
		t.Errorf("json mismatch:\n%s", d)
		return false
	}
	return true
}

// AssertJSONLines compares newline-delimited JSON documents one by one.
func AssertJSONLines(t TestingT, actual string, expected []string, opts ...JSONOption) bool {
	t.Helper()
	lines := nonEmptyLines(actual)
	if len(lines) != len(expected) {
		t.Errorf("json lines: got %d documents, want %d:\n%s", len(lines), len(expected), actual)
		return false
	}
	ok := true
	for i := range lines {
		if d := JSONDiff(lines[i], expected[i], opts...); d != "" {
			t.Errorf("json line %d mismatch:\n%s", i+1, d)
			ok = false
		}
	}
	return ok
}

// JSONDiff returns a readable diff, or "" when the documents match.
func JSONDiff(actual, expected string, opts ...JSONOption) string {
	var o JSONOptions
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	var want, got any
	if err := json.Unmarshal([]byte(expected), &want); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, isArray := want.([]any); isArray {
		want, got = map[string]any{"array": want}, map[string]any{"array": got}
	}

	resolvePresent(want, got)
	for _, f := range o.IgnoredFields {
		dropField(want, f)
		dropField(got, f)
	}
	if o.IgnoreExtraKeys {
		pruneExtra(got, want)
	}

	wantBytes, _ := json.Marshal(want)
	gotBytes, _ := json.Marshal(got)
	d, err := gojsondiff.New().Compare(wantBytes, gotBytes)
	if err != nil {
		return fmt.Sprintf("json compare: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	var left map[string]any
	_ = json.Unmarshal(wantBytes, &left)
	out, err := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(d)
	if err != nil {
		return fmt.Sprintf("json format: %v", err)
	}
	return out
}

// resolvePresent replaces Present placeholders in want with the actual value.
func resolvePresent(want, got any) {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return
		}
		for k, v := range w {
			if s, ok := v.(string); ok && s == Present {
				if gv, exists := g[k]; exists {
					w[k] = gv
				}
				continue
			}
			resolvePresent(v, g[k])
		}
	case []any:
		g, ok := got.([]any)
		if !ok {
			return
		}
		for i := range w {
			if i < len(g) {
				resolvePresent(w[i], g[i])
			}
		}
	}
}

func dropField(v any, field string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, field)
		for _, child := range t {
			dropField(child, field)
		}
	case []any:
		for _, child := range t {
			dropField(child, field)
		}
	}
}

func pruneExtra(got, want any) {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return
		}
		for k := range g {
			if _, keep := w[k]; !keep {
				delete(g, k)
			}
		}
		for k := range w {
			pruneExtra(g[k], w[k])
		}
	case []any:
		g, ok := got.([]any)
		if !ok {
			return
		}
		for i := range w {
			if i < len(g) {
				pruneExtra(g[i], w[i])
			}
		}
	}
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
