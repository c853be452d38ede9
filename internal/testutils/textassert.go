// Package testutils holds assertion helpers shared by command and package
// tests: unified text diffs for rendered output and structural JSON
// comparison for event streams.
package testutils

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the part of *testing.T the asserters need.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

type TextOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	Colors                   bool `default:"false"`
}

type TextOption func(*TextOptions)

func WithTrimSpace(v bool) TextOption {
	return func(o *TextOptions) { o.TrimSpace = v }
}

func WithIgnoreTrailingWhitespace(v bool) TextOption {
	return func(o *TextOptions) { o.IgnoreTrailingWhitespace = v }
}

func WithIgnoreEmptyLines(v bool) TextOption {
	return func(o *TextOptions) { o.IgnoreEmptyLines = v }
}

func WithColors(v bool) TextOption {
	return func(o *TextOptions) { o.Colors = v }
}

func textOptions(opts []TextOption) TextOptions {
	var o TextOptions
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AssertText fails t with a unified diff when actual and expected differ
// after normalization.
func AssertText(t TestingT, actual, expected string, opts ...TextOption) bool {
	t.Helper()
	if d := TextDiff(actual, expected, opts...); d != "" {
		t.Errorf("text mismatch:\n%s", d)
		return false
	}
	return true
}

// TextDiff returns the unified diff from expected to actual, or "" when
// they match.
func TextDiff(actual, expected string, opts ...TextOption) string {
	o := textOptions(opts)
	want, got := normalizeText(expected, o), normalizeText(actual, o)
	if want == got {
		return ""
	}

	edits := myers.ComputeEdits("", want, got)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits))
	if !o.Colors {
		return unified
	}
	return colorize(unified)
}

func normalizeText(s string, o TextOptions) string {
	if o.TrimSpace {
		s = strings.TrimSpace(s)
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if o.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if o.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n"
}

func colorize(diff string) string {
	header := color.New(color.FgYellow)
	hunk := color.New(color.FgCyan)
	del := color.New(color.FgRed)
	add := color.New(color.FgGreen)
	for _, c := range []*color.Color{header, hunk, del, add} {
		c.EnableColor()
	}

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			lines[i] = header.Sprint(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunk.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = del.Sprint(visibleSpace(line))
		case strings.HasPrefix(line, "+"):
			lines[i] = add.Sprint(visibleSpace(line))
		}
	}
	return strings.Join(lines, "\n")
}

// visibleSpace shows spaces as · and tabs as →.
func visibleSpace(line string) string {
	return strings.NewReplacer(" ", "·", "\t", "→").Replace(line)
}
