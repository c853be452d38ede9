// Package gattc holds the Lua scripts bundled with gattctl.
package gattc

import (
	"embed"
	"path"
	"sort"
	"strings"
)

//go:embed scripts/*.lua
var scripts embed.FS

// BuiltinScript returns the source of the bundled script name, given
// without the .lua suffix.
func BuiltinScript(name string) (string, bool) {
	data, err := scripts.ReadFile(path.Join("scripts", name+".lua"))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// BuiltinScripts lists the bundled script names, sorted.
func BuiltinScripts() []string {
	entries, err := scripts.ReadDir("scripts")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}
