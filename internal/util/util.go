// Package util provides common utility functions used across encounterd.
package util

import "strings"

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// ExpandPlaceholders replaces every {key} token in a command template with
// its value. Unknown tokens are left untouched so host-side placeholders
// survive the pass.
func ExpandPlaceholders(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// ExpandCommandList applies ExpandPlaceholders to every command in a batch.
func ExpandCommandList(commands []string, values map[string]string) []string {
	if len(commands) == 0 || len(values) == 0 {
		return commands
	}
	out := make([]string, len(commands))
	for i, c := range commands {
		out[i] = ExpandPlaceholders(c, values)
	}
	return out
}
