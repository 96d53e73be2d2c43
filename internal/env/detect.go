// Package env detects credential variables in the local environment
// and delivers them to remote instances over SSH. Values never travel
// through the provider API and never appear in diagnostics; only
// variable names do.
package env

import (
	"os"
	"sort"
	"strings"
)

// Detect scrapes the local environment for variables matching any of
// the given prefixes. Empty values are skipped.
func Detect(prefixes []string) map[string]string {
	vars := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		for _, prefix := range prefixes {
			if strings.HasPrefix(key, prefix) {
				vars[key] = value
				break
			}
		}
	}
	return vars
}

// Names returns the variable names in sorted order. Safe for logging.
func Names(vars map[string]string) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
