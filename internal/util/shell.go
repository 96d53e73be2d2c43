// Package util provides common utility functions used across the codebase.
package util

import "strings"

// ShellQuote single-quotes s for literal use in a remote shell command,
// escaping embedded single quotes as '\''.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// ShellQuotePreserveTilde quotes a path like ShellQuote but leaves a
// leading ~/ outside the quotes so the remote shell still expands it to
// the remote home directory. Other paths are quoted whole.
func ShellQuotePreserveTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		return "~/" + ShellQuote(path[2:])
	}
	if path == "~" {
		return "~"
	}
	return ShellQuote(path)
}
