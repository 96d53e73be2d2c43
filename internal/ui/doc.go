// Package ui provides terminal output components for the vastctl CLI.
//
// The package includes spinners, status symbols, styled text, tables,
// and confirmation prompts built on Lip Gloss, Bubbles, and Huh for
// consistent styling across commands.
//
// Colors are defined as ANSI codes for broad terminal compatibility.
// Use DisableColors() to switch to monochrome output (for --no-color
// or non-TTY use).
//
// Spinner usage:
//
//	s := ui.NewSpinner("Creating instance")
//	s.Start()
//	// ... do work ...
//	s.Success() // or s.Fail() or s.Skip()
package ui
