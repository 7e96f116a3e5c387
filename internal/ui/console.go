// Package ui renders user-facing console messages. Everything goes to stderr
// so pod output and stage banners on stdout stay pipeable.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ANSI sequences for console styling. Skipped when stderr is not a terminal.
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

// Console writes styled messages for interactive use and plain text when the
// output is redirected.
type Console struct {
	out    io.Writer
	styled bool
}

func NewConsole() *Console {
	return &Console{out: os.Stderr, styled: stderrIsTerminal()}
}

func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (c *Console) paint(code, message string) string {
	if !c.styled {
		return message
	}
	return code + message + ansiReset
}

// PrintError writes an error line, bold red on a terminal.
func (c *Console) PrintError(message string) {
	fmt.Fprintln(c.out, c.paint(ansiBold+ansiRed, "Error: "+message))
}

// PrintWarning writes a warning line.
func (c *Console) PrintWarning(message string) {
	fmt.Fprintln(c.out, c.paint(ansiYellow, "Warning: "+message))
}

// PrintSuccess writes a confirmation line.
func (c *Console) PrintSuccess(message string) {
	fmt.Fprintln(c.out, c.paint(ansiGreen, message))
}

// PrintInfo writes an informational line.
func (c *Console) PrintInfo(message string) {
	fmt.Fprintln(c.out, c.paint(ansiBlue, message))
}

// FormatErrorMessage lays an error out as context, cause, and suggestion
// lines. Empty parts are dropped rather than rendered blank.
func (c *Console) FormatErrorMessage(context, cause, suggestion string) string {
	lines := make([]string, 0, 3)
	if context != "" {
		lines = append(lines, context)
	}
	if cause != "" {
		lines = append(lines, "Cause: "+cause)
	}
	if suggestion != "" {
		lines = append(lines, "Suggestion: "+suggestion)
	}
	return strings.Join(lines, "\n")
}
