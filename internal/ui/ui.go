// Package ui provides console status output for the multimaya CLI
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// UI writes results to out and status lines to err, so piped command
// output stays clean.
type UI struct {
	out io.Writer
	err io.Writer
}

// NewUI creates a UI on stdout and stderr
func NewUI() *UI {
	return &UI{out: os.Stdout, err: os.Stderr}
}

// NewUIWithWriters creates a UI on the given writers
func NewUIWithWriters(out, err io.Writer) *UI {
	return &UI{out: out, err: err}
}

// Out returns the result writer
func (ui *UI) Out() io.Writer {
	return ui.out
}

// Success prints a success status line
func (ui *UI) Success(msg string) {
	fmt.Fprintln(ui.err, successStyle.Render("✓ "+msg))
}

// Error prints an error status line
func (ui *UI) Error(msg string) {
	fmt.Fprintln(ui.err, errorStyle.Render("✗ "+msg))
}

// Warning prints a warning status line
func (ui *UI) Warning(msg string) {
	fmt.Fprintln(ui.err, warningStyle.Render("⚠ "+msg))
}

// Subtle prints a muted status line
func (ui *UI) Subtle(msg string) {
	fmt.Fprintln(ui.err, subtleStyle.Render(msg))
}

// Header prints a section header to out
func (ui *UI) Header(title string) {
	fmt.Fprintln(ui.out, headerStyle.Render(title))
}

// KeyValue prints an aligned "key: value" line to out
func (ui *UI) KeyValue(key string, value interface{}) {
	fmt.Fprintf(ui.out, "%s %v\n", keyStyle.Render(fmt.Sprintf("%-16s", key+":")), value)
}

// Println prints a plain line to out
func (ui *UI) Println(msg string) {
	fmt.Fprintln(ui.out, msg)
}

// Block prints indented multi-line text to err, e.g. a traceback
func (ui *UI) Block(text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintln(ui.err, subtleStyle.Render("  "+line))
	}
}
