// Package console writes human-readable deployment progress to the terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#EF4444")
	yellow = lipgloss.Color("#F59E0B")
	blue   = lipgloss.Color("#3B82F6")
	dim    = lipgloss.Color("#6B7280")

	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	diffStyle    = lipgloss.NewStyle().Foreground(blue)
	prefixStyle  = lipgloss.NewStyle().Foreground(dim)
)

// Printer writes styled lines. Printers derived with WithPrefix share the
// underlying writer and lock, so concurrent workers never interleave within
// a line.
type Printer struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix string
}

// New creates a printer on w. A nil writer means stdout.
func New(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{mu: &sync.Mutex{}, w: w}
}

// Discard returns a printer that drops everything.
func Discard() *Printer {
	return New(io.Discard)
}

// WithPrefix returns a printer that tags every line with prefix. Prefixed
// printers do not draw progress dots.
func (p *Printer) WithPrefix(prefix string) *Printer {
	return &Printer{mu: p.mu, w: p.w, prefix: prefix}
}

// Print writes s without a trailing newline.
func (p *Printer) Print(s string) {
	p.write(s, lipgloss.NewStyle(), false)
}

// Println writes s followed by a newline.
func (p *Printer) Println(s string) {
	p.write(s, lipgloss.NewStyle(), true)
}

// Printf formats and writes a line.
func (p *Printer) Printf(format string, args ...any) {
	p.Println(fmt.Sprintf(format, args...))
}

// Success writes s in green.
func (p *Printer) Success(s string) {
	p.write(s, successStyle, true)
}

// Warn writes s in yellow.
func (p *Printer) Warn(s string) {
	p.write(s, warnStyle, true)
}

// Error writes s in red.
func (p *Printer) Error(s string) {
	p.write(s, errorStyle, true)
}

// Diff writes s in blue.
func (p *Printer) Diff(s string) {
	p.write(s, diffStyle, true)
}

// Dot writes a single progress dot.
func (p *Printer) Dot() {
	if p.prefix != "" {
		return
	}
	p.write(".", lipgloss.NewStyle(), false)
}

func (p *Printer) write(s string, style lipgloss.Style, newline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var tag string
	if p.prefix != "" {
		tag = prefixStyle.Render("["+p.prefix+"]") + " "
		// Each prefixed write is a complete line.
		newline = true
	}

	// Render line by line; lipgloss pads multi-line blocks to a common width.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			continue
		}
		lines[i] = tag + style.Render(line)
	}
	s = strings.Join(lines, "\n")

	if newline {
		s += "\n"
	}
	_, _ = io.WriteString(p.w, s)
}
