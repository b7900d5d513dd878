// Package tui prints human-readable status output for the perfmon CLI.
//
// Colours are emitted only when the destination is a terminal.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"golang.org/x/term"
)

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
)

// Printer writes styled lines to an output.
type Printer struct {
	out   io.Writer
	color bool
}

// New returns a printer for out. Colour is enabled when out is a terminal.
func New(out io.Writer) *Printer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{out: out, color: color}
}

// Plain returns a printer that never emits colour codes.
func Plain(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ColorReset
}

// Header prints a styled section header.
func (p *Printer) Header(title string) {
	rule := "========================================"
	fmt.Fprintf(p.out, "\n%s\n%s\n%s\n\n",
		p.paint(ColorBold+ColorCyan, rule),
		p.paint(ColorBold+ColorCyan, "       "+title),
		p.paint(ColorBold+ColorCyan, rule))
}

// Success prints a message with a green [OK] prefix.
func (p *Printer) Success(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorGreen, "[OK]"), msg)
}

// Info prints a message with a blue [INFO] prefix.
func (p *Printer) Info(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorBlue, "[INFO]"), msg)
}

// Warn prints a message with a yellow [WARN] prefix.
func (p *Printer) Warn(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorYellow, "[WARN]"), msg)
}

// Error prints a message with a red [ERROR] prefix.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ColorRed, "[ERROR]"), msg)
}

// ChannelResult is one line of a channel check.
type ChannelResult struct {
	Name  string
	OK    bool
	Error string
}

// ChannelReport prints per-channel results in name order followed by a
// summary line. It returns the number of failed channels.
func (p *Printer) ChannelReport(results []ChannelResult, took time.Duration) int {
	sorted := append([]ChannelResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	p.Header("Alert channel check")
	if len(sorted) == 0 {
		p.Warn("no enabled channels")
		return 0
	}
	failed := 0
	for _, r := range sorted {
		if r.OK {
			p.Success(r.Name)
			continue
		}
		failed++
		if r.Error != "" {
			p.Error(fmt.Sprintf("%s: %s", r.Name, r.Error))
		} else {
			p.Error(r.Name)
		}
	}
	summary := fmt.Sprintf("%d/%d channels healthy in %s",
		len(sorted)-failed, len(sorted), took.Round(time.Millisecond))
	fmt.Fprintf(p.out, "\n%s\n", p.paint(ColorDim, summary))
	return failed
}
