package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/germanamz/promode/pkg/promode"
)

const (
	finalHeader   = "=== FINAL ==="
	previewWidth  = 72
	markdownWidth = 100
)

var (
	finalHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")) // cyan
	previewIndex     = lipgloss.NewStyle().Bold(true)
	previewFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray
)

// isTerminal reports whether w is an *os.File attached to a terminal.
func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // file descriptors fit in int
}

// terminalWidth returns the width of w, or fallback when unknown.
func terminalWidth(w io.Writer, fallback int) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(int(f.Fd())) //nolint:gosec // file descriptors fit in int
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}

// printer writes the end-of-run report. Styling is applied only when styled
// is set, so piped output stays byte-for-byte plain.
type printer struct {
	out      io.Writer
	styled   bool
	markdown bool
	width    int
}

func newPrinter(out io.Writer, markdown bool) *printer {
	return &printer{
		out:      out,
		styled:   isTerminal(out),
		markdown: markdown,
		width:    terminalWidth(out, markdownWidth),
	}
}

// final writes "\n=== FINAL ===\n" followed by the answer.
func (p *printer) final(text string) {
	header := finalHeader
	if p.styled {
		header = finalHeaderStyle.Render(finalHeader)
	}

	if p.markdown {
		text = renderMarkdown(text, min(p.width, markdownWidth), p.styled)
	}

	_, _ = fmt.Fprintf(p.out, "\n%s\n%s\n", header, text)
}

// candidates writes one preview line per candidate.
func (p *printer) candidates(res promode.Result) {
	failed := make(map[int]bool, len(res.Failed))
	for _, i := range res.Failed {
		failed[i] = true
	}

	_, _ = fmt.Fprintln(p.out)
	for i, c := range res.Candidates {
		idx := fmt.Sprintf("[%d]", i+1)
		line := preview(c, previewWidth)
		if p.styled {
			idx = previewIndex.Render(idx)
			if failed[i] {
				line = previewFailed.Render(line)
			}
		}
		_, _ = fmt.Fprintf(p.out, "%s %s\n", idx, line)
	}
}

// usage writes the token summary line.
func (p *printer) usage(summary string) {
	line := "tokens: " + summary
	if p.styled {
		line = dimStyle.Render(line)
	}
	_, _ = fmt.Fprintln(p.out, line)
}

// preview flattens s to one line and truncates it to width display cells.
func preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

// renderMarkdown converts markdown to terminal output. Without a terminal the
// plain style is used so no escape sequences leak into pipes. Rendering
// errors fall back to the raw text.
func renderMarkdown(text string, width int, styled bool) string {
	style := glamour.WithStandardStyle("notty")
	if styled {
		style = glamour.WithAutoStyle()
	}

	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return text
	}

	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}
