// Package ui renders CLI output with lipgloss, falling back to plain text
// when stdout is not a terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1D63ED", Dark: "#6CA0FF"}
	passColor   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	failColor   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(passColor).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle  = lipgloss.NewStyle().Foreground(mutedColor).Width(14)
)

// plain disables styling. It is set once at startup when stdout is not a
// terminal.
var plain = !term.IsTerminal(int(os.Stdout.Fd()))

// SetPlain forces plain or styled output.
func SetPlain(p bool) {
	plain = p
}

func render(s lipgloss.Style, text string) string {
	if plain {
		return text
	}
	return s.Render(text)
}

func RenderAccent(text string) string { return render(accentStyle, text) }
func RenderPass(text string) string   { return render(passStyle, text) }
func RenderWarn(text string) string   { return render(warnStyle, text) }
func RenderFail(text string) string   { return render(failStyle, text) }
func RenderMuted(text string) string  { return render(mutedStyle, text) }

// Field is one label/value row of a status block.
type Field struct {
	Label string
	Value string
}

// WriteFields writes aligned label/value rows under a title.
func WriteFields(w io.Writer, title string, fields []Field) {
	fmt.Fprintf(w, "\n%s\n", RenderAccent(title))
	for _, f := range fields {
		label := f.Label + ":"
		if plain {
			label = fmt.Sprintf("%-14s", label)
		} else {
			label = labelStyle.Render(label)
		}
		fmt.Fprintf(w, "   %s %s\n", label, f.Value)
	}
	fmt.Fprintln(w)
}

// YesNo renders a boolean as a colored yes or no.
func YesNo(b bool) string {
	if b {
		return RenderPass("yes")
	}
	return RenderMuted("no")
}

// Since renders t relative to now, or "never" for the zero time.
func Since(t, now time.Time) string {
	if t.IsZero() {
		return RenderMuted("never")
	}
	d := now.Sub(t).Round(time.Second)
	if d < time.Second {
		return "just now"
	}
	return d.String() + " ago"
}

// Tree renders nested titles as an indented outline.
func Tree(w io.Writer, depth int, title, url string, folder bool) {
	indent := strings.Repeat("  ", depth)
	switch {
	case folder:
		fmt.Fprintf(w, "%s%s\n", indent, RenderAccent(title+"/"))
	case url == "":
		fmt.Fprintf(w, "%s%s\n", indent, RenderMuted(title))
	default:
		fmt.Fprintf(w, "%s%s %s\n", indent, title, RenderMuted(url))
	}
}
