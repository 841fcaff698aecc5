// Package render reports task tree progress on a terminal or in logs.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"stagecheck/cli/internal/tasktree"
)

// Mode selects how events are written.
type Mode int

const (
	// Silent writes nothing.
	Silent Mode = iota
	// Plain writes one [STATUS] line per event; suited to logs and CI.
	Plain
	// Fancy writes indented, colored symbols; suited to terminals.
	Fancy
)

// ModeFor picks the mode for out: Silent when quiet, Plain when debugging or
// when out is not a terminal, else Fancy.
func ModeFor(out *os.File, quiet, debug bool) Mode {
	switch {
	case quiet:
		return Silent
	case debug || out == nil || !term.IsTerminal(int(out.Fd())):
		return Plain
	default:
		return Fancy
	}
}

const (
	symbolStarted   = "❯"
	symbolCompleted = "✔"
	symbolSkipped   = "↓"
	symbolFailed    = "✖"
)

// Renderer is a tasktree.Observer. It is safe for concurrent use.
type Renderer struct {
	mu      sync.Mutex
	w       io.Writer
	mode    Mode
	verbose bool

	green, yellow, red, dim *color.Color
}

// New returns a Renderer writing to w. With verbose set, output of successful
// commands is shown too; output of failed commands is always shown.
func New(w io.Writer, mode Mode, verbose bool) *Renderer {
	return &Renderer{
		w:       w,
		mode:    mode,
		verbose: verbose,
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow),
		red:     color.New(color.FgRed),
		dim:     color.New(color.Faint),
	}
}

// Observe writes e.
func (r *Renderer) Observe(e tasktree.Event) {
	if r.mode == Silent {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == Plain {
		r.plain(e)
		return
	}
	r.fancy(e)
}

func (r *Renderer) plain(e tasktree.Event) {
	switch e.Status {
	case tasktree.Skipped:
		if e.Reason != "" {
			fmt.Fprintf(r.w, "[%s] %s: %s\n", e.Status, e.Title, e.Reason)
			return
		}
		fmt.Fprintf(r.w, "[%s] %s\n", e.Status, e.Title)
	case tasktree.Failed:
		fmt.Fprintf(r.w, "[%s] %s\n", e.Status, e.Title)
		if e.Leaf {
			r.detail(e, "")
		}
	default:
		fmt.Fprintf(r.w, "[%s] %s\n", e.Status, e.Title)
		if e.Status == tasktree.Completed && r.verbose {
			r.detail(e, "")
		}
	}
}

func (r *Renderer) fancy(e tasktree.Event) {
	indent := strings.Repeat("  ", e.Depth)
	switch e.Status {
	case tasktree.Started:
		if !e.Leaf {
			fmt.Fprintf(r.w, "%s%s %s\n", indent, r.yellow.Sprint(symbolStarted), e.Title)
		}
	case tasktree.Completed:
		fmt.Fprintf(r.w, "%s%s %s\n", indent, r.green.Sprint(symbolCompleted), e.Title)
		if r.verbose {
			r.detail(e, indent+"  ")
		}
	case tasktree.Skipped:
		line := fmt.Sprintf("%s%s %s", indent, r.yellow.Sprint(symbolSkipped), e.Title)
		if e.Reason != "" {
			line += " " + r.dim.Sprintf("[%s]", e.Reason)
		}
		fmt.Fprintln(r.w, line)
	case tasktree.Failed:
		fmt.Fprintf(r.w, "%s%s %s\n", indent, r.red.Sprint(symbolFailed), e.Title)
		if e.Leaf {
			r.detail(e, indent+"  ")
		}
	}
}

// detail writes a leaf's output, or its error when it produced none.
func (r *Renderer) detail(e tasktree.Event, indent string) {
	text := strings.TrimRight(e.Output, "\n")
	if text == "" && e.Err != nil {
		text = e.Err.Error()
	}
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(r.w, "%s%s\n", indent, line)
	}
}
