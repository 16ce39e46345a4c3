// Package output formats tasks for the terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/astromechza/tasklive/pkg/tasks"
)

const Separator = "------------"

// FormatTask writes one task line.
// Format: "{ID:>4}  [x] {TITLE}  (due {DATE}, {EMAIL})\n"
func FormatTask(w io.Writer, t tasks.Task) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	fmt.Fprintf(w, "%4d  [%s] %s%s\n", t.ID, mark, normalizeTitle(t.Title), details(t))
}

func FormatTasks(w io.Writer, ts []tasks.Task) {
	if len(ts) == 0 {
		fmt.Fprintln(w, "(no tasks)")
		return
	}
	for _, t := range ts {
		FormatTask(w, t)
	}
}

func details(t tasks.Task) string {
	var parts []string
	if t.DueDate != nil {
		parts = append(parts, "due "+*t.DueDate)
	}
	if t.AssigneeEmail != nil {
		parts = append(parts, *t.AssigneeEmail)
	}
	if len(parts) == 0 {
		return ""
	}
	return "  (" + strings.Join(parts, ", ") + ")"
}

// normalizeTitle keeps each task on one line.
func normalizeTitle(title string) string {
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

// TerminalRenderer redraws the whole list on every change.
type TerminalRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

func (r *TerminalRenderer) CollectionChanged(snapshot []tasks.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, Separator)
	FormatTasks(r.w, snapshot)
}

func (r *TerminalRenderer) ConnectionChanged(reconnecting bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reconnecting {
		fmt.Fprintln(r.w, "! connection lost, reconnecting")
	} else {
		fmt.Fprintln(r.w, "! reconnected")
	}
}
