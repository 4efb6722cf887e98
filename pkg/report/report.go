// Package report turns collation events into user-visible output. Collision
// warnings are kept apart from informational lines so callers can route or
// escalate them separately.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/odvcencio/resources/pkg/materialize"
	"github.com/odvcencio/resources/pkg/resource"
)

// Reporter receives progress events from a collation run. Implementations
// must be safe for concurrent use; ResourceCollected is called from copy
// workers.
type Reporter interface {
	ResourceCollected(f materialize.File)
	NoResources()
	Collision(c resource.NameCollision)
}

// Nop discards every event.
type Nop struct{}

func (Nop) ResourceCollected(materialize.File) {}
func (Nop) NoResources()                        {}
func (Nop) Collision(resource.NameCollision)    {}

// Console writes progress lines to out and warnings to warn.
type Console struct {
	mu   sync.Mutex
	out  io.Writer
	warn io.Writer

	warnLabel lipgloss.Style
	detail    lipgloss.Style
}

// NewConsole returns a console reporter. Styling follows the color support
// of warn, so redirected output stays plain.
func NewConsole(out, warn io.Writer) *Console {
	r := lipgloss.NewRenderer(warn)
	return &Console{
		out:       out,
		warn:      warn,
		warnLabel: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		detail:    r.NewStyle().Faint(true),
	}
}

func (c *Console) ResourceCollected(f materialize.File) {
	label := " copied:"
	if f.Status == materialize.StatusExisted {
		label = "existed:"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Resource %s %s %s\n", label, f.SHA256, f.Destination)
}

func (c *Console) NoResources() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, "No resources were found - nothing to collate.")
}

func (c *Console) Collision(col resource.NameCollision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.warn, "%s duplicate resource %q\n", c.warnLabel.Render("WARNING:"), col.Name)
	fmt.Fprintln(c.warn, c.detail.Render(fmt.Sprintf("  keeping:  %s (%s)", col.KeptSource, col.KeptNode)))
	fmt.Fprintln(c.warn, c.detail.Render(fmt.Sprintf("  ignoring: %s (%s)", col.DroppedPath, col.DroppedNode)))
}

// Log forwards events to a slog.Logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) ResourceCollected(f materialize.File) {
	l.Logger.Debug("resource collected",
		"name", f.Name,
		"node", f.Node,
		"status", f.Status.String(),
		"sha256", string(f.SHA256),
		"destination", f.Destination,
	)
}

func (l Log) NoResources() {
	l.Logger.Debug("no resources selected")
}

func (l Log) Collision(c resource.NameCollision) {
	l.Logger.Warn("duplicate resource",
		"name", c.Name,
		"kept_node", c.KeptNode,
		"kept_source", c.KeptSource,
		"dropped_node", c.DroppedNode,
		"dropped_source", c.DroppedPath,
	)
}

// Multi fans events out to several reporters.
type Multi []Reporter

func (m Multi) ResourceCollected(f materialize.File) {
	for _, r := range m {
		r.ResourceCollected(f)
	}
}

func (m Multi) NoResources() {
	for _, r := range m {
		r.NoResources()
	}
}

func (m Multi) Collision(c resource.NameCollision) {
	for _, r := range m {
		r.Collision(c)
	}
}
