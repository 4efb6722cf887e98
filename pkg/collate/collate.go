// Package collate runs the resource collation pipeline: walk the dependency
// graph from a consumer, build the resource registry, select what the
// consumer needs, and materialize it under the resource root.
//
// Every stage consumes the whole output of the previous one before the next
// starts, so collisions and path containment are judged against the complete
// set of descriptors before any file is written.
package collate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/resources/pkg/graph"
	"github.com/odvcencio/resources/pkg/materialize"
	"github.com/odvcencio/resources/pkg/record"
	"github.com/odvcencio/resources/pkg/registry"
	"github.com/odvcencio/resources/pkg/report"
	"github.com/odvcencio/resources/pkg/resource"
	"github.com/odvcencio/resources/pkg/selection"
)

// State is where a run is, or where it stopped.
type State int

const (
	StateInit State = iota
	StateGraphWalked
	StateRegistryBuilt
	StateSelected
	StateMaterialized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGraphWalked:
		return "graph-walked"
	case StateRegistryBuilt:
		return "registry-built"
	case StateSelected:
		return "selected"
	case StateMaterialized:
		return "materialized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures one run. The zero value is usable; DefaultOptions adds
// the record file.
type Options struct {
	// ResourceRoot overrides the consumer's resource_root. Relative paths
	// are resolved against the consumer's root directory.
	ResourceRoot string
	// Workers bounds concurrent copies; zero means one per CPU.
	Workers int
	// Strict turns name collisions into a fatal error.
	Strict bool
	// RecordFile is written inside the resource root after a non-empty run.
	// Empty disables the record.
	RecordFile string
	// Signer, when set, signs the record.
	Signer record.Signer
	Reporter report.Reporter
	Logger   *slog.Logger
}

// DefaultOptions returns options that write the standard record file.
func DefaultOptions() Options {
	return Options{RecordFile: record.DefaultFileName}
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (o Options) reporter() report.Reporter {
	if o.Reporter != nil {
		return o.Reporter
	}
	return report.Nop{}
}

// Plan is everything decided before any file is written.
type Plan struct {
	Consumer     string
	ConsumerRoot string
	ResourceRoot string // absolute
	Nodes        []graph.Node
	Registry     *registry.Registry
	Collisions   []resource.NameCollision
	Mode         selection.Mode
	Selected     []selection.Selected
}

// Result describes a run. It is returned even when the run fails, with State
// set to StateFailed and FailedAt naming the last state reached.
type Result struct {
	State      State
	FailedAt   State
	Plan       *Plan
	Summary    *materialize.Summary
	RecordPath string
}

// Prepare walks the graph from consumer and resolves the selection without
// writing anything.
func Prepare(ctx context.Context, g graph.Graph, consumer string, opts Options) (*Plan, error) {
	p, _, err := prepare(ctx, g, consumer, opts)
	return p, err
}

func prepare(ctx context.Context, g graph.Graph, consumer string, opts Options) (*Plan, State, error) {
	log := opts.logger()
	state := StateInit

	nodes, err := graph.Walk(g, consumer)
	if err != nil {
		return nil, state, err
	}
	state = StateGraphWalked
	log.Debug("dependency graph walked", "consumer", consumer, "nodes", len(nodes))
	if err := ctx.Err(); err != nil {
		return nil, state, err
	}

	self := nodes[0]
	root, err := resolveResourceRoot(self, opts.ResourceRoot)
	if err != nil {
		return nil, state, err
	}

	reg, err := registry.Build(nodes)
	if err != nil {
		return nil, state, err
	}
	state = StateRegistryBuilt
	collisions := reg.Collisions()
	log.Debug("resource registry built", "resources", reg.Len(), "collisions", len(collisions))
	for _, c := range collisions {
		opts.reporter().Collision(c)
	}
	if opts.Strict && len(collisions) > 0 {
		return nil, state, &resource.CollisionError{Collisions: collisions}
	}
	if err := ctx.Err(); err != nil {
		return nil, state, err
	}

	selected, mode, err := selection.Resolve(reg, self.ID, self.Metadata.Requires)
	if err != nil {
		return nil, state, err
	}
	state = StateSelected
	log.Debug("resources selected", "mode", mode.String(), "selected", len(selected))

	return &Plan{
		Consumer:     self.ID,
		ConsumerRoot: self.Root,
		ResourceRoot: root,
		Nodes:        nodes,
		Registry:     reg,
		Collisions:   collisions,
		Mode:         mode,
		Selected:     selected,
	}, state, nil
}

// Run executes the whole pipeline for consumer.
func Run(ctx context.Context, g graph.Graph, consumer string, opts Options) (*Result, error) {
	log := opts.logger()
	res := &Result{State: StateInit}
	fail := func(at State, err error) (*Result, error) {
		res.State = StateFailed
		res.FailedAt = at
		log.Debug("collation failed", "consumer", consumer, "at", at.String(), "error", err)
		return res, err
	}

	if opts.RecordFile != "" && !filepath.IsLocal(opts.RecordFile) {
		return fail(StateInit, fmt.Errorf("collate: record file %q must be a relative path inside the resource root", opts.RecordFile))
	}

	p, state, err := prepare(ctx, g, consumer, opts)
	if err != nil {
		return fail(state, err)
	}
	res.Plan = p
	res.State = state

	if len(p.Selected) == 0 {
		opts.reporter().NoResources()
	}

	var reserved []string
	if opts.RecordFile != "" {
		reserved = append(reserved, filepath.ToSlash(opts.RecordFile))
	}
	summary, err := materialize.Materialize(ctx, p.ResourceRoot, p.Selected, materialize.Options{
		Workers:  opts.Workers,
		Reserved: reserved,
		OnFile:   opts.reporter().ResourceCollected,
	})
	res.Summary = summary
	if err != nil {
		return fail(StateSelected, err)
	}

	if opts.RecordFile != "" {
		path, err := writeRecord(p.ResourceRoot, opts.RecordFile, summary, opts.Signer)
		if err != nil {
			return fail(StateSelected, err)
		}
		res.RecordPath = path
	}

	res.State = StateMaterialized
	log.Info("resources collated",
		"consumer", p.Consumer,
		"root", p.ResourceRoot,
		"files", len(summary.Files),
		"collisions", len(p.Collisions),
	)
	return res, nil
}

// ResourceRoot resolves consumer's resource root without walking the graph.
func ResourceRoot(g graph.Graph, consumer, override string) (string, error) {
	dir, err := g.RootDirectory(consumer)
	if err != nil {
		return "", err
	}
	meta, err := g.Metadata(consumer)
	if err != nil {
		return "", err
	}
	return resolveResourceRoot(graph.Node{ID: consumer, Root: dir, Metadata: meta}, override)
}

// resolveResourceRoot picks the explicit override, then the consumer's
// resource_root, then the default, resolving relative paths against the
// consumer's root directory.
func resolveResourceRoot(self graph.Node, override string) (string, error) {
	root := strings.TrimSpace(override)
	if root == "" {
		root = strings.TrimSpace(self.Metadata.ResourceRoot)
	}
	if root == "" {
		root = resource.DefaultResourceRoot
	}
	root = filepath.FromSlash(root)
	if !filepath.IsAbs(root) {
		root = filepath.Join(self.Root, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("collate: resolve resource root %s: %w", root, err)
	}
	return abs, nil
}

// writeRecord writes the record for a non-empty run and removes a leftover
// record after an empty one.
func writeRecord(root, name string, summary *materialize.Summary, signer record.Signer) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(name))
	if summary == nil || len(summary.Files) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("collate: remove stale record: %w", err)
		}
		return "", nil
	}

	rec := record.FromSummary(summary)
	if signer != nil {
		if err := record.Sign(rec, signer); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("collate: record dir: %w", err)
	}
	if err := record.Write(path, rec); err != nil {
		return "", err
	}
	return path, nil
}
