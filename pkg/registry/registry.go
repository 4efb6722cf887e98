package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/resources/pkg/graph"
	"github.com/odvcencio/resources/pkg/resource"
)

// Registry maps unique resource names to descriptors, remembering insertion
// order.
type Registry struct {
	order      []string
	pos        map[string]int
	byName     map[string]resource.Descriptor
	collisions []resource.NameCollision
}

// Build resolves every provided declaration of nodes, in order. The first
// provider of a name wins; later providers are recorded as collisions.
// Any declaration whose crate path does not resolve to a file fails the build.
func Build(nodes []graph.Node) (*Registry, error) {
	reg := &Registry{
		pos:    make(map[string]int),
		byName: make(map[string]resource.Descriptor),
	}
	for _, n := range nodes {
		for _, decl := range n.Metadata.Provides {
			desc, err := resolve(n, decl)
			if err != nil {
				return nil, err
			}
			reg.insert(desc)
		}
	}
	return reg, nil
}

func (r *Registry) insert(d resource.Descriptor) {
	if kept, ok := r.byName[d.Name]; ok {
		r.collisions = append(r.collisions, resource.NameCollision{
			Name:        d.Name,
			KeptNode:    kept.Node,
			KeptSource:  kept.Source,
			DroppedNode: d.Node,
			DroppedPath: d.Source,
		})
		return
	}
	r.byName[d.Name] = d
	r.pos[d.Name] = len(r.order)
	r.order = append(r.order, d.Name)
}

// Descriptors returns all descriptors in insertion order.
func (r *Registry) Descriptors() []resource.Descriptor {
	out := make([]resource.Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (resource.Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Index returns the insertion position of name, or -1.
func (r *Registry) Index(name string) int {
	if i, ok := r.pos[name]; ok {
		return i
	}
	return -1
}

func (r *Registry) Len() int { return len(r.order) }

// Collisions returns every duplicate name seen while building, in the order
// they were found.
func (r *Registry) Collisions() []resource.NameCollision {
	return append([]resource.NameCollision(nil), r.collisions...)
}

func resolve(n graph.Node, decl resource.Declaration) (resource.Descriptor, error) {
	if err := decl.Validate(); err != nil {
		return resource.Descriptor{}, fmt.Errorf("node %q: %w", n.ID, err)
	}
	name := decl.Name()
	notFound := func(path, reason string, err error) error {
		return &resource.ResourceNotFoundError{Name: name, Node: n.ID, Path: path, Reason: reason, Err: err}
	}

	cratePath := filepath.FromSlash(decl.CratePath)
	if filepath.IsAbs(cratePath) {
		return resource.Descriptor{}, notFound(decl.CratePath, "crate_path must be relative to the node root", nil)
	}
	root, err := filepath.Abs(n.Root)
	if err != nil {
		return resource.Descriptor{}, fmt.Errorf("node %q: resolve root %s: %w", n.ID, n.Root, err)
	}
	joined := filepath.Join(root, cratePath)
	if rel, err := filepath.Rel(root, joined); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return resource.Descriptor{}, notFound(joined, "crate_path leaves the node root", nil)
	}

	canonical, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return resource.Descriptor{}, notFound(joined, "", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return resource.Descriptor{}, notFound(joined, "", err)
	}
	if !info.Mode().IsRegular() {
		return resource.Descriptor{}, notFound(joined, "not a regular file", nil)
	}

	return resource.Descriptor{
		Name:        name,
		Source:      canonical,
		OutputPath:  filepath.ToSlash(decl.OutputPath()),
		Encoding:    decl.EncodingOrDefault(),
		Node:        n.ID,
		NodeVersion: strings.TrimSpace(n.Metadata.Version),
	}, nil
}
