// Package graph walks a dependency graph owned by someone else. The engine
// only ever asks three questions of it: what a node depends on, where the
// node lives on disk, and what it declares about resources.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/resources/pkg/resource"
)

var ErrUnknownNode = errors.New("unknown dependency node")

// Graph is a read-only view of a resolved dependency graph.
type Graph interface {
	DirectDependencies(id string) ([]string, error)
	RootDirectory(id string) (string, error)
	Metadata(id string) (resource.Metadata, error)
}

// Node is one reachable node paired with its root directory.
type Node struct {
	ID       string
	Root     string
	Metadata resource.Metadata
}

// Walk returns every node reachable from root, root first, in depth-first
// pre-order. Children are visited in ascending ID order so that the result
// does not depend on how the graph stores its edges. Each node appears once
// however many paths lead to it.
func Walk(g Graph, root string) ([]Node, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("walk: root node is required")
	}

	visited := make(map[string]struct{})
	var out []Node

	// Explicit stack; children are pushed in reverse so the smallest ID pops
	// first.
	stack := []string{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}

		dir, err := g.RootDirectory(id)
		if err != nil {
			return nil, fmt.Errorf("walk %s: root directory: %w", id, err)
		}
		meta, err := g.Metadata(id)
		if err != nil {
			return nil, fmt.Errorf("walk %s: metadata: %w", id, err)
		}
		out = append(out, Node{ID: id, Root: dir, Metadata: meta})

		deps, err := g.DirectDependencies(id)
		if err != nil {
			return nil, fmt.Errorf("walk %s: dependencies: %w", id, err)
		}
		deps = uniqueSorted(deps)
		for i := len(deps) - 1; i >= 0; i-- {
			if _, ok := visited[deps[i]]; !ok {
				stack = append(stack, deps[i])
			}
		}
	}
	return out, nil
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
