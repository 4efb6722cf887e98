package graph

import (
	"fmt"

	"github.com/odvcencio/resources/pkg/resource"
)

// Memory is an in-memory Graph.
type Memory struct {
	nodes map[string]*memoryNode
}

type memoryNode struct {
	root string
	deps []string
	meta resource.Metadata
}

// NewMemory returns an empty in-memory graph.
func NewMemory() *Memory {
	return &Memory{nodes: make(map[string]*memoryNode)}
}

// AddNode registers id, replacing any previous registration.
func (m *Memory) AddNode(id, root string, meta resource.Metadata) {
	n, ok := m.nodes[id]
	if !ok {
		n = &memoryNode{}
		m.nodes[id] = n
	}
	n.root = root
	n.meta = meta
}

// AddEdge records that from depends on to. Both nodes must be registered
// before the graph is walked.
func (m *Memory) AddEdge(from, to string) {
	n, ok := m.nodes[from]
	if !ok {
		n = &memoryNode{}
		m.nodes[from] = n
	}
	n.deps = append(n.deps, to)
}

func (m *Memory) node(id string) (*memoryNode, error) {
	n, ok := m.nodes[id]
	if !ok || n.root == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	return n, nil
}

func (m *Memory) DirectDependencies(id string) ([]string, error) {
	n, err := m.node(id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), n.deps...), nil
}

func (m *Memory) RootDirectory(id string) (string, error) {
	n, err := m.node(id)
	if err != nil {
		return "", err
	}
	return n.root, nil
}

func (m *Memory) Metadata(id string) (resource.Metadata, error) {
	n, err := m.node(id)
	if err != nil {
		return resource.Metadata{}, err
	}
	return n.meta, nil
}
