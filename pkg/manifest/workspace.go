package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/resources/pkg/graph"
	"github.com/odvcencio/resources/pkg/resource"
)

var ErrDuplicatePackage = errors.New("duplicate package name")

// Workspace is every package reachable from a directory: the package itself,
// its workspace members and, transitively, their path dependencies. Node IDs
// are package names.
type Workspace struct {
	Root string

	byName map[string]*Manifest
	byDir  map[string]*Manifest
}

var _ graph.Graph = (*Workspace)(nil)

// Load reads the package at dir and everything it can reach.
func Load(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	abs = filepath.Clean(abs)

	w := &Workspace{
		byName: make(map[string]*Manifest),
		byDir:  make(map[string]*Manifest),
	}
	root, err := w.load(abs)
	if err != nil {
		return nil, err
	}
	w.Root = root.Name

	queue := append([]Dependency(nil), root.Dependencies...)
	members, err := memberDirs(root)
	if err != nil {
		return nil, err
	}
	for _, d := range members {
		queue = append(queue, Dependency{Name: filepath.Base(d), Dir: d})
	}

	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if _, ok := w.byDir[dep.Dir]; ok {
			continue
		}
		m, err := w.load(dep.Dir)
		if err != nil {
			return nil, err
		}
		queue = append(queue, m.Dependencies...)
	}
	return w, nil
}

func (w *Workspace) load(dir string) (*Manifest, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	m, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = filepath.Base(m.Dir)
	}
	if prev, ok := w.byName[m.Name]; ok && prev.Dir != m.Dir {
		return nil, fmt.Errorf("%w %q: %s and %s", ErrDuplicatePackage, m.Name, prev.Path, m.Path)
	}
	w.byName[m.Name] = m
	w.byDir[m.Dir] = m
	return m, nil
}

// memberDirs expands the root's workspace member globs. Matches that are not
// directories holding a manifest are ignored.
func memberDirs(root *Manifest) ([]string, error) {
	var out []string
	for _, pattern := range root.Members {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(root.Dir, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("workspace member %q: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, match := range matches {
			st, err := os.Stat(match)
			if err != nil || !st.IsDir() {
				continue
			}
			if _, err := Find(match); err != nil {
				continue
			}
			out = append(out, filepath.Clean(match))
		}
	}
	return out, nil
}

// Package returns the manifest for name.
func (w *Workspace) Package(name string) (*Manifest, bool) {
	m, ok := w.byName[name]
	return m, ok
}

// Packages returns every loaded package name, sorted.
func (w *Workspace) Packages() []string {
	out := make([]string, 0, len(w.byName))
	for name := range w.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (w *Workspace) manifest(id string) (*Manifest, error) {
	m, ok := w.byName[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownNode, id)
	}
	return m, nil
}

// DirectDependencies maps each path dependency to the name of the package
// found in its directory, which may differ from the key it was declared
// under.
func (w *Workspace) DirectDependencies(id string) ([]string, error) {
	m, err := w.manifest(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		dep, ok := w.byDir[d.Dir]
		if !ok {
			return nil, fmt.Errorf("%s: dependency %q at %s was not loaded", id, d.Name, d.Dir)
		}
		out = append(out, dep.Name)
	}
	return out, nil
}

func (w *Workspace) RootDirectory(id string) (string, error) {
	m, err := w.manifest(id)
	if err != nil {
		return "", err
	}
	return m.Dir, nil
}

func (w *Workspace) Metadata(id string) (resource.Metadata, error) {
	m, err := w.manifest(id)
	if err != nil {
		return resource.Metadata{}, err
	}
	return m.Metadata, nil
}
