// Package manifest reads package manifests from disk and exposes them as a
// dependency graph. A package directory holds exactly one of resources.toml,
// resources.yaml (or .yml) or resources.hcl; the first found in that order
// wins.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/odvcencio/resources/pkg/resource"
)

const (
	FileTOML = "resources.toml"
	FileYAML = "resources.yaml"
	FileYML  = "resources.yml"
	FileHCL  = "resources.hcl"
)

var ErrNoManifest = errors.New("no resources manifest")

// Dependency is a path dependency declared by a package.
type Dependency struct {
	Name string
	Path string // as declared, relative to the manifest directory
	Dir  string // absolute
}

// Manifest is one parsed package manifest.
type Manifest struct {
	Name         string
	Dir          string
	Path         string
	Members      []string
	Dependencies []Dependency
	Metadata     resource.Metadata
}

// rawManifest is the shape shared by the TOML and YAML formats.
type rawManifest struct {
	Package struct {
		Name    string `toml:"name" yaml:"name"`
		Version string `toml:"version" yaml:"version"`
	} `toml:"package" yaml:"package"`
	Workspace struct {
		Members []string `toml:"members" yaml:"members"`
	} `toml:"workspace" yaml:"workspace"`
	Dependencies map[string]any `toml:"dependencies" yaml:"dependencies"`
	Resources    rawResources   `toml:"resources" yaml:"resources"`
}

type rawResources struct {
	ResourceRoot string       `toml:"resource_root" yaml:"resource_root"`
	Provides     []rawProvide `toml:"provides" yaml:"provides"`
	Requires     []rawRequire `toml:"requires" yaml:"requires"`
}

type rawProvide struct {
	ResourceName string `toml:"resource_name" yaml:"resource_name"`
	CratePath    string `toml:"crate_path" yaml:"crate_path"`
	OutputPath   string `toml:"output_path" yaml:"output_path"`
	Encoding     string `toml:"encoding" yaml:"encoding"`
}

type rawRequire struct {
	ResourceName string `toml:"resource_name" yaml:"resource_name"`
	RequiredSHA  string `toml:"required_sha" yaml:"required_sha"`
}

// Find returns the manifest path in dir.
func Find(dir string) (string, error) {
	for _, name := range []string{FileTOML, FileYAML, FileYML, FileHCL} {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

// ReadFile parses the manifest at path, choosing the format by file name.
func ReadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m *Manifest
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".toml":
		m, err = parseTOML(data)
	case ".yaml", ".yml":
		m, err = parseYAML(data)
	case ".hcl":
		m, err = parseHCL(data, abs)
	default:
		return nil, fmt.Errorf("read manifest %s: unsupported format", abs)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", abs, err)
	}

	m.Path = abs
	m.Dir = filepath.Dir(abs)
	for i := range m.Dependencies {
		m.Dependencies[i].Dir = filepath.Clean(filepath.Join(m.Dir, filepath.FromSlash(m.Dependencies[i].Path)))
	}
	return m, nil
}

func (r *rawManifest) toManifest() (*Manifest, error) {
	m := &Manifest{
		Name:    strings.TrimSpace(r.Package.Name),
		Members: r.Workspace.Members,
	}
	deps, err := pathDependencies(r.Dependencies)
	if err != nil {
		return nil, err
	}
	m.Dependencies = deps

	meta, err := convertResources(m.Name, r.Resources.ResourceRoot, r.Resources.Provides, r.Resources.Requires)
	if err != nil {
		return nil, err
	}
	meta.Version = strings.TrimSpace(r.Package.Version)
	m.Metadata = meta
	return m, nil
}

// pathDependencies keeps the dependencies that point at a local directory.
// Registry-only dependencies (a bare version string, or a table without a
// path) have no resources on disk and are skipped.
func pathDependencies(raw map[string]any) ([]Dependency, error) {
	var out []Dependency
	for name, v := range raw {
		switch dep := v.(type) {
		case string:
			continue
		case map[string]any:
			p, ok := dep["path"]
			if !ok {
				continue
			}
			ps, ok := p.(string)
			if !ok || strings.TrimSpace(ps) == "" {
				return nil, fmt.Errorf("dependency %q: path must be a non-empty string", name)
			}
			out = append(out, Dependency{Name: name, Path: ps})
		default:
			return nil, fmt.Errorf("dependency %q: unsupported declaration %T", name, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func convertResources(pkg, root string, provides []rawProvide, requires []rawRequire) (resource.Metadata, error) {
	meta := resource.Metadata{ResourceRoot: strings.TrimSpace(root)}
	for i, p := range provides {
		enc, err := resource.ParseEncoding(p.Encoding)
		if err != nil {
			return resource.Metadata{}, fmt.Errorf("%w in %s: provides[%d]: %v", resource.ErrMalformedDeclaration, pkg, i, err)
		}
		d := resource.Declaration{
			ResourceName: strings.TrimSpace(p.ResourceName),
			CratePath:    strings.TrimSpace(p.CratePath),
			Output:       strings.TrimSpace(p.OutputPath),
			Encoding:     enc,
		}
		if err := d.Validate(); err != nil {
			return resource.Metadata{}, fmt.Errorf("%s: provides[%d]: %w", pkg, i, err)
		}
		meta.Provides = append(meta.Provides, d)
	}
	for i, r := range requires {
		req := resource.Requirement{
			ResourceName: strings.TrimSpace(r.ResourceName),
			RequiredSHA:  strings.TrimSpace(r.RequiredSHA),
		}
		if err := req.Validate(); err != nil {
			return resource.Metadata{}, fmt.Errorf("%s: requires[%d]: %w", pkg, i, err)
		}
		meta.Requires = append(meta.Requires, req)
	}
	return meta, nil
}
