package manifest

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

func parseTOML(data []byte) (*Manifest, error) {
	var raw rawManifest
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("decode toml: %w", err)
	}
	return raw.toManifest()
}

func parseYAML(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return raw.toManifest()
}

type hclManifest struct {
	Name         string          `hcl:"name,optional"`
	Version      string          `hcl:"version,optional"`
	Members      []string        `hcl:"members,optional"`
	ResourceRoot string          `hcl:"resource_root,optional"`
	Dependencies []hclDependency `hcl:"dependency,block"`
	Provides     []hclProvide    `hcl:"provides,block"`
	Requires     []hclRequire    `hcl:"requires,block"`
}

type hclDependency struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path,optional"`
}

type hclProvide struct {
	ResourceName string `hcl:"resource_name,optional"`
	CratePath    string `hcl:"crate_path"`
	OutputPath   string `hcl:"output_path,optional"`
	Encoding     string `hcl:"encoding,optional"`
}

type hclRequire struct {
	ResourceName string `hcl:"resource_name"`
	RequiredSHA  string `hcl:"required_sha,optional"`
}

func parseHCL(data []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse hcl: %w", diags)
	}
	var raw hclManifest
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decode hcl: %w", diags)
	}

	m := &Manifest{
		Name:    strings.TrimSpace(raw.Name),
		Members: raw.Members,
	}
	for _, d := range raw.Dependencies {
		if strings.TrimSpace(d.Path) == "" {
			continue
		}
		m.Dependencies = append(m.Dependencies, Dependency{Name: d.Name, Path: d.Path})
	}

	provides := make([]rawProvide, len(raw.Provides))
	for i, p := range raw.Provides {
		provides[i] = rawProvide(p)
	}
	requires := make([]rawRequire, len(raw.Requires))
	for i, r := range raw.Requires {
		requires[i] = rawRequire(r)
	}
	meta, err := convertResources(m.Name, raw.ResourceRoot, provides, requires)
	if err != nil {
		return nil, err
	}
	meta.Version = strings.TrimSpace(raw.Version)
	m.Metadata = meta
	return m, nil
}
