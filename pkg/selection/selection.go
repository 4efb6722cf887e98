package selection

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/registry"
	"github.com/odvcencio/resources/pkg/resource"
)

// Mode is how the selection was made.
type Mode int

const (
	// ModeDefault selects everything in the registry.
	ModeDefault Mode = iota
	// ModeExplicit selects only what the consumer requires.
	ModeExplicit
)

func (m Mode) String() string {
	if m == ModeExplicit {
		return "explicit"
	}
	return "default"
}

// Selected is a descriptor chosen for materialization. RequiredSHA is set
// when the consumer pinned the resource's content.
type Selected struct {
	resource.Descriptor
	RequiredSHA string
}

// Resolve picks the resources to materialize for consumer. With no
// requirements every registered resource is selected; otherwise each
// requirement must name a registered resource, and pinned requirements must
// match the source's SHA-256. The result follows registry order.
func Resolve(reg *registry.Registry, consumer string, requires []resource.Requirement) ([]Selected, Mode, error) {
	if len(requires) == 0 {
		descs := reg.Descriptors()
		out := make([]Selected, len(descs))
		for i, d := range descs {
			out[i] = Selected{Descriptor: d}
		}
		return out, ModeDefault, nil
	}

	pins := make(map[string]string, len(requires))
	var out []Selected
	for _, req := range requires {
		if err := req.Validate(); err != nil {
			return nil, ModeExplicit, fmt.Errorf("consumer %q: %w", consumer, err)
		}
		name := strings.TrimSpace(req.ResourceName)
		pin := strings.ToLower(strings.TrimSpace(req.RequiredSHA))

		if prev, seen := pins[name]; seen {
			if prev != pin && prev != "" && pin != "" {
				return nil, ModeExplicit, fmt.Errorf("consumer %q: %w: resource %q is required twice with different required_sha", consumer, resource.ErrMalformedDeclaration, name)
			}
			if prev == "" && pin != "" {
				pins[name] = pin
				for i := range out {
					if out[i].Name == name {
						out[i].RequiredSHA = pin
					}
				}
			}
			continue
		}

		d, ok := reg.Lookup(name)
		if !ok {
			return nil, ModeExplicit, &resource.UnsatisfiedRequirementError{Name: name, Consumer: consumer}
		}
		pins[name] = pin
		out = append(out, Selected{Descriptor: d, RequiredSHA: pin})
	}

	for _, s := range out {
		if s.RequiredSHA == "" {
			continue
		}
		if err := VerifyPin(s); err != nil {
			return nil, ModeExplicit, err
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return reg.Index(out[i].Name) < reg.Index(out[j].Name)
	})
	return out, ModeExplicit, nil
}

// VerifyPin hashes the selected resource's source and compares it with the
// pinned digest.
func VerifyPin(s Selected) error {
	sum, err := digest.File(s.Source)
	if err != nil {
		return &resource.ResourceNotFoundError{Name: s.Name, Node: s.Node, Path: s.Source, Err: err}
	}
	if !sum.Equal(s.RequiredSHA) {
		return &resource.IntegrityMismatchError{
			Name:   s.Name,
			Node:   s.Node,
			Source: s.Source,
			Want:   s.RequiredSHA,
			Got:    string(sum),
		}
	}
	return nil
}
