package resource

import (
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// DefaultResourceRoot is where resources are collated when the consumer does
// not say otherwise. It is relative to the consumer's root directory.
const DefaultResourceRoot = "target/resources"

// Encoding describes whether a resource is text or binary. The engine copies
// bytes verbatim either way; the hint is for producers and consumers.
type Encoding string

const (
	EncodingText   Encoding = "Text"
	EncodingBinary Encoding = "Binary"
)

// ParseEncoding parses an encoding hint. An empty string means Text.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return EncodingText, nil
	case "binary", "bin":
		return EncodingBinary, nil
	default:
		return "", fmt.Errorf("unknown encoding %q (want Text or Binary)", s)
	}
}

// Declaration is a resource a node provides.
type Declaration struct {
	ResourceName string
	CratePath    string
	Output       string
	Encoding     Encoding
}

// OutputPath returns the declared output path, or the crate path when none
// was declared.
func (d Declaration) OutputPath() string {
	if strings.TrimSpace(d.Output) != "" {
		return d.Output
	}
	return d.CratePath
}

// Name returns the declared resource name, or the last segment of the output
// path when none was declared.
func (d Declaration) Name() string {
	if name := strings.TrimSpace(d.ResourceName); name != "" {
		return name
	}
	return lastSegment(d.OutputPath())
}

// EncodingOrDefault returns the declared encoding, defaulting to Text.
func (d Declaration) EncodingOrDefault() Encoding {
	if d.Encoding == "" {
		return EncodingText
	}
	return d.Encoding
}

// Validate checks the declaration in isolation. Existence of the crate path
// is checked later, by the registry builder.
func (d Declaration) Validate() error {
	if strings.TrimSpace(d.CratePath) == "" {
		return fmt.Errorf("%w: crate_path is required", ErrMalformedDeclaration)
	}
	if d.Name() == "" {
		return fmt.Errorf("%w: cannot derive a resource name from %q", ErrMalformedDeclaration, d.OutputPath())
	}
	if d.Encoding != "" && d.Encoding != EncodingText && d.Encoding != EncodingBinary {
		return fmt.Errorf("%w: resource %q: unknown encoding %q", ErrMalformedDeclaration, d.Name(), d.Encoding)
	}
	return nil
}

// Requirement is a consumer's request for a named resource, optionally pinned
// to the SHA-256 of its content.
type Requirement struct {
	ResourceName string
	RequiredSHA  string
}

// Pinned reports whether the requirement carries a content hash.
func (r Requirement) Pinned() bool {
	return strings.TrimSpace(r.RequiredSHA) != ""
}

// Validate checks the requirement has a name and a well-formed hash.
func (r Requirement) Validate() error {
	if strings.TrimSpace(r.ResourceName) == "" {
		return fmt.Errorf("%w: resource_name is required", ErrMalformedDeclaration)
	}
	if !r.Pinned() {
		return nil
	}
	sha := strings.TrimSpace(r.RequiredSHA)
	if len(sha) != 64 {
		return fmt.Errorf("%w: resource %q: required_sha must be 64 hex characters, got %d", ErrMalformedDeclaration, r.ResourceName, len(sha))
	}
	if _, err := hex.DecodeString(sha); err != nil {
		return fmt.Errorf("%w: resource %q: required_sha is not hex: %v", ErrMalformedDeclaration, r.ResourceName, err)
	}
	return nil
}

// Metadata is everything a node declares about resources.
type Metadata struct {
	Version      string // optional, copied into the record
	Provides     []Declaration
	Requires     []Requirement
	ResourceRoot string
}

// Descriptor is the resolved, canonical form of a provided declaration.
type Descriptor struct {
	Name        string
	Source      string // absolute, canonical
	OutputPath  string // slash-separated, relative to the resource root
	Encoding    Encoding
	Node        string
	NodeVersion string
}

func lastSegment(p string) string {
	p = strings.TrimRight(filepath.ToSlash(p), "/")
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}
