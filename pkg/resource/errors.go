package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrMalformedDeclaration   = errors.New("malformed resource declaration")
	ErrResourceNotFound       = errors.New("resource not found")
	ErrUnsatisfiedRequirement = errors.New("unsatisfied resource requirement")
	ErrIntegrityMismatch      = errors.New("resource integrity mismatch")
	ErrPathEscapesRoot        = errors.New("resource output path escapes resource root")
	ErrCopyFailure            = errors.New("resource copy failed")
	ErrNameCollision          = errors.New("duplicate resource name")
)

// ResourceNotFoundError reports a declared crate path that does not resolve
// to a file under the declaring node's root.
type ResourceNotFoundError struct {
	Name   string
	Node   string
	Path   string
	Reason string
	Err    error
}

func (e *ResourceNotFoundError) Error() string {
	msg := fmt.Sprintf("%s: resource %q declared by %q at %s", ErrResourceNotFound, e.Name, e.Node, e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ResourceNotFoundError) Unwrap() error { return e.Err }

func (e *ResourceNotFoundError) Is(target error) bool { return target == ErrResourceNotFound }

// UnsatisfiedRequirementError reports a required resource that no reachable
// node provides.
type UnsatisfiedRequirementError struct {
	Name     string
	Consumer string
}

func (e *UnsatisfiedRequirementError) Error() string {
	return fmt.Sprintf("%s: %q requires resource %q but no reachable dependency provides it", ErrUnsatisfiedRequirement, e.Consumer, e.Name)
}

func (e *UnsatisfiedRequirementError) Is(target error) bool { return target == ErrUnsatisfiedRequirement }

// IntegrityMismatchError reports a pinned hash that does not match the
// provider's content.
type IntegrityMismatchError struct {
	Name   string
	Node   string
	Source string
	Want   string
	Got    string
}

func (e *IntegrityMismatchError) Error() string {
	return fmt.Sprintf("%s: resource %q from %q (%s): required sha256 %s, found %s", ErrIntegrityMismatch, e.Name, e.Node, e.Source, strings.ToLower(e.Want), e.Got)
}

func (e *IntegrityMismatchError) Is(target error) bool { return target == ErrIntegrityMismatch }

// PathEscapesRootError reports an output path that would land outside the
// resource root.
type PathEscapesRootError struct {
	Name       string
	Node       string
	OutputPath string
	Root       string
	Reason     string
}

func (e *PathEscapesRootError) Error() string {
	msg := fmt.Sprintf("%s: resource %q from %q has output path %q outside %s", ErrPathEscapesRoot, e.Name, e.Node, e.OutputPath, e.Root)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

func (e *PathEscapesRootError) Is(target error) bool { return target == ErrPathEscapesRoot }

// CopyFailure is one resource that could not be materialized.
type CopyFailure struct {
	Name        string
	Node        string
	Destination string
	Err         error
}

func (e *CopyFailure) Error() string {
	return fmt.Sprintf("copy resource %q from %q to %s: %v", e.Name, e.Node, e.Destination, e.Err)
}

func (e *CopyFailure) Unwrap() error { return e.Err }

func (e *CopyFailure) Is(target error) bool { return target == ErrCopyFailure }

// CopyFailuresError aggregates every failed copy of one run, sorted by
// resource name.
type CopyFailuresError struct {
	Failures []*CopyFailure
}

// NewCopyFailuresError sorts failures by resource name, then destination.
func NewCopyFailuresError(failures []*CopyFailure) *CopyFailuresError {
	sorted := append([]*CopyFailure(nil), failures...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Destination < sorted[j].Destination
	})
	return &CopyFailuresError{Failures: sorted}
}

func (e *CopyFailuresError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d resource(s) could not be collated", ErrCopyFailure, len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *CopyFailuresError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// NameCollision records a second provider for an already registered name.
// The first provider is kept.
type NameCollision struct {
	Name        string
	KeptNode    string
	KeptSource  string
	DroppedNode string
	DroppedPath string
}

func (c NameCollision) String() string {
	return fmt.Sprintf("duplicate resource %q: keeping %s (%s), ignoring %s (%s)", c.Name, c.KeptNode, c.KeptSource, c.DroppedNode, c.DroppedPath)
}

// CollisionError is returned in strict mode when any collision was found.
type CollisionError struct {
	Collisions []NameCollision
}

func (e *CollisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d collision(s)", ErrNameCollision, len(e.Collisions))
	for _, c := range e.Collisions {
		b.WriteString("\n  ")
		b.WriteString(c.String())
	}
	return b.String()
}

func (e *CollisionError) Is(target error) bool { return target == ErrNameCollision }
