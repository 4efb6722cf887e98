// Package drift compares a resource root with the sources it was collated
// from, without writing anything.
package drift

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"

	difflib "github.com/pmezard/go-difflib/difflib"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/materialize"
	"github.com/odvcencio/resources/pkg/resource"
	"github.com/odvcencio/resources/pkg/selection"
)

// State is the condition of one materialized resource.
type State int

const (
	Current State = iota
	Stale
	Missing
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Missing:
		return "missing"
	default:
		return "current"
	}
}

// maxDiffBytes bounds the input to a text diff.
const maxDiffBytes = 1 << 20

// Entry is the drift state of one selected resource.
type Entry struct {
	Name        string
	Node        string
	OutputPath  string
	Destination string
	State       State
	Want        digest.Sum
	Got         digest.Sum
	Diff        string // unified diff, Text resources only
}

// Report is the result of Check.
type Report struct {
	Root    string
	Entries []Entry
}

// Clean reports whether every resource is current.
func (r *Report) Clean() bool {
	for _, e := range r.Entries {
		if e.State != Current {
			return false
		}
	}
	return true
}

// Count returns how many entries are in state s.
func (r *Report) Count(s State) int {
	n := 0
	for _, e := range r.Entries {
		if e.State == s {
			n++
		}
	}
	return n
}

// Check hashes every selected source and the file it would be written to
// under root. Destinations are checked for containment exactly as the
// materializer checks them.
func Check(root string, selected []selection.Selected) (*Report, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("drift: resolve root %s: %w", root, err)
	}
	canonRoot, err := materialize.Canonicalize(absRoot)
	if err != nil {
		return nil, fmt.Errorf("drift: canonicalize root %s: %w", absRoot, err)
	}

	report := &Report{Root: absRoot}
	for _, s := range selected {
		dest, err := materialize.Destination(absRoot, canonRoot, s.Descriptor)
		if err != nil {
			return nil, err
		}
		want, err := digest.File(s.Source)
		if err != nil {
			return nil, &resource.ResourceNotFoundError{Name: s.Name, Node: s.Node, Path: s.Source, Err: err}
		}

		e := Entry{Name: s.Name, Node: s.Node, OutputPath: s.OutputPath, Destination: dest, Want: want}
		got, err := digest.File(dest)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			e.State = Missing
		case err != nil:
			return nil, fmt.Errorf("drift: %w", err)
		case got == want:
			e.State = Current
			e.Got = got
		default:
			e.State = Stale
			e.Got = got
			if s.Encoding != resource.EncodingBinary {
				e.Diff, err = textDiff(dest, s.Source)
				if err != nil {
					return nil, err
				}
			}
		}
		report.Entries = append(report.Entries, e)
	}
	return report, nil
}

func textDiff(dest, source string) (string, error) {
	old, err := os.ReadFile(dest)
	if err != nil {
		return "", fmt.Errorf("drift: read %s: %w", dest, err)
	}
	cur, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("drift: read %s: %w", source, err)
	}
	if len(old)+len(cur) > maxDiffBytes || !utf8.Valid(old) || !utf8.Valid(cur) {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(cur)),
		FromFile: dest,
		ToFile:   source,
		Context:  3,
	})
}
