package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/resource"
	"github.com/odvcencio/resources/pkg/selection"
)

var (
	ErrOutputConflict = errors.New("resources share an output path")
	ErrReservedPath   = errors.New("output path is reserved")
)

// Status says what happened to one materialized file.
type Status int

const (
	StatusCopied Status = iota
	StatusExisted
)

func (s Status) String() string {
	if s == StatusExisted {
		return "existed"
	}
	return "copied"
}

// File is one resource written (or found up to date) under the root.
type File struct {
	Name        string
	Node        string
	NodeVersion string
	Source      string
	OutputPath  string
	Destination string
	Encoding    resource.Encoding
	SHA256      digest.Sum
	Status      Status
}

// Summary describes a completed materialization.
type Summary struct {
	Root  string
	Files []File // sorted by resource name
}

// Options tunes Materialize.
type Options struct {
	// Workers bounds concurrent copies. Zero means runtime.NumCPU().
	Workers int
	// Reserved lists slash-separated paths under the root that no resource
	// may be written to.
	Reserved []string
	// OnFile, when set, is called once per materialized file. Calls may come
	// from several goroutines.
	OnFile func(File)
}

type job struct {
	sel  selection.Selected
	dest string
}

// Materialize copies every selected resource under root.
//
// All destinations are checked before anything is written: an output path
// that is absolute, climbs out of root, or resolves outside root through a
// symlink fails the call with a *resource.PathEscapesRootError and no files
// are written. The root is then created, even when nothing is selected.
// Copy failures do not stop other copies; they are returned together as a
// *resource.CopyFailuresError sorted by resource name.
func Materialize(ctx context.Context, root string, selected []selection.Selected, opts Options) (*Summary, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("materialize: resolve root %s: %w", root, err)
	}

	jobs, err := plan(absRoot, selected, opts.Reserved)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("materialize: create resource root %s: %w", absRoot, err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	files := make([]File, len(jobs))
	failures := make([]*resource.CopyFailure, len(jobs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = copyFailure(j, err)
				return nil
			}
			f, err := copyResource(j)
			if err != nil {
				failures[i] = copyFailure(j, err)
				return nil
			}
			files[i] = f
			if opts.OnFile != nil {
				opts.OnFile(f)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Root: absRoot}
	var failed []*resource.CopyFailure
	for i := range jobs {
		if failures[i] != nil {
			failed = append(failed, failures[i])
			continue
		}
		summary.Files = append(summary.Files, files[i])
	}
	sort.Slice(summary.Files, func(i, j int) bool { return summary.Files[i].Name < summary.Files[j].Name })

	if len(failed) > 0 {
		return summary, resource.NewCopyFailuresError(failed)
	}
	return summary, nil
}

// plan computes and checks every destination without touching the disk
// beyond resolving symlinks that already exist.
func plan(absRoot string, selected []selection.Selected, reserved []string) ([]job, error) {
	canonRoot, err := Canonicalize(absRoot)
	if err != nil {
		return nil, fmt.Errorf("materialize: canonicalize root %s: %w", absRoot, err)
	}

	reservedSet := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		reservedSet[path.Clean(filepath.ToSlash(r))] = struct{}{}
	}

	owners := make(map[string]string, len(selected))
	jobs := make([]job, 0, len(selected))
	for _, s := range selected {
		dest, err := Destination(absRoot, canonRoot, s.Descriptor)
		if err != nil {
			return nil, err
		}
		rel := path.Clean(filepath.ToSlash(s.OutputPath))
		if _, ok := reservedSet[rel]; ok {
			return nil, fmt.Errorf("%w: resource %q from %q cannot be written to %q", ErrReservedPath, s.Name, s.Node, s.OutputPath)
		}
		if other, ok := owners[rel]; ok {
			return nil, fmt.Errorf("%w: %q and %q both write %s", ErrOutputConflict, other, s.Name, dest)
		}
		owners[rel] = s.Name
		jobs = append(jobs, job{sel: s, dest: dest})
	}

	// A file cannot also be a directory holding another output.
	for _, j := range jobs {
		rel := path.Clean(filepath.ToSlash(j.sel.OutputPath))
		for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
			if other, ok := owners[dir]; ok {
				return nil, fmt.Errorf("%w: %q writes %s, which %q needs as a directory", ErrOutputConflict, other, dir, j.sel.Name)
			}
			if _, ok := reservedSet[dir]; ok {
				return nil, fmt.Errorf("%w: resource %q from %q would be written below %q", ErrReservedPath, j.sel.Name, j.sel.Node, dir)
			}
		}
	}
	for _, r := range reserved {
		r = path.Clean(filepath.ToSlash(r))
		for dir := path.Dir(r); dir != "."; dir = path.Dir(dir) {
			if other, ok := owners[dir]; ok {
				return nil, fmt.Errorf("%w: resource %q writes %s, which %s needs as a directory", ErrReservedPath, other, dir, r)
			}
		}
	}
	return jobs, nil
}

// Destination returns where d is written under root, or a
// *resource.PathEscapesRootError. canonRoot is root with symlinks resolved.
func Destination(root, canonRoot string, d resource.Descriptor) (string, error) {
	escape := func(reason string) error {
		return &resource.PathEscapesRootError{Name: d.Name, Node: d.Node, OutputPath: d.OutputPath, Root: root, Reason: reason}
	}

	rel := filepath.FromSlash(d.OutputPath)
	if strings.TrimSpace(rel) == "" {
		return "", escape("empty output path")
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" || strings.HasPrefix(d.OutputPath, "/") {
		return "", escape("absolute output path")
	}

	dest := filepath.Join(root, rel)
	if !within(root, dest) {
		return "", escape("parent directory segments")
	}
	canonDest, err := Canonicalize(dest)
	if err != nil {
		return "", escape(err.Error())
	}
	if !within(canonRoot, canonDest) {
		return "", escape("resolves through a symlink")
	}
	return dest, nil
}

// within reports whether p lies strictly below root.
func within(root, p string) bool {
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(p, prefix) && len(p) > len(prefix)
}

// Canonicalize resolves symlinks in the longest existing prefix of p and
// appends the remaining components unchanged.
func Canonicalize(p string) (string, error) {
	p = filepath.Clean(p)
	cur := p
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if _, statErr := os.Lstat(cur); statErr == nil {
			// cur exists but cannot be resolved, e.g. a dangling symlink.
			return "", fmt.Errorf("resolve %s: %w", cur, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

func copyFailure(j job, err error) *resource.CopyFailure {
	return &resource.CopyFailure{Name: j.sel.Name, Node: j.sel.Node, Destination: j.dest, Err: err}
}

// copyResource streams the source into a temporary file next to the
// destination, hashing as it goes, and renames it into place unless the
// destination already holds the same bytes.
func copyResource(j job) (File, error) {
	s := j.sel
	f := File{
		Name:        s.Name,
		Node:        s.Node,
		NodeVersion: s.NodeVersion,
		Source:      s.Source,
		OutputPath:  s.OutputPath,
		Destination: j.dest,
		Encoding:    s.Encoding,
	}

	dir := filepath.Dir(j.dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return f, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	src, err := os.Open(s.Source)
	if err != nil {
		return f, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return f, fmt.Errorf("stat source: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".resource-tmp-*")
	if err != nil {
		return f, fmt.Errorf("tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	hw := digest.NewWriter()
	if _, err := io.Copy(io.MultiWriter(tmp, hw), src); err != nil {
		cleanup()
		return f, fmt.Errorf("copy: %w", err)
	}
	f.SHA256 = hw.Sum()

	if s.RequiredSHA != "" && !f.SHA256.Equal(s.RequiredSHA) {
		cleanup()
		return f, &resource.IntegrityMismatchError{Name: s.Name, Node: s.Node, Source: s.Source, Want: s.RequiredSHA, Got: string(f.SHA256)}
	}

	if existing, err := digest.File(j.dest); err == nil && existing == f.SHA256 {
		cleanup()
		f.Status = StatusExisted
		return f, nil
	}

	if err := tmp.Chmod(permFromSource(info.Mode())); err != nil {
		cleanup()
		return f, fmt.Errorf("chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return f, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, j.dest); err != nil {
		os.Remove(tmpName)
		return f, fmt.Errorf("rename: %w", err)
	}
	f.Status = StatusCopied
	return f, nil
}

func permFromSource(mode os.FileMode) os.FileMode {
	if mode&0o111 != 0 {
		return 0o755
	}
	return 0o644
}
