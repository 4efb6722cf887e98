// Package bundle packs a collated resource tree into a single zstd-compressed
// tar stream. Bundles are reproducible: entries are sorted, timestamps and
// ownership are zeroed.
package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// File is one bundle entry.
type File struct {
	Path string // slash-separated, relative to the bundle root
	Mode int64
	Data []byte
}

// Write bundles the given slash-separated paths under root into w.
func Write(w io.Writer, root string, paths []string) error {
	sorted := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		p = path.Clean(filepath.ToSlash(p))
		if p == "." || strings.HasPrefix(p, "../") || p == ".." || path.IsAbs(p) {
			return fmt.Errorf("bundle: path %q is not inside the bundle root", p)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("bundle: zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)
	for _, p := range sorted {
		if err := addFile(tw, root, p); err != nil {
			tw.Close()
			enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return fmt.Errorf("bundle: close tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("bundle: close zstd: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, root, p string) error {
	full := filepath.Join(root, filepath.FromSlash(p))
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("bundle: open %s: %w", p, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("bundle: stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("bundle: %s is not a regular file", p)
	}

	mode := int64(0o644)
	if info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     p,
		Mode:     mode,
		Size:     info.Size(),
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("bundle: header %s: %w", p, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("bundle: copy %s: %w", p, err)
	}
	return nil
}

// Read decodes every entry of a bundle.
func Read(r io.Reader) ([]File, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("bundle: zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	var out []File
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bundle: read entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("bundle: read %s: %w", hdr.Name, err)
		}
		out = append(out, File{Path: hdr.Name, Mode: hdr.Mode, Data: data})
	}
	return out, nil
}

// WriteFile writes a bundle to path atomically.
func WriteFile(path, root string, paths []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundle: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".bundle-tmp-*")
	if err != nil {
		return fmt.Errorf("bundle: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if err := Write(tmp, root, paths); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bundle: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("bundle: rename: %w", err)
	}
	return nil
}
