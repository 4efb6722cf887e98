// Package record writes and reads the list of resources a collation run
// resolved, so that later tools can tell what is in a resource root and where
// it came from.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/materialize"
	"github.com/odvcencio/resources/pkg/resource"
)

// DefaultFileName is the record written into the resource root.
const DefaultFileName = "resolved_resources.json"

const currentVersion = 1

// Entry is one resolved resource.
type Entry struct {
	Name        string            `json:"resource_name"`
	Node        string            `json:"declaring_node"`
	NodeVersion string            `json:"declaring_node_version,omitempty"`
	Source      string            `json:"source_path"`
	OutputPath  string            `json:"output_path"`
	Encoding    resource.Encoding `json:"encoding"`
	SHA256      digest.Sum        `json:"sha256"`
}

// Record lists every resource of one collation run, sorted by name.
type Record struct {
	Version   int     `json:"version"`
	Resources []Entry `json:"resources"`
	Signature string  `json:"signature,omitempty"`
}

// FromSummary builds a record from a materialization summary.
func FromSummary(s *materialize.Summary) *Record {
	rec := &Record{Version: currentVersion}
	if s == nil {
		return rec
	}
	for _, f := range s.Files {
		rec.Resources = append(rec.Resources, Entry{
			Name:        f.Name,
			Node:        f.Node,
			NodeVersion: f.NodeVersion,
			Source:      f.Source,
			OutputPath:  f.OutputPath,
			Encoding:    f.Encoding,
			SHA256:      f.SHA256,
		})
	}
	return rec
}

// Payload returns the canonical bytes that are signed for rec. The signature
// field itself is excluded.
func Payload(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("record payload: nil record")
	}
	unsigned := *rec
	unsigned.Signature = ""
	return json.Marshal(&unsigned)
}

// Write atomically writes rec to path.
func Write(path string, rec *Record) error {
	if rec == nil {
		rec = &Record{Version: currentVersion}
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("write record: marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-tmp-*")
	if err != nil {
		return fmt.Errorf("write record: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record: write: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write record: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write record: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write record: rename: %w", err)
	}
	return nil
}

// Read loads a record from path.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("read record: unmarshal: %w", err)
	}
	return &rec, nil
}

// FileMismatch is a recorded resource whose file no longer matches.
type FileMismatch struct {
	Name       string
	OutputPath string
	Want       digest.Sum
	Got        digest.Sum // empty when the file is missing
	Err        error
}

// VerifyFiles re-hashes every recorded output under root.
func VerifyFiles(root string, rec *Record) ([]FileMismatch, error) {
	if rec == nil {
		return nil, fmt.Errorf("verify files: nil record")
	}
	var out []FileMismatch
	for _, e := range rec.Resources {
		rel := filepath.FromSlash(e.OutputPath)
		if !filepath.IsLocal(rel) {
			out = append(out, FileMismatch{Name: e.Name, OutputPath: e.OutputPath, Want: e.SHA256, Err: fmt.Errorf("%w: %q", resource.ErrPathEscapesRoot, e.OutputPath)})
			continue
		}
		path := filepath.Join(root, rel)
		sum, err := digest.File(path)
		if err != nil {
			out = append(out, FileMismatch{Name: e.Name, OutputPath: e.OutputPath, Want: e.SHA256, Err: err})
			continue
		}
		if sum != e.SHA256 {
			out = append(out, FileMismatch{Name: e.Name, OutputPath: e.OutputPath, Want: e.SHA256, Got: sum})
		}
	}
	return out, nil
}
