package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/odvcencio/resources/pkg/manifest"
)

// openWorkspace picks the consumer package. pkg may be a directory holding a
// manifest, which is loaded with everything it reaches, or the name of a
// package in the workspace of the current directory. Empty pkg means the
// package in the current directory.
func openWorkspace(pkg string) (*manifest.Workspace, string, error) {
	consumer := strings.TrimSpace(pkg)
	if consumer != "" && isPackageDir(consumer) {
		w, err := manifest.Load(consumer)
		if err != nil {
			return nil, "", err
		}
		return w, w.Root, nil
	}

	w, err := manifest.Load(".")
	if err != nil {
		return nil, "", err
	}
	if consumer == "" {
		return w, w.Root, nil
	}
	if _, ok := w.Package(consumer); !ok {
		return nil, "", fmt.Errorf("package %q is neither a package directory nor part of this workspace (have %s)", consumer, strings.Join(w.Packages(), ", "))
	}
	return w, consumer, nil
}

func isPackageDir(p string) bool {
	st, err := os.Stat(p)
	if err != nil || !st.IsDir() {
		return false
	}
	_, err = manifest.Find(p)
	return err == nil
}
