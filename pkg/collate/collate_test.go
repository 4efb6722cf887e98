package collate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/graph"
	"github.com/odvcencio/resources/pkg/materialize"
	"github.com/odvcencio/resources/pkg/record"
	"github.com/odvcencio/resources/pkg/resource"
)

type recordingReporter struct {
	mu         sync.Mutex
	collected  []string
	collisions []resource.NameCollision
	empty      int
}

func (r *recordingReporter) ResourceCollected(f materialize.File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collected = append(r.collected, f.Name)
}

func (r *recordingReporter) NoResources() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.empty++
}

func (r *recordingReporter) Collision(c resource.NameCollision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collisions = append(r.collisions, c)
}

func writeCollateFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

// treeContents maps every file under root to its content.
func treeContents(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkDir(%s): %v", root, err)
	}
	return out
}

func provides(paths ...string) resource.Metadata {
	var m resource.Metadata
	for _, p := range paths {
		m.Provides = append(m.Provides, resource.Declaration{CratePath: p})
	}
	return m
}

func TestRunRootOnlyCreatesEmptyResourceRoot(t *testing.T) {
	dir := t.TempDir()
	g := graph.NewMemory()
	g.AddNode("app", dir, resource.Metadata{})
	rep := &recordingReporter{}

	opts := DefaultOptions()
	opts.Reporter = rep
	res, err := Run(context.Background(), g, "app", opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateMaterialized {
		t.Fatalf("state = %s, want materialized", res.State)
	}
	root := filepath.Join(dir, "target", "resources")
	if res.Plan.ResourceRoot != root {
		t.Fatalf("resource root = %q, want %q", res.Plan.ResourceRoot, root)
	}
	if got := treeContents(t, root); len(got) != 0 {
		t.Fatalf("resource root has files %v, want none", got)
	}
	if rep.empty != 1 {
		t.Fatalf("NoResources called %d times, want 1", rep.empty)
	}
	if res.RecordPath != "" {
		t.Fatalf("record written for empty run: %s", res.RecordPath)
	}
}

func TestRunDefaultModeCollatesEverythingReachable(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "app", "app.txt"), "app")
	writeCollateFile(t, filepath.Join(dir, "lib", "data", "lib.json"), "{}")
	writeCollateFile(t, filepath.Join(dir, "sibling", "sib.txt"), "sibling")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), provides("app.txt"))
	g.AddNode("lib", filepath.Join(dir, "lib"), provides("data/lib.json"))
	g.AddNode("sibling", filepath.Join(dir, "sibling"), provides("sib.txt"))
	g.AddEdge("app", "lib")
	g.AddEdge("sibling", "lib")

	res, err := Run(context.Background(), g, "app", DefaultOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := treeContents(t, res.Plan.ResourceRoot)
	if got["app.txt"] != "app" || got["data/lib.json"] != "{}" {
		t.Fatalf("tree = %v", got)
	}
	if _, ok := got["sib.txt"]; ok {
		t.Fatalf("workspace sibling resource was collated")
	}
	if _, ok := got[record.DefaultFileName]; !ok {
		t.Fatalf("record file missing from %v", got)
	}
	rec, err := record.Read(res.RecordPath)
	if err != nil {
		t.Fatalf("record.Read: %v", err)
	}
	if len(rec.Resources) != 2 {
		t.Fatalf("record has %d resources, want 2", len(rec.Resources))
	}
}

func TestRunCollisionWarnsOnceAndKeepsFirstProvider(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "a", "shared.txt"), "from a")
	writeCollateFile(t, filepath.Join(dir, "b", "shared.txt"), "from b")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{})
	g.AddNode("a", filepath.Join(dir, "a"), provides("shared.txt"))
	g.AddNode("b", filepath.Join(dir, "b"), provides("shared.txt"))
	g.AddEdge("app", "b")
	g.AddEdge("app", "a")

	for run := 0; run < 2; run++ {
		rep := &recordingReporter{}
		opts := DefaultOptions()
		opts.Reporter = rep
		res, err := Run(context.Background(), g, "app", opts)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(rep.collisions) != 1 {
			t.Fatalf("collisions reported = %d, want 1", len(rep.collisions))
		}
		if rep.collisions[0].KeptNode != "a" {
			t.Fatalf("kept = %q, want a", rep.collisions[0].KeptNode)
		}
		got := treeContents(t, res.Plan.ResourceRoot)
		if got["shared.txt"] != "from a" {
			t.Fatalf("shared.txt = %q, want %q", got["shared.txt"], "from a")
		}
	}
}

func TestRunStrictModeFailsOnCollision(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "a", "shared.txt"), "a")
	writeCollateFile(t, filepath.Join(dir, "b", "shared.txt"), "b")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{})
	g.AddNode("a", filepath.Join(dir, "a"), provides("shared.txt"))
	g.AddNode("b", filepath.Join(dir, "b"), provides("shared.txt"))
	g.AddEdge("app", "a")
	g.AddEdge("app", "b")

	opts := DefaultOptions()
	opts.Strict = true
	res, err := Run(context.Background(), g, "app", opts)
	if !errors.Is(err, resource.ErrNameCollision) {
		t.Fatalf("Run err = %v, want ErrNameCollision", err)
	}
	if res.State != StateFailed || res.FailedAt != StateRegistryBuilt {
		t.Fatalf("state = %s at %s, want failed at registry-built", res.State, res.FailedAt)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "target")); !os.IsNotExist(err) {
		t.Fatalf("strict failure wrote output")
	}
}

func TestRunUnsatisfiedRequirementWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "lib", "a.txt"), "a")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{
		Requires: []resource.Requirement{{ResourceName: "a.txt"}, {ResourceName: "ghost"}},
	})
	g.AddNode("lib", filepath.Join(dir, "lib"), provides("a.txt"))
	g.AddEdge("app", "lib")

	res, err := Run(context.Background(), g, "app", DefaultOptions())
	if !errors.Is(err, resource.ErrUnsatisfiedRequirement) {
		t.Fatalf("Run err = %v, want ErrUnsatisfiedRequirement", err)
	}
	if res.State != StateFailed || res.FailedAt != StateRegistryBuilt {
		t.Fatalf("state = %s at %s", res.State, res.FailedAt)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "target")); !os.IsNotExist(err) {
		t.Fatalf("output written despite unsatisfied requirement")
	}
}

func TestRunExplicitModeWithPinnedHash(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "lib", "a.txt"), "pinned content")
	writeCollateFile(t, filepath.Join(dir, "lib", "b.txt"), "not required")
	sum := digest.Bytes([]byte("pinned content"))

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{
		Requires: []resource.Requirement{{ResourceName: "a.txt", RequiredSHA: string(sum)}},
	})
	g.AddNode("lib", filepath.Join(dir, "lib"), provides("a.txt", "b.txt"))
	g.AddEdge("app", "lib")

	res, err := Run(context.Background(), g, "app", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := treeContents(t, res.Plan.ResourceRoot)
	if len(got) != 1 || got["a.txt"] != "pinned content" {
		t.Fatalf("tree = %v, want only a.txt", got)
	}

	writeCollateFile(t, filepath.Join(dir, "lib", "a.txt"), "Pinned content")
	_, err = Run(context.Background(), g, "app", Options{})
	if !errors.Is(err, resource.ErrIntegrityMismatch) {
		t.Fatalf("Run err = %v, want ErrIntegrityMismatch", err)
	}
}

func TestRunPathEscapeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "lib", "ok.txt"), "ok")
	writeCollateFile(t, filepath.Join(dir, "lib", "evil.txt"), "evil")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{})
	g.AddNode("lib", filepath.Join(dir, "lib"), resource.Metadata{Provides: []resource.Declaration{
		{CratePath: "ok.txt"},
		{CratePath: "evil.txt", Output: "../outside.txt"},
	}})
	g.AddEdge("app", "lib")

	res, err := Run(context.Background(), g, "app", DefaultOptions())
	if !errors.Is(err, resource.ErrPathEscapesRoot) {
		t.Fatalf("Run err = %v, want ErrPathEscapesRoot", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s, want failed", res.State)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "target", "resources")); !os.IsNotExist(err) {
		t.Fatalf("resource root created despite escape")
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "target", "outside.txt")); !os.IsNotExist(err) {
		t.Fatalf("escaping file written")
	}
}

func TestRunDiamondRegistersSharedResourceOnce(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "c", "c.txt"), "c")

	g := graph.NewMemory()
	g.AddNode("root", filepath.Join(dir, "root"), resource.Metadata{})
	g.AddNode("a", filepath.Join(dir, "a"), resource.Metadata{})
	g.AddNode("b", filepath.Join(dir, "b"), resource.Metadata{})
	g.AddNode("c", filepath.Join(dir, "c"), provides("c.txt"))
	g.AddEdge("root", "a")
	g.AddEdge("root", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "c")

	p, err := Prepare(context.Background(), g, "root", Options{})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if p.Registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", p.Registry.Len())
	}
	if len(p.Collisions) != 0 {
		t.Fatalf("diamond produced collisions: %v", p.Collisions)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "lib", "x", "one.txt"), "one")
	writeCollateFile(t, filepath.Join(dir, "lib", "two.bin"), "\x00\x01\x02")

	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{})
	g.AddNode("lib", filepath.Join(dir, "lib"), resource.Metadata{Provides: []resource.Declaration{
		{CratePath: "x/one.txt"},
		{CratePath: "two.bin", Encoding: resource.EncodingBinary},
	}})
	g.AddEdge("app", "lib")

	first, err := Run(context.Background(), g, "app", DefaultOptions())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before := treeContents(t, first.Plan.ResourceRoot)

	rep := &recordingReporter{}
	opts := DefaultOptions()
	opts.Reporter = rep
	second, err := Run(context.Background(), g, "app", opts)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after := treeContents(t, second.Plan.ResourceRoot)

	if len(before) != len(after) {
		t.Fatalf("tree sizes differ: %d vs %d", len(before), len(after))
	}
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("%s differs between runs", k)
		}
	}
	for _, f := range second.Summary.Files {
		if f.Status != materialize.StatusExisted {
			t.Fatalf("%s status = %s on second run, want existed", f.Name, f.Status)
		}
	}
	sort.Strings(rep.collected)
	if strings.Join(rep.collected, ",") != "one.txt,two.bin" {
		t.Fatalf("reported = %v", rep.collected)
	}
}

func TestRunResourceRootFromConsumerAndOverride(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "app", "a.txt"), "a")

	g := graph.NewMemory()
	meta := provides("a.txt")
	meta.ResourceRoot = "out/res"
	g.AddNode("app", filepath.Join(dir, "app"), meta)

	res, err := Run(context.Background(), g, "app", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := filepath.Join(dir, "app", "out", "res"); res.Plan.ResourceRoot != want {
		t.Fatalf("resource root = %q, want %q", res.Plan.ResourceRoot, want)
	}

	override := filepath.Join(dir, "elsewhere")
	res, err = Run(context.Background(), g, "app", Options{ResourceRoot: override})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Plan.ResourceRoot != override {
		t.Fatalf("resource root = %q, want %q", res.Plan.ResourceRoot, override)
	}
	if got := treeContents(t, override); got["a.txt"] != "a" {
		t.Fatalf("override tree = %v", got)
	}
}

func TestRunRejectsRecordOutsideRoot(t *testing.T) {
	g := graph.NewMemory()
	g.AddNode("app", t.TempDir(), resource.Metadata{})
	_, err := Run(context.Background(), g, "app", Options{RecordFile: "../record.json"})
	if err == nil {
		t.Fatalf("expected error for record outside root")
	}
}

func TestRunResourceNotFoundFailsBeforeCopy(t *testing.T) {
	dir := t.TempDir()
	writeCollateFile(t, filepath.Join(dir, "lib", "a.txt"), "a")
	g := graph.NewMemory()
	g.AddNode("app", filepath.Join(dir, "app"), resource.Metadata{})
	g.AddNode("lib", filepath.Join(dir, "lib"), provides("a.txt", "missing.txt"))
	g.AddEdge("app", "lib")

	res, err := Run(context.Background(), g, "app", DefaultOptions())
	if !errors.Is(err, resource.ErrResourceNotFound) {
		t.Fatalf("Run err = %v, want ErrResourceNotFound", err)
	}
	if res.FailedAt != StateGraphWalked {
		t.Fatalf("failed at %s, want graph-walked", res.FailedAt)
	}
	if !strings.Contains(err.Error(), "missing.txt") || !strings.Contains(err.Error(), `"lib"`) {
		t.Fatalf("error %q should name resource and node", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "target")); !os.IsNotExist(err) {
		t.Fatalf("output written despite missing resource")
	}
}

func TestResourceRootPrecedence(t *testing.T) {
	dir := t.TempDir()
	g := graph.NewMemory()
	g.AddNode("plain", filepath.Join(dir, "plain"), resource.Metadata{})
	g.AddNode("custom", filepath.Join(dir, "custom"), resource.Metadata{ResourceRoot: "assets/out"})

	tests := []struct {
		node     string
		override string
		want     string
	}{
		{node: "plain", want: filepath.Join(dir, "plain", "target", "resources")},
		{node: "custom", want: filepath.Join(dir, "custom", "assets", "out")},
		{node: "custom", override: "elsewhere", want: filepath.Join(dir, "custom", "elsewhere")},
		{node: "plain", override: filepath.Join(dir, "abs"), want: filepath.Join(dir, "abs")},
	}
	for _, tt := range tests {
		got, err := ResourceRoot(g, tt.node, tt.override)
		if err != nil {
			t.Fatalf("ResourceRoot(%s, %q): %v", tt.node, tt.override, err)
		}
		if got != tt.want {
			t.Fatalf("ResourceRoot(%s, %q) = %q, want %q", tt.node, tt.override, got, tt.want)
		}
	}

	if _, err := ResourceRoot(g, "missing", ""); !errors.Is(err, graph.ErrUnknownNode) {
		t.Fatalf("ResourceRoot(missing) error = %v, want ErrUnknownNode", err)
	}
}
