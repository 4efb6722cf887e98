package record

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/resources/pkg/digest"
	"github.com/odvcencio/resources/pkg/materialize"
)

func sampleRecord() *Record {
	return FromSummary(&materialize.Summary{Files: []materialize.File{
		{Name: "a", Node: "lib", NodeVersion: "1.2.0", Source: "/src/a.txt", OutputPath: "a.txt", Encoding: "Text", SHA256: digest.Bytes([]byte("a"))},
		{Name: "b", Node: "lib", Source: "/src/b.bin", OutputPath: "bin/b.bin", Encoding: "Binary", SHA256: digest.Bytes([]byte("b"))},
	}})
}

func newTestSigner(t *testing.T) (Signer, ssh.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	return SignerFromSSH(s), s.PublicKey(), priv
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	rec := sampleRecord()
	if err := Write(path, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Version != currentVersion || len(got.Resources) != 2 {
		t.Fatalf("record = %+v, want version %d with 2 resources", got, currentVersion)
	}
	if got.Resources[1].OutputPath != "bin/b.bin" || got.Resources[1].Encoding != "Binary" {
		t.Fatalf("second entry = %+v", got.Resources[1])
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, pub, _ := newTestSigner(t)
	rec := sampleRecord()
	if err := Sign(rec, signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := Write(path, rec); err != nil {
		t.Fatal(err)
	}
	loaded, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Verify(loaded, pub)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ssh.FingerprintSHA256(got) != ssh.FingerprintSHA256(pub) {
		t.Fatalf("verified key %s, want %s", ssh.FingerprintSHA256(got), ssh.FingerprintSHA256(pub))
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer, _, _ := newTestSigner(t)
	rec := sampleRecord()
	if err := Sign(rec, signer); err != nil {
		t.Fatal(err)
	}
	rec.Resources[0].SHA256 = digest.Bytes([]byte("evil"))

	if _, err := Verify(rec, nil); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyUntrustedAndUnsigned(t *testing.T) {
	signer, _, _ := newTestSigner(t)
	_, other, _ := newTestSigner(t)
	rec := sampleRecord()

	if _, err := Verify(rec, nil); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("Verify unsigned err = %v, want ErrUnsigned", err)
	}
	if err := Sign(rec, signer); err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(rec, other); !errors.Is(err, ErrUntrustedSigner) {
		t.Fatalf("Verify err = %v, want ErrUntrustedSigner", err)
	}
	rec.Signature = "garbage"
	if _, err := Verify(rec, nil); !errors.Is(err, ErrMalformedSigLine) {
		t.Fatalf("Verify err = %v, want ErrMalformedSigLine", err)
	}
}

func TestNewSSHSignerFromKeyFile(t *testing.T) {
	_, _, priv := newTestSigner(t)
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	signer, resolved, err := NewSSHSigner(keyPath)
	if err != nil {
		t.Fatalf("NewSSHSigner: %v", err)
	}
	if resolved != keyPath {
		t.Fatalf("resolved = %q, want %q", resolved, keyPath)
	}
	rec := sampleRecord()
	if err := Sign(rec, signer); err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(rec, nil); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "b.bin"), []byte("not b"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := sampleRecord()
	rec.Resources = append(rec.Resources, Entry{Name: "c", OutputPath: "c.txt", SHA256: digest.Bytes([]byte("c"))})

	mismatches, err := VerifyFiles(root, rec)
	if err != nil {
		t.Fatalf("VerifyFiles: %v", err)
	}
	if len(mismatches) != 2 {
		t.Fatalf("mismatches = %+v, want 2", mismatches)
	}
	if mismatches[0].Name != "b" || mismatches[0].Got == "" {
		t.Fatalf("first mismatch = %+v, want stale b", mismatches[0])
	}
	if mismatches[1].Name != "c" || mismatches[1].Err == nil {
		t.Fatalf("second mismatch = %+v, want missing c", mismatches[1])
	}
}

func TestRecordCarriesNodeVersionWhenKnown(t *testing.T) {
	rec := sampleRecord()
	if got := rec.Resources[0].NodeVersion; got != "1.2.0" {
		t.Fatalf("NodeVersion = %q, want %q", got, "1.2.0")
	}

	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := Write(path, rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := strings.Count(string(data), `"declaring_node_version"`); n != 1 {
		t.Fatalf("declaring_node_version appears %d times, want 1 (omitted when unknown):\n%s", n, data)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if back.Resources[0].NodeVersion != "1.2.0" || back.Resources[1].NodeVersion != "" {
		t.Fatalf("read back versions = %q, %q", back.Resources[0].NodeVersion, back.Resources[1].NodeVersion)
	}
}
