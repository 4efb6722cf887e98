package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Sum is a lowercase hex-encoded SHA-256 digest.
type Sum string

// Bytes computes the SHA-256 of data.
func Bytes(data []byte) Sum {
	sum := sha256.Sum256(data)
	return Sum(hex.EncodeToString(sum[:]))
}

// Reader streams r through SHA-256.
func Reader(r io.Reader) (Sum, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fromHash(h), nil
}

// File computes the SHA-256 of the file at path.
func File(path string) (Sum, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()
	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return sum, nil
}

// Equal compares a digest with a hex string, ignoring case and surrounding
// whitespace.
func (s Sum) Equal(hexDigest string) bool {
	return strings.EqualFold(string(s), strings.TrimSpace(hexDigest))
}

// Writer hashes everything written through it.
type Writer struct {
	h hash.Hash
}

// NewWriter returns a hashing io.Writer.
func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) { return w.h.Write(p) }

// Sum returns the digest of everything written so far.
func (w *Writer) Sum() Sum { return fromHash(w.h) }

func fromHash(h hash.Hash) Sum {
	return Sum(hex.EncodeToString(h.Sum(nil)))
}
