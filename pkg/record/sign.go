package record

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

const SignaturePrefix = "sshsig-v1"

var (
	ErrUnsigned         = errors.New("record is not signed")
	ErrBadSignature     = errors.New("record signature does not verify")
	ErrUntrustedSigner  = errors.New("record signed by an untrusted key")
	ErrMalformedSigLine = errors.New("malformed record signature")
)

// Signer signs a record payload and returns the encoded signature.
type Signer func(payload []byte) (string, error)

// NewSSHSigner loads an SSH private key from keyPath, or from the first of
// ~/.ssh/id_ed25519, id_ecdsa and id_rsa when keyPath is empty. It returns
// the signer and the resolved key path.
func NewSSHSigner(keyPath string) (Signer, string, error) {
	resolvedPath, err := resolveSigningKeyPath(keyPath)
	if err != nil {
		return nil, "", err
	}

	raw, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, "", fmt.Errorf("read signing key %q: %w", resolvedPath, err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse signing key %q: %w", resolvedPath, err)
	}
	return SignerFromSSH(signer), resolvedPath, nil
}

// SignerFromSSH adapts an ssh.Signer.
func SignerFromSSH(signer ssh.Signer) Signer {
	pubB64 := base64.StdEncoding.EncodeToString(signer.PublicKey().Marshal())
	return func(payload []byte) (string, error) {
		sig, err := signer.Sign(rand.Reader, payload)
		if err != nil {
			return "", err
		}
		sigB64 := base64.StdEncoding.EncodeToString(sig.Blob)
		return fmt.Sprintf("%s:%s:%s:%s", SignaturePrefix, sig.Format, pubB64, sigB64), nil
	}
}

// Sign sets rec.Signature.
func Sign(rec *Record, sign Signer) error {
	payload, err := Payload(rec)
	if err != nil {
		return err
	}
	sig, err := sign(payload)
	if err != nil {
		return fmt.Errorf("sign record: %w", err)
	}
	rec.Signature = sig
	return nil
}

// Verify checks rec's signature and returns the signing key. When trusted is
// non-nil the record must have been signed by that key.
func Verify(rec *Record, trusted ssh.PublicKey) (ssh.PublicKey, error) {
	if rec == nil || strings.TrimSpace(rec.Signature) == "" {
		return nil, ErrUnsigned
	}
	parts := strings.Split(strings.TrimSpace(rec.Signature), ":")
	if len(parts) != 4 || parts[0] != SignaturePrefix {
		return nil, ErrMalformedSigLine
	}
	pubRaw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrMalformedSigLine, err)
	}
	blob, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedSigLine, err)
	}
	pub, err := ssh.ParsePublicKey(pubRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrMalformedSigLine, err)
	}

	payload, err := Payload(rec)
	if err != nil {
		return nil, err
	}
	if err := pub.Verify(payload, &ssh.Signature{Format: parts[1], Blob: blob}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if trusted != nil && !bytes.Equal(trusted.Marshal(), pub.Marshal()) {
		return pub, fmt.Errorf("%w: %s", ErrUntrustedSigner, ssh.FingerprintSHA256(pub))
	}
	return pub, nil
}

// LoadAuthorizedKey reads a public key in authorized_keys format.
func LoadAuthorizedKey(path string) (ssh.PublicKey, error) {
	expanded, err := expandUserPath(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", expanded, err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key %q: %w", expanded, err)
	}
	return pub, nil
}

func resolveSigningKeyPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" {
		return expandUserPath(path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	candidates := []string{
		filepath.Join(home, ".ssh", "id_ed25519"),
		filepath.Join(home, ".ssh", "id_ecdsa"),
		filepath.Join(home, ".ssh", "id_rsa"),
	}
	for _, candidate := range candidates {
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default SSH private key found in ~/.ssh (id_ed25519, id_ecdsa, id_rsa)")
}

func expandUserPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
