package registry

import (
	_ "crypto/sha256"
	"fmt"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// Digest is a content identifier in colon form, e.g. "sha256:<hex>".
type Digest string

// ParseDigest validates s as an algorithm-qualified content digest.
func ParseDigest(s string) (Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return Digest(d), nil
}

// DigestFromFilename converts a blob filename ("sha256-<hex>") back to colon form.
func DigestFromFilename(name string) (Digest, error) {
	alg, hex, ok := strings.Cut(name, "-")
	if !ok {
		return "", fmt.Errorf("invalid blob filename %q", name)
	}
	return ParseDigest(alg + ":" + hex)
}

// Filename returns the on-disk blob name. Colons are not valid in paths on
// every filesystem the cache lives on, so the separator becomes a dash.
func (d Digest) Filename() string {
	return strings.Replace(string(d), ":", "-", 1)
}

// String returns the colon form.
func (d Digest) String() string { return string(d) }

// verifier returns a go-digest verifier for the content d names.
func (d Digest) verifier() (digest.Verifier, error) {
	od := digest.Digest(d)
	if err := od.Validate(); err != nil {
		return nil, err
	}
	return od.Verifier(), nil
}
