package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Layer is a blob reference inside a manifest.
type Layer struct {
	MediaType string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	Digest    Digest `json:"digest" yaml:"digest"`
	Size      int64  `json:"size,omitempty" yaml:"size,omitempty"`
}

// Manifest describes one model version: a config blob and its layer blobs.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion,omitempty" yaml:"schemaVersion,omitempty"`
	MediaType     string  `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	Config        Layer   `json:"config" yaml:"config"`
	Layers        []Layer `json:"layers" yaml:"layers"`
}

// Digests returns the config digest followed by the layer digests in order.
func (m *Manifest) Digests() []Digest {
	out := make([]Digest, 0, 1+len(m.Layers))
	out = append(out, m.Config.Digest)
	for _, l := range m.Layers {
		out = append(out, l.Digest)
	}
	return out
}

// LayerDigests returns the layer digests in manifest order.
func (m *Manifest) LayerDigests() []Digest {
	out := make([]Digest, 0, len(m.Layers))
	for _, l := range m.Layers {
		out = append(out, l.Digest)
	}
	return out
}

// TotalSize sums the sizes declared for the config and layers.
func (m *Manifest) TotalSize() int64 {
	total := m.Config.Size
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// ParseManifest decodes manifest JSON and validates every digest it names.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}
	if m.Config.Digest == "" {
		return nil, fmt.Errorf("%w: missing config.digest", ErrManifestParse)
	}
	if _, err := ParseDigest(string(m.Config.Digest)); err != nil {
		return nil, fmt.Errorf("%w: config: %v", ErrManifestParse, err)
	}
	for i, l := range m.Layers {
		if _, err := ParseDigest(string(l.Digest)); err != nil {
			return nil, fmt.Errorf("%w: layer %d: %v", ErrManifestParse, i, err)
		}
	}
	return &m, nil
}

// ReadManifestBytes returns the raw manifest file of a model version.
func (s *Store) ReadManifestBytes(model, version string) ([]byte, error) {
	path := s.ManifestPath(model, version)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrManifestParse, path, err)
	}
	return data, nil
}

// ResolveManifest reads and parses the manifest of a model version.
func (s *Store) ResolveManifest(model, version string) (*Manifest, error) {
	data, err := s.ReadManifestBytes(model, version)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}
