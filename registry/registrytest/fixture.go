// Package registrytest builds throwaway Ollama model trees for tests.
package registrytest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudchase/ollama-organizer/registry"
)

// Source is a models tree rooted in a test temp directory.
type Source struct {
	t     testing.TB
	Store *registry.Store
}

// NewSource creates an empty models tree with the default host.
func NewSource(t testing.TB) *Source {
	t.Helper()
	s := &Source{t: t, Store: registry.NewStore(t.TempDir())}
	if err := s.Store.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	return s
}

// Digest returns the sha256 digest of content without writing anything.
func Digest(content string) registry.Digest {
	sum := sha256.Sum256([]byte(content))
	return registry.Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// AddBlob writes content into the blob cache and returns its digest.
func (s *Source) AddBlob(content string) registry.Digest {
	s.t.Helper()
	d := Digest(content)
	if err := os.WriteFile(s.Store.BlobPath(d), []byte(content), 0644); err != nil {
		s.t.Fatalf("write blob: %v", err)
	}
	return d
}

// AddManifest writes a manifest for model:version referencing config and layers.
// The blobs themselves are not created; use AddBlob for the ones that should exist.
func (s *Source) AddManifest(model, version string, config registry.Digest, layers ...registry.Digest) *registry.Manifest {
	s.t.Helper()
	m := &registry.Manifest{
		SchemaVersion: 2,
		MediaType:     "application/vnd.docker.distribution.manifest.v2+json",
		Config: registry.Layer{
			MediaType: "application/vnd.docker.container.image.v1+json",
			Digest:    config,
			Size:      int64(len(config)),
		},
	}
	for _, l := range layers {
		m.Layers = append(m.Layers, registry.Layer{
			MediaType: "application/vnd.ollama.image.model",
			Digest:    l,
			Size:      int64(len(l)),
		})
	}
	data, err := json.Marshal(m)
	if err != nil {
		s.t.Fatalf("marshal manifest: %v", err)
	}
	s.WriteManifest(model, version, data)
	return m
}

// AddModel writes a manifest plus one config and n layer blobs, all present
// in the cache, and returns the manifest.
func (s *Source) AddModel(model, version string, layers int) *registry.Manifest {
	s.t.Helper()
	config := s.AddBlob(model + ":" + version + ":config")
	var ls []registry.Digest
	for i := 0; i < layers; i++ {
		ls = append(ls, s.AddBlob(model+":"+version+":layer:"+string(rune('a'+i))))
	}
	return s.AddManifest(model, version, config, ls...)
}

// WriteManifest writes raw manifest bytes for model:version.
func (s *Source) WriteManifest(model, version string, data []byte) {
	s.t.Helper()
	path := s.Store.ManifestPath(model, version)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		s.t.Fatalf("mkdir manifest dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		s.t.Fatalf("write manifest: %v", err)
	}
}

// RemoveBlob deletes a blob from the cache.
func (s *Source) RemoveBlob(d registry.Digest) {
	s.t.Helper()
	if err := os.Remove(s.Store.BlobPath(d)); err != nil {
		s.t.Fatalf("remove blob: %v", err)
	}
}
