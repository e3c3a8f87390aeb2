package registry

import (
	"os"
	"path/filepath"
)

// DefaultHost is the registry host Ollama stores library models under.
const DefaultHost = "registry.ollama.ai"

// libraryNamespace is the only namespace the manifest tree is searched in.
const libraryNamespace = "library"

// Store describes an Ollama-style models tree: manifests grouped by
// registry host and namespace, and a flat content-addressed blob cache.
type Store struct {
	baseDir string
	host    string
}

// NewStore creates a Store rooted at baseDir using the default registry host.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir, host: DefaultHost}
}

// WithHost returns a copy of the store that resolves manifests under host.
func (s *Store) WithHost(host string) *Store {
	if host == "" {
		host = DefaultHost
	}
	return &Store{baseDir: s.baseDir, host: host}
}

// BaseDir returns the root directory of the store.
func (s *Store) BaseDir() string { return s.baseDir }

// Host returns the registry host manifests are resolved under.
func (s *Store) Host() string { return s.host }

// ModelsDir returns the top-level models directory.
func (s *Store) ModelsDir() string { return filepath.Join(s.baseDir, "models") }

// ManifestsDir returns the directory where model manifests are stored.
func (s *Store) ManifestsDir() string { return filepath.Join(s.baseDir, "models", "manifests") }

// BlobsDir returns the directory where model blobs are stored.
func (s *Store) BlobsDir() string { return filepath.Join(s.baseDir, "models", "blobs") }

// LibraryRelDir is the manifest subtree for the library namespace, relative
// to ModelsDir. Destinations mirror it verbatim.
func (s *Store) LibraryRelDir() string {
	return filepath.Join("manifests", s.host, libraryNamespace)
}

// LibraryDir returns the directory holding one subdirectory per model.
func (s *Store) LibraryDir() string {
	return filepath.Join(s.ModelsDir(), s.LibraryRelDir())
}

// ModelDir returns the directory holding the version manifests of a model.
func (s *Store) ModelDir(model string) string {
	return filepath.Join(s.LibraryDir(), model)
}

// ManifestPath returns the manifest file for a model version.
func (s *Store) ManifestPath(model, version string) string {
	return filepath.Join(s.ModelDir(model), version)
}

// BlobPath returns the cache file for a digest.
func (s *Store) BlobPath(d Digest) string {
	return filepath.Join(s.BlobsDir(), d.Filename())
}

// HasBlob reports whether the blob file for d is present as a regular file.
func (s *Store) HasBlob(d Digest) bool {
	info, err := os.Stat(s.BlobPath(d))
	return err == nil && info.Mode().IsRegular()
}

// EnsureDirs creates the required directory structure if it does not exist.
func (s *Store) EnsureDirs() error {
	for _, d := range []string{s.ManifestsDir(), s.BlobsDir()} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
