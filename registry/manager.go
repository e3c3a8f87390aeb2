package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DeleteResult reports what RemoveVersion did.
type DeleteResult int

const (
	// Deleted means the version existed and was removed.
	Deleted DeleteResult = iota
	// NotFound means there was nothing to remove.
	NotFound
)

func (r DeleteResult) String() string {
	switch r {
	case Deleted:
		return "deleted"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ModelVersion names one version of a model in the manifest tree.
type ModelVersion struct {
	Model   string `json:"model"`
	Version string `json:"version"`
}

// ValidateName rejects model and version names that would escape their
// directory in the manifest tree.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// ModelManager provides listing and removal over a source models tree.
type ModelManager struct {
	store *Store
}

// NewModelManager creates a ModelManager over store.
func NewModelManager(store *Store) *ModelManager {
	return &ModelManager{store: store}
}

// DefaultBaseDir returns the default Ollama root directory (~/.ollama).
func DefaultBaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ollama")
}

// Store returns the underlying store.
func (m *ModelManager) Store() *Store { return m.store }

// ListModels returns the sorted names of all models in the library.
// A missing library directory yields an empty list.
func (m *ModelManager) ListModels() ([]string, error) {
	entries, err := os.ReadDir(m.store.LibraryDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ListVersions returns the sorted version names of a model. An unknown
// model yields an empty list.
func (m *ModelManager) ListVersions(model string) ([]string, error) {
	if err := ValidateName(model); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.store.ModelDir(model))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		versions = append(versions, e.Name())
	}
	sort.Strings(versions)
	return versions, nil
}

// ListAll returns every model version in the library, ordered by model then version.
func (m *ModelManager) ListAll() ([]ModelVersion, error) {
	models, err := m.ListModels()
	if err != nil {
		return nil, err
	}
	var out []ModelVersion
	for _, model := range models {
		versions, err := m.ListVersions(model)
		if err != nil {
			return nil, fmt.Errorf("list versions of %s: %w", model, err)
		}
		for _, v := range versions {
			out = append(out, ModelVersion{Model: model, Version: v})
		}
	}
	return out, nil
}

// GetManifest resolves the manifest of a model version.
func (m *ModelManager) GetManifest(model, version string) (*Manifest, error) {
	return m.store.ResolveManifest(model, version)
}

// RemoveVersion deletes a version's entry from the manifest tree. The model
// directory is removed as well once its last version is gone.
func (m *ModelManager) RemoveVersion(model, version string) (DeleteResult, error) {
	for _, name := range []string{model, version} {
		if err := ValidateName(name); err != nil {
			return NotFound, fmt.Errorf("%w: %v", ErrDeletionFailed, err)
		}
	}
	path := m.store.ManifestPath(model, version)
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound, nil
		}
		return NotFound, fmt.Errorf("%w: %s: %v", ErrDeletionFailed, path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return NotFound, fmt.Errorf("%w: %s: %v", ErrDeletionFailed, path, err)
	}

	modelDir := m.store.ModelDir(model)
	if entries, err := os.ReadDir(modelDir); err == nil && len(entries) == 0 {
		_ = os.Remove(modelDir)
	}
	return Deleted, nil
}
