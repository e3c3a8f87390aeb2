package organizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FailureLogFileName is the per-run failure report kept in the output root.
const FailureLogFileName = "error_log.json"

// FailureEntry describes one failed version for operator inspection.
type FailureEntry struct {
	Model   string `json:"model" yaml:"model"`
	Version string `json:"version" yaml:"version"`
	Error   string `json:"error" yaml:"error"`
}

// FailurePath returns the failure report location for an output root.
func FailurePath(outputRoot string) string {
	return filepath.Join(outputRoot, FailureLogFileName)
}

// WriteFailureLog replaces the report at path with entries. An empty run
// removes any report left by an earlier run, so the file always describes
// the latest batch.
func WriteFailureLog(path string, entries []FailureEntry) error {
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove stale failure log: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failure log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}
	return writeFileAtomic(path, data)
}

// ReadFailureLog loads a failure report; a missing file yields no entries.
func ReadFailureLog(path string) ([]FailureEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []FailureEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse failure log %s: %w", path, err)
	}
	return entries, nil
}
