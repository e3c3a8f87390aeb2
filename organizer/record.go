package organizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cloudchase/ollama-organizer/registry"
)

// RecordFileName is the completion record kept in the output root.
const RecordFileName = "processed_models.json"

// defaultLockTimeout bounds how long a writer waits for another process.
const defaultLockTimeout = 30 * time.Second

// VersionRecord is the proof that a version was fully copied and verified.
// The config digest is kept in blob filename form and the layers in colon
// form; existing record files use this layout.
type VersionRecord struct {
	ConfigDigest string   `json:"config_digest"`
	LayerDigests []string `json:"layers_digest"`
}

// NewVersionRecord builds the record entry for a successful outcome.
func NewVersionRecord(o Outcome) VersionRecord {
	layers := make([]string, 0, len(o.LayerDigests))
	for _, d := range o.LayerDigests {
		layers = append(layers, d.String())
	}
	return VersionRecord{ConfigDigest: o.ConfigDigest.Filename(), LayerDigests: layers}
}

// Records maps model name to version to record.
type Records map[string]map[string]VersionRecord

// RecordStore is the persisted completion record. Entries are only ever
// added; every Put rewrites the whole file before returning.
type RecordStore struct {
	path        string
	lockTimeout time.Duration

	mu      sync.RWMutex
	records Records
}

// RecordPath returns the completion record location for an output root.
func RecordPath(outputRoot string) string {
	return filepath.Join(outputRoot, RecordFileName)
}

// LoadRecordStore reads the record at path. A missing file yields an empty
// store; an unreadable or malformed file is an error.
func LoadRecordStore(path string) (*RecordStore, error) {
	s := &RecordStore{path: path, lockTimeout: defaultLockTimeout, records: make(Records)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read completion record %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parse completion record %s: %w", path, err)
	}
	if s.records == nil {
		s.records = make(Records)
	}
	return s, nil
}

// Path returns the backing file.
func (s *RecordStore) Path() string { return s.path }

// Has reports whether task was completed in a prior or the current run.
func (s *RecordStore) Has(t Task) bool {
	_, ok := s.Get(t)
	return ok
}

// Get returns the record entry for task.
func (s *RecordStore) Get(t Task) (VersionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[t.Model][t.Version]
	return r, ok
}

// Len returns the number of recorded versions.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, versions := range s.records {
		n += len(versions)
	}
	return n
}

// Snapshot returns a deep copy of the records.
func (s *RecordStore) Snapshot() Records {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Records, len(s.records))
	for model, versions := range s.records {
		vs := make(map[string]VersionRecord, len(versions))
		for v, r := range versions {
			r.LayerDigests = append([]string(nil), r.LayerDigests...)
			vs[v] = r
		}
		out[model] = vs
	}
	return out
}

// Put records task as complete and persists the full record. On a write
// error the in-memory entry is rolled back so memory never claims more than
// the file does.
func (s *RecordStore) Put(t Task, r VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.records[t.Model]
	if !ok {
		versions = make(map[string]VersionRecord)
		s.records[t.Model] = versions
	}
	prev, existed := versions[t.Version]
	versions[t.Version] = r

	if err := s.persistLocked(); err != nil {
		if existed {
			versions[t.Version] = prev
		} else {
			delete(versions, t.Version)
			if len(versions) == 0 {
				delete(s.records, t.Model)
			}
		}
		return err
	}
	return nil
}

// persistLocked writes the record under the cross-process lock using
// write-temp, fsync, rename. Callers hold s.mu.
func (s *RecordStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	lock, err := newFileLock(s.path+".lock", s.lockTimeout)
	if err != nil {
		return fmt.Errorf("create record lock: %w", err)
	}
	if err := lock.Lock(); err != nil {
		lock.Unlock()
		return fmt.Errorf("acquire record lock: %w", err)
	}
	defer lock.Unlock()

	// Merge entries another process recorded since we loaded.
	if data, err := os.ReadFile(s.path); err == nil && len(data) > 0 {
		var onDisk Records
		if err := json.Unmarshal(data, &onDisk); err == nil {
			for model, versions := range onDisk {
				for v, r := range versions {
					if _, ok := s.records[model][v]; ok {
						continue
					}
					if s.records[model] == nil {
						s.records[model] = make(map[string]VersionRecord)
					}
					s.records[model][v] = r
				}
			}
		}
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal completion record: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic replaces path with data so readers see either the old or
// the new content, never a torn write.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", registry.ErrDestinationWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %v", registry.ErrDestinationWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp file: %v", registry.ErrDestinationWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %v", registry.ErrDestinationWrite, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: chmod temp file: %v", registry.ErrDestinationWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename temp file: %v", registry.ErrDestinationWrite, err)
	}
	return nil
}
