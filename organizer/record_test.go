package organizer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/ollama-organizer/registry/registrytest"
)

func TestLoadRecordStoreMissingFile(t *testing.T) {
	s, err := LoadRecordStore(filepath.Join(t.TempDir(), RecordFileName))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(Task{"llama3", "8b"}))
}

func TestLoadRecordStoreReadsExistingFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), RecordFileName)
	cfg := registrytest.Digest("cfg")
	layer := registrytest.Digest("layer")
	data := fmt.Sprintf(`{
  "llama3": {
    "8b": {
      "config_digest": %q,
      "layers_digest": [%q]
    }
  }
}`, cfg.Filename(), layer.String())
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	s, err := LoadRecordStore(path)
	require.NoError(t, err)
	r, ok := s.Get(Task{"llama3", "8b"})
	require.True(t, ok)
	assert.Equal(t, cfg.Filename(), r.ConfigDigest)
	assert.Equal(t, []string{layer.String()}, r.LayerDigests)
}

func TestLoadRecordStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), RecordFileName)
	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]"), 0644))
	_, err := LoadRecordStore(path)
	assert.Error(t, err)
}

func TestRecordStorePutPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", RecordFileName)
	s, err := LoadRecordStore(path)
	require.NoError(t, err)

	rec := VersionRecord{ConfigDigest: registrytest.Digest("c").Filename(), LayerDigests: []string{}}
	require.NoError(t, s.Put(Task{"llama3", "8b"}, rec))

	reloaded, err := LoadRecordStore(path)
	require.NoError(t, err)
	got, ok := reloaded.Get(Task{"llama3", "8b"})
	require.True(t, ok)
	assert.Equal(t, rec.ConfigDigest, got.ConfigDigest)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRecordStoreConcurrentPuts(t *testing.T) {
	path := filepath.Join(t.TempDir(), RecordFileName)
	s, err := LoadRecordStore(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := Task{Model: fmt.Sprintf("m%d", i%3), Version: fmt.Sprintf("v%d", i)}
			assert.NoError(t, s.Put(task, VersionRecord{ConfigDigest: "sha256-x"}))
		}(i)
	}
	wg.Wait()

	reloaded, err := LoadRecordStore(path)
	require.NoError(t, err)
	assert.Equal(t, 16, reloaded.Len())
}

func TestRecordStoreMergesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), RecordFileName)
	a, err := LoadRecordStore(path)
	require.NoError(t, err)
	b, err := LoadRecordStore(path)
	require.NoError(t, err)

	require.NoError(t, a.Put(Task{"llama3", "8b"}, VersionRecord{ConfigDigest: "sha256-a"}))
	require.NoError(t, b.Put(Task{"qwen", "7b"}, VersionRecord{ConfigDigest: "sha256-b"}))

	reloaded, err := LoadRecordStore(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Has(Task{"llama3", "8b"}))
	assert.True(t, reloaded.Has(Task{"qwen", "7b"}))
}

func TestRecordStorePutRollsBackOnWriteError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, RecordFileName)
	require.NoError(t, os.Mkdir(path+".lock", 0755))

	s, err := LoadRecordStore(path)
	require.NoError(t, err)
	err = s.Put(Task{"llama3", "8b"}, VersionRecord{ConfigDigest: "sha256-a"})
	require.Error(t, err)
	assert.False(t, s.Has(Task{"llama3", "8b"}))
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotIsIndependent(t *testing.T) {
	s, err := LoadRecordStore(filepath.Join(t.TempDir(), RecordFileName))
	require.NoError(t, err)
	require.NoError(t, s.Put(Task{"llama3", "8b"}, VersionRecord{ConfigDigest: "sha256-a", LayerDigests: []string{"sha256:x"}}))

	snap := s.Snapshot()
	entry := snap["llama3"]["8b"]
	entry.LayerDigests[0] = "changed"
	delete(snap, "llama3")

	r, ok := s.Get(Task{"llama3", "8b"})
	require.True(t, ok)
	assert.Equal(t, []string{"sha256:x"}, r.LayerDigests)
}

func TestWriteFailureLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), FailureLogFileName)
	entries := []FailureEntry{{Model: "llama3", Version: "8b", Error: "llama3/8b -> source blob missing"}}
	require.NoError(t, WriteFailureLog(path, entries))

	got, err := ReadFailureLog(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, WriteFailureLog(path, nil))
	assert.NoFileExists(t, path)
	require.NoError(t, WriteFailureLog(path, nil))
}
