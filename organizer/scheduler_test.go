package organizer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/registry/registrytest"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

func runBatch(t *testing.T, s *Scheduler, ctx context.Context, b Batch) (*Summary, []Event, error) {
	t.Helper()
	events := make(chan Event)
	done := make(chan []Event)
	go func() {
		var got []Event
		for e := range events {
			got = append(got, e)
		}
		done <- got
	}()
	sum, err := s.Run(ctx, b, events)
	return sum, <-done, err
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func readRecords(t *testing.T, outputRoot string) Records {
	t.Helper()
	data, err := os.ReadFile(RecordPath(outputRoot))
	require.NoError(t, err)
	var r Records
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestRunSingleVersion(t *testing.T) {
	src := registrytest.NewSource(t)
	m := src.AddModel("llama3", "8b", 2)
	out := t.TempDir()

	sum, events, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 0), context.Background(),
		Batch{Tasks: []Task{{"llama3", "8b"}}, OutputRoot: out})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 3, sum.BlobsCopied)
	assert.NotEmpty(t, sum.RunID)
	assert.Empty(t, sum.FailureLog)
	assert.NoFileExists(t, FailurePath(out))

	for _, d := range m.Digests() {
		assert.FileExists(t, filepath.Join(out, "llama3", "8b", "models", "blobs", d.Filename()))
	}

	rec := readRecords(t, out)
	entry := rec["llama3"]["8b"]
	assert.Equal(t, m.Config.Digest.Filename(), entry.ConfigDigest)
	assert.Equal(t, []string{m.Layers[0].Digest.String(), m.Layers[1].Digest.String()}, entry.LayerDigests)

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventSummary, last.Kind)
	assert.Same(t, sum, last.Summary)
	assert.Equal(t, 1, countKind(events, EventDone))
	assert.Equal(t, 1, countKind(events, EventProgress))
}

func TestRunIsIdempotent(t *testing.T) {
	src := registrytest.NewSource(t)
	tasks := []Task{{"llama3", "8b"}, {"llama3", "70b"}, {"qwen", "7b"}}
	for _, task := range tasks {
		src.AddModel(task.Model, task.Version, 2)
	}
	out := t.TempDir()
	s := NewScheduler(NewExecutor(src.Store), 3)

	first, _, err := runBatch(t, s, context.Background(), Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Succeeded)
	assert.Equal(t, 9, first.BlobsCopied)

	second, events, err := runBatch(t, s, context.Background(), Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, 0, second.BlobsCopied)
	assert.Equal(t, 3, countKind(events, EventSkipped))
	assert.Equal(t, 0, countKind(events, EventDone))
}

func TestRunIsolatesFailures(t *testing.T) {
	src := registrytest.NewSource(t)
	var tasks []Task
	for i := 0; i < 5; i++ {
		task := Task{Model: fmt.Sprintf("model%d", i), Version: "latest"}
		src.AddModel(task.Model, task.Version, 2)
		tasks = append(tasks, task)
	}
	broken := tasks[2]
	m, err := src.Store.ResolveManifest(broken.Model, broken.Version)
	require.NoError(t, err)
	src.RemoveBlob(m.Layers[1].Digest)

	out := t.TempDir()
	metrics := telemetry.NewMetrics()
	s := NewScheduler(NewExecutor(src.Store), 2)
	s.Metrics = metrics

	sum, events, err := runBatch(t, s, context.Background(), Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 12, sum.BlobsCopied)
	assert.Equal(t, FailurePath(out), sum.FailureLog)
	assert.Equal(t, 1, countKind(events, EventFailed))
	assert.Equal(t, 5, countKind(events, EventProgress))

	failures, err := ReadFailureLog(FailurePath(out))
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, broken.Model, failures[0].Model)
	assert.Equal(t, broken.Version, failures[0].Version)
	assert.Contains(t, failures[0].Error, "model2/latest -> ")
	assert.Contains(t, failures[0].Error, registry.ErrSourceBlobMissing.Error())

	rec := readRecords(t, out)
	assert.NotContains(t, rec, broken.Model)
	assert.Len(t, rec, 4)

	// Failed versions are retried on the next run and the report is cleared.
	src.AddBlob("model2:latest:layer:b")
	again, _, err := runBatch(t, s, context.Background(), Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 4, again.Skipped)
	assert.Equal(t, 1, again.Succeeded)
	assert.NoFileExists(t, FailurePath(out))
}

func TestRunResumesAfterCrash(t *testing.T) {
	src := registrytest.NewSource(t)
	var tasks []Task
	for i := 0; i < 6; i++ {
		task := Task{Model: "llama3", Version: fmt.Sprintf("v%d", i)}
		src.AddModel(task.Model, task.Version, 1)
		tasks = append(tasks, task)
	}
	out := t.TempDir()

	// A previous run recorded the first two versions before dying.
	prior, err := LoadRecordStore(RecordPath(out))
	require.NoError(t, err)
	for _, task := range tasks[:2] {
		res := NewExecutor(src.Store).Execute(context.Background(), task, filepath.Join(out, task.Model))
		require.NoError(t, res.Err)
		require.NoError(t, prior.Put(task, NewVersionRecord(res)))
	}

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 3), context.Background(),
		Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Skipped)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 8, sum.BlobsCopied)
	assert.Len(t, readRecords(t, out)["llama3"], 6)
}

func TestRunSameModelTwoVersionsSequential(t *testing.T) {
	src := registrytest.NewSource(t)
	src.AddModel("llama3", "8b", 2)
	src.AddModel("llama3", "70b", 2)
	out := t.TempDir()

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 1), context.Background(),
		Batch{Tasks: []Task{{"llama3", "8b"}, {"llama3", "70b"}}, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)

	a, err := os.ReadDir(filepath.Join(out, "llama3", "8b", "models", "blobs"))
	require.NoError(t, err)
	b, err := os.ReadDir(filepath.Join(out, "llama3", "70b", "models", "blobs"))
	require.NoError(t, err)
	assert.Len(t, a, 3)
	assert.Len(t, b, 3)
	for _, ea := range a {
		for _, eb := range b {
			assert.NotEqual(t, ea.Name(), eb.Name())
		}
	}
}

func TestRunCollapsesDuplicateTasks(t *testing.T) {
	src := registrytest.NewSource(t)
	src.AddModel("llama3", "8b", 1)

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 3), context.Background(),
		Batch{Tasks: []Task{{"llama3", "8b"}, {"llama3", "8b"}}, OutputRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)
}

func TestRunManyVersionsConcurrently(t *testing.T) {
	src := registrytest.NewSource(t)
	var tasks []Task
	for i := 0; i < 20; i++ {
		task := Task{Model: fmt.Sprintf("m%d", i%4), Version: fmt.Sprintf("v%d", i)}
		src.AddModel(task.Model, task.Version, 3)
		tasks = append(tasks, task)
	}
	out := t.TempDir()

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 4), context.Background(),
		Batch{Tasks: tasks, OutputRoot: out})
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Succeeded)
	assert.Equal(t, 80, sum.BlobsCopied)

	store, err := LoadRecordStore(RecordPath(out))
	require.NoError(t, err)
	assert.Equal(t, 20, store.Len())
}

func TestRunFailsOnCorruptRecord(t *testing.T) {
	src := registrytest.NewSource(t)
	src.AddModel("llama3", "8b", 1)
	out := t.TempDir()
	require.NoError(t, os.WriteFile(RecordPath(out), []byte("{broken"), 0644))

	sum, events, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 1), context.Background(),
		Batch{Tasks: []Task{{"llama3", "8b"}}, OutputRoot: out})
	require.Error(t, err)
	assert.Nil(t, sum)
	assert.Empty(t, events)
	assert.NoDirExists(t, filepath.Join(out, "llama3"))
}

func TestRunAbortsWhenRecordCannotBeWritten(t *testing.T) {
	src := registrytest.NewSource(t)
	var tasks []Task
	for i := 0; i < 4; i++ {
		task := Task{Model: "llama3", Version: fmt.Sprintf("v%d", i)}
		src.AddModel(task.Model, task.Version, 1)
		tasks = append(tasks, task)
	}
	out := t.TempDir()
	// A directory where the lock file belongs makes every record write fail.
	require.NoError(t, os.Mkdir(RecordPath(out)+".lock", 0755))

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 1), context.Background(),
		Batch{Tasks: tasks, OutputRoot: out})
	require.Error(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 0, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Cancelled)
	assert.NoFileExists(t, RecordPath(out))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	src := registrytest.NewSource(t)
	src.AddModel("llama3", "8b", 1)
	src.AddModel("llama3", "70b", 1)
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, _, err := runBatch(t, NewScheduler(NewExecutor(src.Store), 1), ctx,
		Batch{Tasks: []Task{{"llama3", "8b"}, {"llama3", "70b"}}, OutputRoot: out})
	assert.ErrorIs(t, err, registry.ErrCancelled)
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.Cancelled)
	assert.Equal(t, 0, sum.Succeeded)
	assert.NoFileExists(t, RecordPath(out))
}

func TestRunRecoversWorkerPanic(t *testing.T) {
	exec := &Executor{}
	sum, events, err := runBatch(t, NewScheduler(exec, 1), context.Background(),
		Batch{Tasks: []Task{{"llama3", "8b"}}, OutputRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Failures, 1)
	assert.Contains(t, sum.Failures[0].Error, registry.ErrWorkerPanic.Error())
	assert.Equal(t, 1, countKind(events, EventFailed))
}

func TestRunRequiresOutputRoot(t *testing.T) {
	_, err := NewScheduler(&Executor{}, 1).Run(context.Background(), Batch{}, nil)
	assert.Error(t, err)
}
