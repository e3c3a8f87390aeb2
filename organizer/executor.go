package organizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

// Outcome is the result of organizing one model version. Err is nil on
// success and a *TaskError otherwise.
type Outcome struct {
	Task         Task
	ConfigDigest registry.Digest
	LayerDigests []registry.Digest
	Blobs        int
	Bytes        int64
	Elapsed      time.Duration
	Err          error
}

// Succeeded reports whether every file of the version was copied and verified.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Executor copies one model version at a time from a source store. It holds
// no mutable state and is safe for concurrent use on distinct tasks.
type Executor struct {
	Source        *registry.Store
	VerifyContent bool
	Tracer        trace.Tracer
}

// NewExecutor creates an executor reading manifests and blobs from source.
func NewExecutor(source *registry.Store) *Executor {
	return &Executor{Source: source, Tracer: telemetry.Tracer()}
}

// DestinationRoot is where Execute writes a version: <destBase>/<version>/models.
func DestinationRoot(destBase, version string) string {
	return filepath.Join(destBase, version, "models")
}

// Execute copies the manifest and every blob of task into
// <destBase>/<version>/models, mirroring the source layout.
// Blobs already copied before a failure are left in place; the version is
// only recorded after a full success so a retry rewrites them.
func (e *Executor) Execute(ctx context.Context, task Task, destBase string) (out Outcome) {
	start := time.Now()
	out.Task = task

	tracer := e.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}
	ctx, span := tracer.Start(ctx, "organize.version", trace.WithAttributes(
		attribute.String("model", task.Model),
		attribute.String("version", task.Version),
	))
	defer func() {
		out.Elapsed = time.Since(start)
		span.SetAttributes(attribute.Int("blobs", out.Blobs), attribute.Int64("bytes", out.Bytes))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
		span.End()
	}()

	fail := func(err error) Outcome {
		out.Err = &TaskError{Task: task, Err: err}
		return out
	}

	if err := task.Validate(); err != nil {
		return fail(fmt.Errorf("%w: %v", registry.ErrManifestNotFound, err))
	}

	manifest, err := e.Source.ResolveManifest(task.Model, task.Version)
	if err != nil {
		return fail(err)
	}

	root := DestinationRoot(destBase, task.Version)
	blobsDir := filepath.Join(root, "blobs")
	manifestDir := filepath.Join(root, e.Source.LibraryRelDir(), task.Model)

	for _, dir := range []string{manifestDir, blobsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fail(fmt.Errorf("%w: %v", registry.ErrDestinationWrite, err))
		}
	}

	n, err := registry.CopyFile(ctx, e.Source.ManifestPath(task.Model, task.Version), filepath.Join(manifestDir, task.Version))
	if err != nil {
		return fail(err)
	}
	out.Bytes += n

	opts := registry.CopyOptions{VerifyContent: e.VerifyContent}
	for _, d := range manifest.Digests() {
		n, err := registry.CopyBlob(ctx, d, e.Source.BlobsDir(), blobsDir, opts)
		if err != nil {
			return fail(err)
		}
		out.Blobs++
		out.Bytes += n
	}

	out.ConfigDigest = manifest.Config.Digest
	out.LayerDigests = manifest.LayerDigests()
	return out
}
