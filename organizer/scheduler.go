package organizer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudchase/ollama-organizer/logging"
	"github.com/cloudchase/ollama-organizer/registry"
	"github.com/cloudchase/ollama-organizer/telemetry"
)

// DefaultConcurrency is the number of versions copied in parallel.
const DefaultConcurrency = 3

// Batch is one organize run: the selected versions and where they go.
type Batch struct {
	Tasks      []Task
	OutputRoot string
}

// Summary is the final tally of a batch. Counts do not depend on the order
// in which workers finished.
type Summary struct {
	RunID       string         `json:"run_id" yaml:"run_id"`
	Total       int            `json:"total" yaml:"total"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	Succeeded   int            `json:"succeeded" yaml:"succeeded"`
	Failed      int            `json:"failed" yaml:"failed"`
	Cancelled   int            `json:"cancelled" yaml:"cancelled"`
	BlobsCopied int            `json:"blobs_copied" yaml:"blobs_copied"`
	BytesCopied int64          `json:"bytes_copied" yaml:"bytes_copied"`
	Elapsed     time.Duration  `json:"elapsed" yaml:"elapsed"`
	RecordPath  string         `json:"record_path" yaml:"record_path"`
	FailureLog  string         `json:"failure_log,omitempty" yaml:"failure_log,omitempty"`
	Failures    []FailureEntry `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Scheduler runs batches on a bounded worker pool and keeps the completion
// record current after every successful version.
type Scheduler struct {
	Executor    *Executor
	Concurrency int
	Metrics     *telemetry.Metrics
	Logger      logrus.FieldLogger
}

// NewScheduler creates a scheduler with the given parallelism
// (DefaultConcurrency when < 1).
func NewScheduler(exec *Executor, concurrency int) *Scheduler {
	return &Scheduler{Executor: exec, Concurrency: concurrency}
}

func (s *Scheduler) concurrency() int {
	if s.Concurrency < 1 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

func (s *Scheduler) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}

// Run organizes every task of b not already in the completion record.
//
// Events are sent on events (which may be nil) as they happen and the
// channel is closed when Run returns; the caller must keep receiving until
// then. Task failures never abort the batch. Run only returns an error when
// the completion record cannot be loaded or written, or when ctx was
// cancelled before every task ran; the summary is returned in the latter
// two cases as well.
func (s *Scheduler) Run(ctx context.Context, b Batch, events chan<- Event) (*Summary, error) {
	if events != nil {
		defer close(events)
	}
	em := emitter(events)
	start := time.Now()

	if b.OutputRoot == "" {
		return nil, errors.New("output root is required")
	}

	sum := &Summary{RunID: uuid.NewString(), RecordPath: RecordPath(b.OutputRoot)}
	log := s.logger().WithField("run_id", sum.RunID)

	records, err := LoadRecordStore(sum.RecordPath)
	if err != nil {
		return nil, err
	}

	tasks := dedupe(b.Tasks)
	sum.Total = len(tasks)
	log.WithFields(logrus.Fields{"tasks": sum.Total, "concurrency": s.concurrency()}).Info("batch started")

	finished := 0
	pending := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if records.Has(t) {
			sum.Skipped++
			finished++
			s.Metrics.ObserveTask(telemetry.ResultSkipped, 0, 0, 0)
			em.send(Event{Kind: EventSkipped, Task: t})
			continue
		}
		pending = append(pending, t)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan Outcome)
	submitted := 0
	go func() {
		var g errgroup.Group
		g.SetLimit(s.concurrency())
		for _, t := range pending {
			if runCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				results <- s.execute(runCtx, t, b.OutputRoot)
				return nil
			})
			submitted++
		}
		_ = g.Wait()
		close(results)
	}()

	var fatal error
	var failures []FailureEntry
	for out := range results {
		finished++
		tlog := log.WithFields(logrus.Fields{"model": out.Task.Model, "version": out.Task.Version})

		switch {
		case fatal != nil:
			sum.Cancelled++
			s.Metrics.ObserveTask(telemetry.ResultCancelled, 0, 0, out.Elapsed)

		case out.Succeeded():
			if err := records.Put(out.Task, NewVersionRecord(out)); err != nil {
				fatal = fmt.Errorf("persist completion record: %w", err)
				cancel()
				tlog.WithError(err).Error("completion record write failed, aborting batch")
				sum.Failed++
				failures = append(failures, FailureEntry{Model: out.Task.Model, Version: out.Task.Version, Error: (&TaskError{Task: out.Task, Err: err}).Error()})
				em.send(Event{Kind: EventFailed, Task: out.Task, Err: fatal})
				break
			}
			sum.Succeeded++
			sum.BlobsCopied += out.Blobs
			sum.BytesCopied += out.Bytes
			s.Metrics.ObserveTask(telemetry.ResultSucceeded, out.Blobs, out.Bytes, out.Elapsed)
			tlog.WithFields(logrus.Fields{"blobs": out.Blobs, "elapsed": out.Elapsed}).Info("version organized")
			em.send(Event{Kind: EventDone, Task: out.Task, Blobs: out.Blobs})

		case errors.Is(out.Err, registry.ErrCancelled):
			sum.Cancelled++
			s.Metrics.ObserveTask(telemetry.ResultCancelled, 0, 0, out.Elapsed)
			tlog.Warn("version cancelled")
			em.send(Event{Kind: EventCancelled, Task: out.Task, Err: out.Err})

		default:
			sum.Failed++
			failures = append(failures, FailureEntry{Model: out.Task.Model, Version: out.Task.Version, Error: out.Err.Error()})
			s.Metrics.ObserveTask(telemetry.ResultFailed, 0, 0, out.Elapsed)
			tlog.WithError(out.Err).Warn("version failed")
			em.send(Event{Kind: EventFailed, Task: out.Task, Err: out.Err})
		}

		em.send(Event{Kind: EventProgress, Finished: finished, Total: sum.Total})
	}
	sum.Cancelled += len(pending) - submitted

	failurePath := FailurePath(b.OutputRoot)
	if err := WriteFailureLog(failurePath, failures); err != nil {
		log.WithError(err).Error("failure log write failed")
	} else if len(failures) > 0 {
		sum.FailureLog = failurePath
	}
	sum.Failures = failures
	sum.Elapsed = time.Since(start)
	s.Metrics.ObserveBatchEnd(time.Now())

	log.WithFields(logrus.Fields{
		"skipped":   sum.Skipped,
		"succeeded": sum.Succeeded,
		"failed":    sum.Failed,
		"cancelled": sum.Cancelled,
		"blobs":     sum.BlobsCopied,
		"elapsed":   sum.Elapsed,
	}).Info("batch finished")
	em.send(Event{Kind: EventSummary, Summary: sum})

	if fatal != nil {
		return sum, fatal
	}
	if sum.Cancelled > 0 && ctx.Err() != nil {
		return sum, fmt.Errorf("%w: %v", registry.ErrCancelled, ctx.Err())
	}
	return sum, nil
}

// execute runs one task, turning a panic into a task failure so one bad
// version cannot take the batch down.
func (s *Scheduler) execute(ctx context.Context, t Task, outputRoot string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Task: t, Err: &TaskError{Task: t, Err: fmt.Errorf("%w: %v", registry.ErrWorkerPanic, r)}}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Outcome{Task: t, Err: &TaskError{Task: t, Err: fmt.Errorf("%w: %v", registry.ErrCancelled, err)}}
	}
	return s.Executor.Execute(ctx, t, filepath.Join(outputRoot, t.Model))
}
