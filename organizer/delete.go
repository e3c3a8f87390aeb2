package organizer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cloudchase/ollama-organizer/logging"
	"github.com/cloudchase/ollama-organizer/registry"
)

// DeleteSummary tallies a deletion batch.
type DeleteSummary struct {
	Total    int            `json:"total" yaml:"total"`
	Deleted  int            `json:"deleted" yaml:"deleted"`
	NotFound int            `json:"not_found" yaml:"not_found"`
	Failed   int            `json:"failed" yaml:"failed"`
	Failures []FailureEntry `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Deleter removes model versions from a source tree, one at a time.
type Deleter struct {
	Manager *registry.ModelManager
	Logger  logrus.FieldLogger
}

// NewDeleter creates a deleter over mgr.
func NewDeleter(mgr *registry.ModelManager) *Deleter {
	return &Deleter{Manager: mgr}
}

// Run deletes each task in order. Failures are reported and the batch
// continues; cancellation stops before the next task. events, if non-nil,
// is closed when Run returns.
func (d *Deleter) Run(ctx context.Context, tasks []Task, events chan<- Event) *DeleteSummary {
	if events != nil {
		defer close(events)
	}
	em := emitter(events)
	log := d.Logger
	if log == nil {
		log = logging.Discard()
	}

	tasks = dedupe(tasks)
	sum := &DeleteSummary{Total: len(tasks)}
	for i, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		tlog := log.WithFields(logrus.Fields{"model": t.Model, "version": t.Version})

		res, err := d.Manager.RemoveVersion(t.Model, t.Version)
		switch {
		case err != nil:
			terr := &TaskError{Task: t, Err: err}
			sum.Failed++
			sum.Failures = append(sum.Failures, FailureEntry{Model: t.Model, Version: t.Version, Error: terr.Error()})
			tlog.WithError(err).Warn("delete failed")
			em.send(Event{Kind: EventFailed, Task: t, Err: terr})
		case res == registry.NotFound:
			sum.NotFound++
			tlog.Info("version not found, nothing to delete")
			em.send(Event{Kind: EventNotFound, Task: t})
		default:
			sum.Deleted++
			tlog.Info("version deleted")
			em.send(Event{Kind: EventDeleted, Task: t})
		}
		em.send(Event{Kind: EventProgress, Finished: i + 1, Total: sum.Total})
	}
	em.send(Event{Kind: EventSummary, DeleteSummary: sum})
	return sum
}
