package organizer

import (
	"encoding/json"
	"time"
)

// EventKind classifies progress notifications.
type EventKind string

const (
	EventSkipped   EventKind = "skipped"
	EventDone      EventKind = "done"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
	EventProgress  EventKind = "progress"
	EventDeleted   EventKind = "deleted"
	EventNotFound  EventKind = "not_found"
	EventSummary   EventKind = "summary"
)

// Event is one progress notification from a batch. Which fields are set
// depends on Kind: Task for per-task events, Err for failures,
// Finished/Total for progress, Summary or DeleteSummary last.
type Event struct {
	Kind          EventKind
	Task          Task
	Err           error
	Blobs         int
	Finished      int
	Total         int
	Summary       *Summary
	DeleteSummary *DeleteSummary
	Time          time.Time
}

type eventJSON struct {
	Kind          EventKind      `json:"kind"`
	Model         string         `json:"model,omitempty"`
	Version       string         `json:"version,omitempty"`
	Error         string         `json:"error,omitempty"`
	Blobs         int            `json:"blobs,omitempty"`
	Finished      int            `json:"finished,omitempty"`
	Total         int            `json:"total,omitempty"`
	Summary       *Summary       `json:"summary,omitempty"`
	DeleteSummary *DeleteSummary `json:"delete_summary,omitempty"`
	Time          time.Time      `json:"time"`
}

// MarshalJSON renders the event for line-delimited streaming.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:          e.Kind,
		Model:         e.Task.Model,
		Version:       e.Task.Version,
		Blobs:         e.Blobs,
		Finished:      e.Finished,
		Total:         e.Total,
		Summary:       e.Summary,
		DeleteSummary: e.DeleteSummary,
		Time:          e.Time,
	}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}

// emitter sends events to an optional channel.
type emitter chan<- Event

func (em emitter) send(e Event) {
	if em == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	em <- e
}
