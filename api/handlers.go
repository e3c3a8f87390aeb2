package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudchase/ollama-organizer/organizer"
	"github.com/cloudchase/ollama-organizer/registry"
)

// maxBodyBytes caps request bodies; task lists are small.
const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to write JSON response")
	}
}

// writeError writes an error response with the given status code.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// loadRecords returns the completion record of the output root, or nil when
// none is configured or it cannot be read.
func (s *Server) loadRecords() *organizer.RecordStore {
	if s.cfg.OutputRoot == "" {
		return nil
	}
	records, err := organizer.LoadRecordStore(organizer.RecordPath(s.cfg.OutputRoot))
	if err != nil {
		s.log.WithError(err).Warn("completion record unreadable")
		return nil
	}
	return records
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Library:    s.manager.Store().LibraryDir(),
		OutputRoot: s.cfg.OutputRoot,
		Busy:       busy,
	})
}

// handleListModels handles GET /api/models.
func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	versions, err := s.manager.ListAll()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list models: "+err.Error())
		return
	}
	records := s.loadRecords()

	models := make([]VersionInfo, 0, len(versions))
	for _, mv := range versions {
		info := VersionInfo{Model: mv.Model, Version: mv.Version}
		if m, err := s.manager.GetManifest(mv.Model, mv.Version); err != nil {
			info.Error = err.Error()
		} else {
			info.Blobs = len(m.Digests())
			info.Size = m.TotalSize()
		}
		if records != nil {
			info.BackedUp = records.Has(organizer.Task{Model: mv.Model, Version: mv.Version})
		}
		models = append(models, info)
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Models: models})
}

// handleShowVersion handles GET /api/models/{model}/{version}.
func (s *Server) handleShowVersion(w http.ResponseWriter, r *http.Request) {
	task := organizer.Task{Model: chi.URLParam(r, "model"), Version: chi.URLParam(r, "version")}
	if err := task.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.manager.GetManifest(task.Model, task.Version)
	switch {
	case errors.Is(err, registry.ErrManifestNotFound):
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("model '%s' not found", task))
		return
	case errors.Is(err, registry.ErrManifestParse):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ShowResponse{Model: task.Model, Version: task.Version, Manifest: m, Size: m.TotalSize()}
	if records := s.loadRecords(); records != nil {
		if rec, ok := records.Get(task); ok {
			resp.Record = &rec
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRecords handles GET /api/records.
func (s *Server) handleRecords(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.OutputRoot == "" {
		s.writeError(w, http.StatusServiceUnavailable, "no output directory configured")
		return
	}
	records, err := organizer.LoadRecordStore(organizer.RecordPath(s.cfg.OutputRoot))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, records.Snapshot())
}

// handleOrganize handles POST /api/organize.
// Events are streamed as JSON lines while the batch runs; the last line is
// the summary event, or an error object when the batch could not start.
func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	if s.cfg.OutputRoot == "" {
		s.writeError(w, http.StatusServiceUnavailable, "no output directory configured")
		return
	}

	var req OrganizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.selectTasks(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if !s.acquire() {
		s.writeError(w, http.StatusConflict, "another batch is running")
		return
	}
	defer s.release()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sched := organizer.NewScheduler(s.executor, s.cfg.Concurrency)
	sched.Metrics = s.cfg.Metrics
	sched.Logger = s.log

	events := make(chan organizer.Event, 16)
	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(r.Context(), organizer.Batch{Tasks: tasks, OutputRoot: s.cfg.OutputRoot}, events)
		done <- err
	}()

	encoder := json.NewEncoder(w)
	sawSummary := false
	for e := range events {
		if e.Kind == organizer.EventSummary {
			sawSummary = true
		}
		if err := encoder.Encode(e); err != nil {
			// Client went away; keep draining so the batch can finish.
			s.log.WithError(err).Debug("organize stream encode error")
			continue
		}
		flusher.Flush()
	}

	if err := <-done; err != nil {
		s.log.WithError(err).Warn("organize batch ended with error")
		if !sawSummary {
			_ = encoder.Encode(ErrorResponse{Error: err.Error()})
			flusher.Flush()
		}
	}
}

func (s *Server) selectTasks(req OrganizeRequest) ([]organizer.Task, error) {
	tasks := make([]organizer.Task, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("invalid task %s: %w", t, err)
		}
		tasks = append(tasks, t)
	}
	for _, model := range req.Models {
		versions, err := s.manager.ListVersions(model)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("model '%s' has no versions", model)
		}
		for _, v := range versions {
			tasks = append(tasks, organizer.Task{Model: model, Version: v})
		}
	}
	if req.All {
		mvs, err := s.manager.ListAll()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, organizer.TasksFromVersions(mvs)...)
	}
	if len(tasks) == 0 {
		return nil, errors.New("no tasks: set tasks, models or all")
	}
	return tasks, nil
}

// handleDeleteModels handles DELETE /api/models.
func (s *Server) handleDeleteModels(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Tasks) == 0 {
		s.writeError(w, http.StatusBadRequest, "tasks are required")
		return
	}
	if !s.acquire() {
		s.writeError(w, http.StatusConflict, "another batch is running")
		return
	}
	defer s.release()

	d := organizer.NewDeleter(s.manager)
	d.Logger = s.log

	events := make(chan organizer.Event, 16)
	done := make(chan *organizer.DeleteSummary, 1)
	go func() {
		done <- d.Run(r.Context(), req.Tasks, events)
	}()

	resp := DeleteResponse{Results: make([]DeleteResult, 0, len(req.Tasks))}
	for e := range events {
		res := DeleteResult{Model: e.Task.Model, Version: e.Task.Version, Result: string(e.Kind)}
		switch e.Kind {
		case organizer.EventDeleted, organizer.EventNotFound:
		case organizer.EventFailed:
			res.Error = e.Err.Error()
		default:
			continue
		}
		resp.Results = append(resp.Results, res)
	}
	resp.Summary = <-done
	s.writeJSON(w, http.StatusOK, resp)
}
