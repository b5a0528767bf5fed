// Package handlers provides HTTP handlers for the finsight API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/observability"
	"github.com/spherical-ai/finsight/internal/progress"
	"github.com/spherical-ai/finsight/internal/queue"
	"github.com/spherical-ai/finsight/internal/storage"
)

// Enqueuer accepts tasks for the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// RunLookup reads the run ledger.
type RunLookup interface {
	LatestForTask(ctx context.Context, taskID string) (*storage.Run, error)
	ListRecent(ctx context.Context, limit int) ([]*storage.Run, error)
}

// TaskHandler handles document intake and task status requests.
type TaskHandler struct {
	logger    *observability.Logger
	queue     Enqueuer
	status    progress.StatusReader
	events    progress.Subscriber
	runs      RunLookup
	heartbeat time.Duration
}

const streamHeartbeat = 15 * time.Second

// NewTaskHandler creates a task handler. events and runs may be nil.
func NewTaskHandler(logger *observability.Logger, q Enqueuer, status progress.StatusReader, events progress.Subscriber, runs RunLookup) *TaskHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TaskHandler{
		logger:    logger,
		queue:     q,
		status:    status,
		events:    events,
		runs:      runs,
		heartbeat: streamHeartbeat,
	}
}

// AcceptedDTO is returned for every queued task.
type AcceptedDTO struct {
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Files     int    `json:"files"`
	StatusURL string `json:"status_url"`
}

// BatchRequestDTO is the body of a batch submission.
type BatchRequestDTO struct {
	Files []domain.Submission `json:"files"`
}

// TaskStatusDTO is the status of a task whose progress entry has expired.
type TaskStatusDTO struct {
	TaskID string       `json:"task_id"`
	State  domain.Stage `json:"state"`
	Run    *storage.Run `json:"run"`
}

// SubmitDocument handles POST /api/v1/documents.
func (h *TaskHandler) SubmitDocument(w http.ResponseWriter, r *http.Request) {
	var sub domain.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if sub.Content == "" {
		h.writeError(w, http.StatusBadRequest, "content is required", "")
		return
	}
	h.enqueue(w, r, queue.NewDocumentTask(sub))
}

// SubmitBatch handles POST /api/v1/batches/{kind}.
func (h *TaskHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	kindParam := chi.URLParam(r, "kind")
	kind, ok := queue.ParseKind(kindParam)
	if !ok || !kind.IsBatch() {
		h.writeError(w, http.StatusNotFound, "unknown batch kind", kindParam)
		return
	}

	var req BatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	task, err := queue.NewBatchTask(kind, req.Files)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid batch", err.Error())
		return
	}
	h.enqueue(w, r, task)
}

func (h *TaskHandler) enqueue(w http.ResponseWriter, r *http.Request, task queue.Task) {
	if err := task.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid submission", err.Error())
		return
	}
	if err := h.queue.Enqueue(r.Context(), task); err != nil {
		h.logger.WithTask(task.ID).Error().Err(err).Msg("Failed to enqueue task")
		h.writeError(w, http.StatusServiceUnavailable, "queue unavailable", err.Error())
		return
	}

	h.logger.WithTask(task.ID).Info().
		Str("kind", string(task.Kind)).
		Int("files", len(task.Submissions)).
		Msg("Task queued")

	h.writeJSON(w, http.StatusAccepted, AcceptedDTO{
		TaskID:    task.ID,
		Kind:      string(task.Kind),
		Status:    "queued",
		Files:     len(task.Submissions),
		StatusURL: "/api/v1/tasks/" + task.ID,
	})
}

// GetTask handles GET /api/v1/tasks/{taskId}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskId")

	ev, err := h.status.Latest(ctx, taskID)
	if err == nil {
		h.writeJSON(w, http.StatusOK, ev)
		return
	}
	if !errors.Is(err, progress.ErrNotFound) {
		h.writeError(w, http.StatusServiceUnavailable, "status unavailable", err.Error())
		return
	}

	if h.runs == nil {
		h.writeError(w, http.StatusNotFound, "task not found", taskID)
		return
	}
	run, err := h.runs.LatestForTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "task not found", taskID)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ledger unavailable", err.Error())
		return
	}

	state := domain.StageFailed
	if run.Status == storage.RunStatusSucceeded {
		state = domain.StageSucceeded
	}
	h.writeJSON(w, http.StatusOK, TaskStatusDTO{TaskID: taskID, State: state, Run: run})
}

// StreamTask handles GET /api/v1/tasks/{taskId}/events as server-sent events.
// The stream ends after the terminal event.
func (h *TaskHandler) StreamTask(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		h.writeError(w, http.StatusNotImplemented, "event streaming unavailable", "")
		return
	}
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskId")
	events, err := progress.Watch(ctx, h.events, taskID)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "subscribe failed", err.Error())
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// a task that already finished has nothing left to publish
	if ev, err := h.status.Latest(ctx, taskID); err == nil {
		if err := writeSSE(w, rc, ev); err != nil || ev.State.IsTerminal() {
			return
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, rc, ev); err != nil {
				h.logger.Debug().Err(err).Str("task_id", taskID).Msg("Event stream closed by client")
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, rc *http.ResponseController, ev domain.ProgressEvent) error {
	blob, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.State); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	_ = rc.Flush()
	return nil
}

// ListRuns handles GET /api/v1/runs.
func (h *TaskHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.writeError(w, http.StatusNotImplemented, "run ledger disabled", "")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			h.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", s)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRecent(r.Context(), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ledger unavailable", err.Error())
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *TaskHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (h *TaskHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}
