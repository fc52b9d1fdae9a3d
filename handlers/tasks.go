package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"danmuhub/internal/database"
	"danmuhub/models"
	"danmuhub/services/task"
)

// TaskHandler exposes the task queue: history listing and the
// pause/resume/abort controls.
type TaskHandler struct {
	DB    *database.DB
	Tasks *task.Manager
}

// List is GET /api/control/tasks?status=in_progress|completed&limit=N.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := h.DB.Tasks.List(r.URL.Query().Get("status"), limit)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": rows})
}

// Get is GET /api/control/tasks/{taskId}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.DB.Tasks.Get(mux.Vars(r)["taskId"])
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// Pause is POST /api/control/tasks/{taskId}/pause.
func (h *TaskHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["taskId"], h.Tasks.Pause)
}

// Resume is POST /api/control/tasks/{taskId}/resume.
func (h *TaskHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["taskId"], h.Tasks.Resume)
}

// Abort is POST /api/control/tasks/{taskId}/abort. Works on both running
// and queued tasks.
func (h *TaskHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.control(w, mux.Vars(r)["taskId"], h.Tasks.Abort)
}

// Delete is DELETE /api/control/tasks/{taskId}: drop one finished row
// from history.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	row, err := h.DB.Tasks.Get(taskID)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	if row.Status == models.TaskStatusRunning || row.Status == models.TaskStatusPending || row.Status == models.TaskStatusPaused {
		writeJSONError(w, "任务仍在进行中", http.StatusConflict)
		return
	}
	if err := h.DB.Tasks.Delete(taskID); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Prune is POST /api/control/tasks/prune?days=N: clear finished history
// older than N days (default 7).
func (h *TaskHandler) Prune(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			days = n
		}
	}
	deleted, err := h.DB.Tasks.Prune(time.Now().AddDate(0, 0, -days))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *TaskHandler) control(w http.ResponseWriter, taskID string, op func(string) error) {
	if err := op(taskID); err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeJSONError(w, "task not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": taskID})
}
