package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/scheduler"
)

// SubmitTask создаёт новый task.
// POST /api/v1/tasks
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	task, err := h.orch.Submit(req.ToSubmitRequest())
	if HandleCoreError(w, h.logger, err) {
		return
	}

	Created(w, TaskFromDomain(task))
}

// ListTasks возвращает список tasks с фильтрацией.
// GET /api/v1/tasks?status=...&type=...&limit=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := scheduler.Filter{Limit: 50}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.TaskStatus(status)
	}
	if taskType := r.URL.Query().Get("type"); taskType != "" {
		filter.Type = domain.TaskType(taskType)
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	tasks := h.orch.List(filter)

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// GetTask возвращает task по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.orch.GetStatus(id)
	if HandleCoreError(w, h.logger, err) {
		return
	}

	Success(w, TaskFromDomain(task))
}

// CancelTask отменяет task.
// POST /api/v1/tasks/{id}/cancel
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	if err := h.orch.Cancel(id); HandleCoreError(w, h.logger, err) {
		return
	}

	task, err := h.orch.GetStatus(id)
	if HandleCoreError(w, h.logger, err) {
		return
	}

	Success(w, TaskFromDomain(task))
}
