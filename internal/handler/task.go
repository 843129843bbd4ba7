package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/auth"
	"github.com/sakif/todo-api/internal/model"
)

// TaskService is the subset of *service.TaskService the handlers call.
type TaskService interface {
	Create(ctx context.Context, ownerID, title, description string) (*model.Task, error)
	List(ctx context.Context, ownerID string) ([]model.Task, error)
	Update(ctx context.Context, ownerID, id string, patch model.TaskPatch) (*model.Task, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// TaskHandler serves the caller's to-do list. Every route sits behind
// auth.RequireAuth; the owner always comes from the session, never the body.
type TaskHandler struct {
	svc    TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// updateTaskRequest uses pointers so an absent field can be told apart from
// an empty one: {"completed":false} must clear the flag, {} must not.
type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

type taskResponse struct {
	Task *model.Task `json:"task"`
}

type taskListResponse struct {
	Tasks []model.Task `json:"tasks"`
}

// HandleCreate adds a task for the caller.
//
// HTTP: POST /api/v1/tasks/todos
// REQUEST BODY: {"title":"buy milk","description":"2 litres"}
// 201 {"task":{...}}
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.svc.Create(r.Context(), ownerID, req.Title, req.Description)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, taskResponse{Task: task})
}

// HandleList returns the caller's tasks.
//
// HTTP: GET /api/v1/tasks/todos
// 200 {"tasks":[...]}; an empty list is [] not null.
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	tasks, err := h.svc.List(r.Context(), ownerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks})
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /api/v1/tasks/todos/{id}
// REQUEST BODY: any of {"title","description","completed"}
// 200 {"task":{...}}; 404 unknown id; 403 someone else's task.
func (h *TaskHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	patch := model.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	}
	task, err := h.svc.Update(r.Context(), ownerID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, taskResponse{Task: task})
}

// HandleDelete removes a task.
//
// HTTP: DELETE /api/v1/tasks/todos/{id}
// 200 {"message":"Task deleted successfully"}
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), ownerID, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Task deleted successfully"})
}

// owner pulls the session user out of the context, answering 401 itself when
// the route was mounted without RequireAuth.
func (h *TaskHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Unauthorized: No token provided"))
		return "", false
	}
	return userID, true
}
