// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// Services take primitives and return domain errors (apperror), never HTTP
// status codes, so the same rules apply to any caller.
//
// DEPENDENCY INJECTION:
// TaskService takes a repository.TaskRepository (interface), NOT a concrete
// backend. Tests pass an in-memory fake; the server picks sqlite, postgres or
// mongo from configuration.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/metrics"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
)

const (
	// MaxTitleLength caps a task title, counted in runes.
	MaxTitleLength = 200
	// MaxDescriptionLength caps a task description, counted in runes.
	MaxDescriptionLength = 5000
)

// errTaskNotFound replaces the backend's id-bearing message with the API's
// fixed one.
var errTaskNotFound = apperror.NotFoundMessage("Task not found")

// TaskService handles owner-scoped task CRUD.
//
// OWNERSHIP:
// Every method takes the caller's verified user ID (from the session, never
// from the request body). Update and Delete load the task first: a missing
// task is NotFound, a task owned by someone else is Forbidden.
type TaskService struct {
	repo    repository.TaskRepository
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewTaskService creates a new TaskService. rec may be nil.
func NewTaskService(repo repository.TaskRepository, rec metrics.Recorder, logger *slog.Logger) *TaskService {
	return &TaskService{
		repo:    repo,
		metrics: metrics.OrNop(rec),
		logger:  logger,
	}
}

// Create validates and saves a new task owned by ownerID. Completed starts false.
func (s *TaskService) Create(ctx context.Context, ownerID, title, description string) (*model.Task, error) {
	if ownerID == "" {
		return nil, apperror.Unauthorized("Unauthorized: Invalid token")
	}
	if err := validateTaskFields(title, description); err != nil {
		return nil, err
	}

	task := &model.Task{
		UserID:      ownerID,
		Title:       title,
		Description: description,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		s.logger.Error("failed to create task",
			slog.String("userID", ownerID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.metrics.RecordTaskOp(metrics.TaskCreate)
	s.logger.Info("task created",
		slog.String("id", task.ID),
		slog.String("userID", ownerID),
	)
	return task, nil
}

// List returns every task owned by ownerID. The slice is never nil.
func (s *TaskService) List(ctx context.Context, ownerID string) ([]model.Task, error) {
	if ownerID == "" {
		return nil, apperror.Unauthorized("Unauthorized: Invalid token")
	}

	tasks, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		s.logger.Error("failed to list tasks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	s.metrics.RecordTaskOp(metrics.TaskList)
	return tasks, nil
}

// Update applies a partial update to one of the caller's tasks.
//
// STRATEGY: "Fetch, check owner, then update"
// The repository update is itself filtered by owner, so a task that changes
// hands between the two calls is reported as NotFound rather than mutated.
func (s *TaskService) Update(ctx context.Context, ownerID, id string, patch model.TaskPatch) (*model.Task, error) {
	task, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil || patch.Description != nil {
		title, description := task.Title, task.Description
		if patch.Title != nil {
			title = *patch.Title
		}
		if patch.Description != nil {
			description = *patch.Description
		}
		if err := validateTaskFields(title, description); err != nil {
			return nil, err
		}
		patch.Title, patch.Description = &title, &description
	}
	patch.Apply(task)

	if err := s.repo.Update(ctx, task); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errTaskNotFound
		}
		s.logger.Error("failed to update task",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating task: %w", err)
	}

	s.metrics.RecordTaskOp(metrics.TaskUpdate)
	s.logger.Info("task updated", slog.String("id", id))
	return task, nil
}

// Delete removes one of the caller's tasks.
func (s *TaskService) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id, ownerID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return errTaskNotFound
		}
		s.logger.Error("failed to delete task",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("deleting task: %w", err)
	}

	s.metrics.RecordTaskOp(metrics.TaskDelete)
	s.logger.Info("task deleted", slog.String("id", id))
	return nil
}

// owned loads a task and checks that ownerID owns it.
func (s *TaskService) owned(ctx context.Context, ownerID, id string) (*model.Task, error) {
	if ownerID == "" {
		return nil, apperror.Unauthorized("Unauthorized: Invalid token")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "task ID is required")
	}

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, errTaskNotFound
		}
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	if task.UserID != ownerID {
		s.metrics.RecordOwnershipDenied()
		s.logger.Warn("task ownership denied",
			slog.String("id", id),
			slog.String("userID", ownerID),
		)
		return nil, apperror.Forbidden("You do not have permission to modify this task")
	}
	return task, nil
}

// validateTaskFields enforces length limits. Values are stored exactly as
// sent and empty values are allowed.
func validateTaskFields(title, description string) error {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return apperror.ValidationFailed("description",
			fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	}
	return nil
}
