package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/scheduler"
)

// Task DTOs

// SubmitTaskRequest — запрос на создание task.
type SubmitTaskRequest struct {
	Name       string         `json:"name,omitempty"`
	TargetURL  string         `json:"target_url"`
	Type       string         `json:"task_type,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// ToSubmitRequest конвертирует DTO в запрос планировщика.
func (r SubmitTaskRequest) ToSubmitRequest() scheduler.SubmitRequest {
	return scheduler.SubmitRequest{
		Name:       r.Name,
		TargetURL:  r.TargetURL,
		Type:       domain.TaskType(r.Type),
		Config:     r.Config,
		Priority:   r.Priority,
		MaxRetries: r.MaxRetries,
	}
}

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	TargetURL    string     `json:"target_url"`
	Type         string     `json:"task_type"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	WorkerID     string     `json:"worker_id,omitempty"`
	ItemsScraped int        `json:"items_scraped"`
	ArtifactRef  string     `json:"artifact_ref,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Name:         t.Name,
		TargetURL:    t.TargetURL,
		Type:         string(t.Type),
		Priority:     t.Priority,
		Status:       string(t.Status),
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		WorkerID:     t.WorkerID,
		ItemsScraped: t.ItemsScraped,
		ArtifactRef:  t.ArtifactRef,
		Error:        t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// Schedule DTOs

// CreateScheduleRequest — запрос на создание schedule.
// Enabled — указатель: отсутствующее поле означает "включено".
type CreateScheduleRequest struct {
	Name        string            `json:"name,omitempty"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Template    SubmitTaskRequest `json:"template"`
}

// IsEnabled возвращает значение Enabled с дефолтом true.
func (r CreateScheduleRequest) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// ScheduleResponse — ответ с schedule.
type ScheduleResponse struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name,omitempty"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone"`
	Enabled     bool              `json:"enabled"`
	Template    SubmitTaskRequest `json:"template"`
	NextDueAt   *time.Time        `json:"next_due_at,omitempty"`
	LastRunAt   *time.Time        `json:"last_run_at,omitempty"`
	LastTaskID  *uuid.UUID        `json:"last_task_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ScheduleFromDomain конвертирует scheduler.Schedule в ScheduleResponse.
func ScheduleFromDomain(s scheduler.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:          s.ID,
		Name:        s.Name,
		CronExpr:    s.CronExpr,
		IntervalSec: s.IntervalSec,
		Timezone:    s.Timezone,
		Enabled:     s.Enabled,
		Template: SubmitTaskRequest{
			Name:       s.Template.Name,
			TargetURL:  s.Template.TargetURL,
			Type:       string(s.Template.Type),
			Config:     s.Template.Config,
			Priority:   s.Template.Priority,
			MaxRetries: s.Template.MaxRetries,
		},
		NextDueAt:  s.NextDueAt,
		LastRunAt:  s.LastRunAt,
		LastTaskID: s.LastTaskID,
		CreatedAt:  s.CreatedAt,
	}
}
