package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/rpaflow/internal/domain"
)

// taskColumns — список колонок для выборок task.
const taskColumns = `
	id, name, target_url, task_type, config, priority, status,
	retry_count, max_retries, worker_id, error_message, items_scraped,
	artifact_ref, created_at, started_at, completed_at
`

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Save сохраняет снапшот task (insert или update по id).
// Ядро вызывает Save на каждом durable-переходе, поэтому upsert.
func (r *TaskRepo) Save(ctx context.Context, task domain.Task) error {
	configJSON, err := json.Marshal(task.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO tasks (id, name, target_url, task_type, config, priority, status,
		                   retry_count, max_retries, worker_id, error_message, items_scraped,
		                   artifact_ref, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    retry_count = EXCLUDED.retry_count,
		    worker_id = EXCLUDED.worker_id,
		    error_message = EXCLUDED.error_message,
		    items_scraped = EXCLUDED.items_scraped,
		    artifact_ref = EXCLUDED.artifact_ref,
		    started_at = EXCLUDED.started_at,
		    completed_at = EXCLUDED.completed_at
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.Name,
		task.TargetURL,
		task.Type,
		configJSON,
		task.Priority,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		task.WorkerID,
		task.ErrorMessage,
		task.ItemsScraped,
		task.ArtifactRef,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListResumable возвращает незавершённые tasks прошлого процесса.
//
// Running task-и упавшего процесса возвращаются как pending:
// их владелец-слот больше не существует.
func (r *TaskRepo) ListResumable(ctx context.Context) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list resumable tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Status = domain.TaskStatusPending
		tasks[i].WorkerID = ""
		tasks[i].StartedAt = nil
	}
	return tasks, nil
}

// --- Helpers ---

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var configJSON []byte

	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.TargetURL,
		&task.Type,
		&configJSON,
		&task.Priority,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.WorkerID,
		&task.ErrorMessage,
		&task.ItemsScraped,
		&task.ArtifactRef,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if configJSON != nil {
		if err := json.Unmarshal(configJSON, &task.Config); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return &task, nil
}

func collectTasks(rows pgx.Rows) ([]domain.Task, error) {
	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}
