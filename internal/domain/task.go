package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — единица автоматизации, отслеживаемая через жизненный цикл статусов.
//
// Task создаётся при submit (API/CLI или schedule), диспетчеризуется
// Scheduler-ом, выполняется одним из worker-слотов. В каждый момент времени
// task изменяет ровно один компонент: Scheduler (в очереди), Worker Pool
// (во время попытки) или Retry-машина (решение после попытки).
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// Name — человекочитаемое имя task.
	Name string `json:"name"`

	// TargetURL — целевой URL для executor-а.
	TargetURL string `json:"target_url"`

	// Type — тип автоматизации: scrape, navigate, form_fill, login, custom.
	Type TaskType `json:"task_type"`

	// Config — валидированная конфигурация для executor-а.
	Config TaskConfig `json:"config"`

	// Priority — приоритет диспетчеризации, больше — раньше.
	// Допустимый диапазон [PriorityMin, PriorityMax].
	Priority int `json:"priority"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// RetryCount — количество уже израсходованных retry-попыток.
	// Инвариант: 0 <= RetryCount <= MaxRetries.
	RetryCount int `json:"retry_count"`

	// MaxRetries — retry-бюджет: максимум повторных попыток после первой.
	MaxRetries int `json:"max_retries"`

	// WorkerID — идентификатор слота, выполняющего task.
	// Непустой тогда и только тогда, когда Status == running.
	WorkerID string `json:"worker_id,omitempty"`

	// CreatedAt — время создания (submit).
	CreatedAt time.Time `json:"created_at"`

	// StartedAt — время начала первой попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt — время достижения финального статуса.
	// Установлен тогда и только тогда, когда статус финальный.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ErrorMessage — текст последней ошибки.
	ErrorMessage string `json:"error_message,omitempty"`

	// ItemsScraped — количество извлечённых элементов.
	ItemsScraped int `json:"items_scraped"`

	// ArtifactRef — ссылка на артефакт выполнения (скриншот, дамп страницы),
	// если executor его сохранил.
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// CancelRequested — флаг кооперативной отмены. Выставляется при cancel
	// running-task; worker проверяет его в следующей безопасной точке.
	CancelRequested bool `json:"-"`

	// LastProxy — адрес прокси последней попытки ("host:port").
	// Proxy Pool исключает его при выборе прокси для retry.
	LastProxy string `json:"-"`
}

// Приоритетные границы, проверяются при submit.
const (
	PriorityMin = 0
	PriorityMax = 100
)

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если task ещё не завершён.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task в финальном статусе.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// CanRetry проверяет, остался ли retry-бюджет.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// MarkRunning переводит task в running и закрепляет за слотом.
func (t *Task) MarkRunning(workerID string) {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.WorkerID = workerID
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
}

// MarkSuccess переводит task в success с результатами попытки.
func (t *Task) MarkSuccess(itemsScraped int, artifactRef string) {
	now := time.Now()
	t.Status = TaskStatusSuccess
	t.WorkerID = ""
	t.CompletedAt = &now
	t.ItemsScraped = itemsScraped
	t.ArtifactRef = artifactRef
	t.ErrorMessage = ""
}

// MarkFailed переводит task в failed с текстом последней ошибки.
func (t *Task) MarkFailed(errMsg string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.WorkerID = ""
	t.CompletedAt = &now
	t.ErrorMessage = errMsg
}

// MarkCancelled переводит task в cancelled.
func (t *Task) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.WorkerID = ""
	t.CompletedAt = &now
}

// ResetForRetry возвращает task в pending перед повторной попыткой.
// RetryCount увеличивает retry-машина при решении о переходе в RETRY.
func (t *Task) ResetForRetry() {
	t.Status = TaskStatusPending
	t.WorkerID = ""
}
