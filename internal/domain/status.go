package domain

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	pending → running → success
//	                  ↘ failed (после исчерпания retry)
//	        (или) → cancelled (из pending или running)
//
// После retryable-ошибки task возвращается из running в pending
// с задержкой (backoff) и ждёт повторной диспетчеризации.
type TaskStatus string

const (
	// TaskStatusPending — task в очереди, ожидает диспетчеризации.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning — task выполняется worker-слотом.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSuccess — task успешно завершён.
	TaskStatusSuccess TaskStatus = "success"

	// TaskStatusFailed — task завершился с ошибкой (retry исчерпаны
	// или принудительное завершение при shutdown).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusCancelled — task отменён пользователем.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal возвращает true, если статус финальный.
// Из финального статуса task не переходит ни в pending, ни в running.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskType — тип автоматизации, который executor применяет к target_url.
type TaskType string

const (
	// TaskTypeScrape — извлечение данных со страницы.
	TaskTypeScrape TaskType = "scrape"

	// TaskTypeNavigate — навигация без извлечения (прогрев, проверка доступности).
	TaskTypeNavigate TaskType = "navigate"

	// TaskTypeFormFill — заполнение формы.
	TaskTypeFormFill TaskType = "form_fill"

	// TaskTypeLogin — авторизация на целевом сайте.
	TaskTypeLogin TaskType = "login"

	// TaskTypeCustom — произвольный сценарий, интерпретируется executor-ом.
	TaskTypeCustom TaskType = "custom"
)

// Valid проверяет, что тип известен системе.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeScrape, TaskTypeNavigate, TaskTypeFormFill, TaskTypeLogin, TaskTypeCustom:
		return true
	default:
		return false
	}
}
