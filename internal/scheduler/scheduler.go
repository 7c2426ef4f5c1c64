package scheduler

import (
	"container/heap"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/telemetry"
)

// Scheduler — очередь диспетчеризации и реестр task-ов.
//
// Все операции выполняются под одним мьютексом; ни одна из них
// не делает I/O и не держит блокировку дольше одной критической секции.
type Scheduler struct {
	mu sync.Mutex

	live    liveQueue
	delayed delayQueue

	// queued — entry для task-ов, находящихся в одной из куч.
	queued map[uuid.UUID]*queuedEntry

	// tasks — реестр всех принятых task-ов, включая терминальные.
	tasks map[uuid.UUID]*domain.Task

	schedules map[uuid.UUID]*Schedule

	seq    uint64
	closed bool

	defaultMaxRetries int
	logger            *slog.Logger
	now               func() time.Time
}

// queuedEntry связывает entry с кучей, в которой он лежит.
type queuedEntry struct {
	e       *entry
	delayed bool
}

// Config — конфигурация Scheduler.
type Config struct {
	// DefaultMaxRetries — retry-бюджет, если не задан при submit.
	DefaultMaxRetries int

	// Logger (опционально; если nil — slog.Default()).
	Logger *slog.Logger

	// Now — источник времени (для тестов; default: time.Now).
	Now func() time.Time
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	maxRetries := cfg.DefaultMaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Scheduler{
		queued:            make(map[uuid.UUID]*queuedEntry),
		tasks:             make(map[uuid.UUID]*domain.Task),
		schedules:         make(map[uuid.UUID]*Schedule),
		defaultMaxRetries: maxRetries,
		logger:            logger,
		now:               now,
	}
}

// SubmitRequest — запрос на создание task.
type SubmitRequest struct {
	Name      string
	TargetURL string
	Type      domain.TaskType

	// Config — сырой JSON-объект конфигурации; валидируется при submit.
	Config map[string]any

	Priority int

	// MaxRetries — retry-бюджет; nil — значение по умолчанию.
	MaxRetries *int
}

// Submit валидирует запрос и ставит новый task в очередь.
// Ошибки валидации оборачивают ErrValidation и возвращаются синхронно.
func (s *Scheduler) Submit(req SubmitRequest) (domain.Task, error) {
	task, err := s.buildTask(req)
	if err != nil {
		return domain.Task{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Task{}, ErrClosed
	}

	s.tasks[task.ID] = task
	s.pushLive(task)
	depth := len(s.live) + len(s.delayed)
	// Снапшот снимается до отпускания мьютекса: после pushLive task
	// уже может быть выдан слоту и мутировать через Update.
	snapshot := *task
	s.mu.Unlock()

	telemetry.TasksSubmitted.Inc()
	telemetry.QueueDepth.Set(float64(depth))

	s.logger.Info("task submitted",
		"task_id", snapshot.ID,
		"name", snapshot.Name,
		"type", snapshot.Type,
		"priority", snapshot.Priority,
		"max_retries", snapshot.MaxRetries,
	)

	return snapshot, nil
}

// buildTask валидирует SubmitRequest и собирает task со статусом pending.
func (s *Scheduler) buildTask(req SubmitRequest) (*domain.Task, error) {
	if req.TargetURL == "" {
		return nil, fmt.Errorf("%w: target_url is required", ErrValidation)
	}
	if u, err := url.Parse(req.TargetURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: target_url %q is not an absolute URL", ErrValidation, req.TargetURL)
	}

	if req.Priority < domain.PriorityMin || req.Priority > domain.PriorityMax {
		return nil, fmt.Errorf("%w: priority %d out of range [%d, %d]",
			ErrValidation, req.Priority, domain.PriorityMin, domain.PriorityMax)
	}

	maxRetries := s.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be >= 0", ErrValidation)
		}
		maxRetries = *req.MaxRetries
	}

	taskType := req.Type
	if taskType == "" {
		taskType = domain.TaskTypeScrape
	}
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: unknown task_type %q", ErrValidation, taskType)
	}

	cfg, err := domain.ParseTaskConfig(req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	name := req.Name
	if name == "" {
		name = req.TargetURL
	}

	return &domain.Task{
		ID:         uuid.New(),
		Name:       name,
		TargetURL:  req.TargetURL,
		Type:       taskType,
		Config:     cfg,
		Priority:   req.Priority,
		Status:     domain.TaskStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  s.now(),
	}, nil
}

// Restore возвращает в очередь pending task, сохранённый прошлым
// процессом. Существующий id сохраняется; уже известные task-и
// пропускаются.
func (s *Scheduler) Restore(task domain.Task) error {
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("%w: cannot restore task in status %s", ErrValidation, task.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, exists := s.tasks[task.ID]; exists {
		return nil
	}

	t := task
	t.WorkerID = ""
	t.CancelRequested = false
	s.tasks[t.ID] = &t
	s.pushLive(&t)
	telemetry.QueueDepth.Set(float64(len(s.live) + len(s.delayed)))

	return nil
}

// pushLive кладёт task в живую очередь. Вызывается под мьютексом.
func (s *Scheduler) pushLive(task *domain.Task) {
	s.seq++
	e := &entry{task: task, seq: s.seq}
	heap.Push(&s.live, e)
	s.queued[task.ID] = &queuedEntry{e: e}
}

// Next снимает с очереди самый приоритетный pending task.
//
// Пустая очередь — нормальный результат (nil, false), не ошибка.
// Перед выборкой наступившие отложенные entry промоутируются в живую очередь.
func (s *Scheduler) Next() (*domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.promoteLocked(s.now())

	if len(s.live) == 0 {
		return nil, false
	}

	e := heap.Pop(&s.live).(*entry)
	delete(s.queued, e.task.ID)
	telemetry.QueueDepth.Set(float64(len(s.live) + len(s.delayed)))

	return e.task, true
}

// Requeue возвращает retryable task в очередь со сброшенным в pending
// статусом; task невидим для Next, пока не истечёт delay.
func (s *Scheduler) Requeue(taskID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if _, queued := s.queued[taskID]; queued {
		// Уже в очереди — не дублируем: на task может быть
		// не больше одной активной записи.
		return nil
	}

	task.ResetForRetry()

	s.seq++
	e := &entry{task: task, seq: s.seq, readyAt: s.now().Add(delay)}
	if delay <= 0 {
		heap.Push(&s.live, e)
		s.queued[taskID] = &queuedEntry{e: e}
	} else {
		heap.Push(&s.delayed, e)
		s.queued[taskID] = &queuedEntry{e: e, delayed: true}
	}

	telemetry.QueueDepth.Set(float64(len(s.live) + len(s.delayed)))
	return nil
}

// promoteLocked переносит наступившие отложенные entry в живую очередь.
// Вызывается под мьютексом.
func (s *Scheduler) promoteLocked(now time.Time) {
	for len(s.delayed) > 0 && !s.delayed[0].readyAt.After(now) {
		e := heap.Pop(&s.delayed).(*entry)
		heap.Push(&s.live, e)
		if q, ok := s.queued[e.task.ID]; ok {
			q.delayed = false
		}
	}
}

// CancelOutcome — результат операции Cancel.
type CancelOutcome int

const (
	// CancelNoop — task уже в финальном статусе, ничего не изменилось.
	CancelNoop CancelOutcome = iota

	// CancelDone — pending task отменён сразу (терминально).
	CancelDone

	// CancelSignalled — running task помечен для кооперативной отмены;
	// финальный переход выполнит worker в следующей безопасной точке.
	CancelSignalled
)

// Cancel отменяет task. Операция идемпотентна: повторный вызов
// на том же task наблюдаемо эквивалентен одному.
func (s *Scheduler) Cancel(taskID uuid.UUID) (CancelOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return CancelNoop, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if task.Status.IsTerminal() {
		return CancelNoop, nil
	}

	if q, queued := s.queued[taskID]; queued {
		s.removeEntry(q.e, q.delayed)
		delete(s.queued, taskID)
		task.MarkCancelled()
		telemetry.QueueDepth.Set(float64(len(s.live) + len(s.delayed)))
		telemetry.TasksCancelled.Inc()
		s.logger.Info("task cancelled", "task_id", taskID)
		return CancelDone, nil
	}

	// Running (или между Next и MarkRunning) — кооперативная отмена.
	task.CancelRequested = true
	s.logger.Info("task cancellation requested", "task_id", taskID)
	return CancelSignalled, nil
}

// Get возвращает снапшот task по id.
func (s *Scheduler) Get(taskID uuid.UUID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// Update выполняет мутацию task под мьютексом планировщика.
// Единственный путь изменения task вне операций очереди.
func (s *Scheduler) Update(taskID uuid.UUID, fn func(*domain.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	fn(task)
	return nil
}

// Filter — фильтр списка task-ов.
type Filter struct {
	Status domain.TaskStatus
	Type   domain.TaskType
	Limit  int
}

// List возвращает снапшоты task-ов, новые первыми.
func (s *Scheduler) List(f Filter) []domain.Task {
	s.mu.Lock()
	result := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if f.Status != "" && task.Status != f.Status {
			continue
		}
		if f.Type != "" && task.Type != f.Type {
			continue
		}
		result = append(result, *task)
	}
	s.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

// QueueDepth возвращает количество task-ов в очереди (живых и отложенных).
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) + len(s.delayed)
}

// CountByStatus возвращает распределение task-ов по статусам.
func (s *Scheduler) CountByStatus() map[domain.TaskStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[domain.TaskStatus]int)
	for _, task := range s.tasks {
		counts[task.Status]++
	}
	return counts
}

// Tick — служебный тик: промоутирует наступившие отложенные task-и
// и отрабатывает due-расписания.
func (s *Scheduler) Tick() {
	now := s.now()

	s.mu.Lock()
	s.promoteLocked(now)
	s.mu.Unlock()

	s.tickSchedules(now)
}

// Close останавливает приём новых submit-ов.
// Уже стоящие в очереди task-и остаются доступны для Next.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
