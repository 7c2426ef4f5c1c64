package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/scheduler"
	"github.com/shaiso/rpaflow/internal/worker"
)

// defaultTickInterval — период служебного тика планировщика.
const defaultTickInterval = time.Second

// Store — durable-хранилище task-ов, каким его видит Orchestrator.
// Может быть nil: ядро работает и без персистентности.
type Store interface {
	worker.TaskStore

	// Load возвращает сохранённый task по ID.
	Load(ctx context.Context, id uuid.UUID) (domain.Task, error)

	// ListResumable возвращает незавершённые task-и прошлого процесса
	// со сброшенным в pending статусом.
	ListResumable(ctx context.Context) ([]domain.Task, error)

	// SaveProxies сохраняет снапшот статистики прокси.
	SaveProxies(ctx context.Context, proxies []domain.Proxy) error
}

// Orchestrator владеет компонентами ядра и связывает их операции.
type Orchestrator struct {
	sched   *scheduler.Scheduler
	proxies *proxy.Pool
	prober  *proxy.Prober
	workers *worker.Pool
	store   Store

	tickInterval time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Scheduler *scheduler.Scheduler
	Proxies   *proxy.Pool
	Prober    *proxy.Prober
	Workers   *worker.Pool

	// Store (опционально) — восстановление и персистентность task-ов.
	Store Store

	// TickInterval — период тика планировщика (default: 1s).
	TickInterval time.Duration

	// Logger (опционально).
	Logger *slog.Logger
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		sched:        cfg.Scheduler,
		proxies:      cfg.Proxies,
		prober:       cfg.Prober,
		workers:      cfg.Workers,
		store:        cfg.Store,
		tickInterval: tickInterval,
		logger:       logger,
	}
}

// Start запускает ядро: восстанавливает незавершённые task-и,
// поднимает prober и worker-пул, запускает служебный тик.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"tick_interval", o.tickInterval,
		"proxies", o.proxies.Size(),
	)

	o.resume(ctx)

	if o.prober != nil {
		o.prober.Start(ctx)
	}
	if err := o.workers.Start(ctx); err != nil {
		return err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.tickLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Shutdown останавливает ядро.
//
// Новые submit-ы и диспетчеризации прекращаются сразу; выполняющимся
// попыткам пул worker-ов даёт grace-период и затем бросает их.
func (o *Orchestrator) Shutdown() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("shutting down orchestrator...")

	o.sched.Close()
	o.workers.Stop()

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	if o.prober != nil {
		o.prober.Stop()
	}
	o.wg.Wait()

	o.persistProxies()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// Submit валидирует и ставит в очередь новый task.
func (o *Orchestrator) Submit(req scheduler.SubmitRequest) (domain.Task, error) {
	task, err := o.sched.Submit(req)
	if err != nil {
		return domain.Task{}, err
	}
	o.persistTask(task)
	return task, nil
}

// Cancel отменяет task: pending отменяется сразу, running помечается
// для кооперативной отмены, а его попытка прерывается.
func (o *Orchestrator) Cancel(taskID uuid.UUID) error {
	outcome, err := o.sched.Cancel(taskID)
	if err != nil {
		return err
	}

	if outcome == scheduler.CancelSignalled {
		o.workers.CancelTask(taskID)
	}
	if outcome == scheduler.CancelDone {
		if task, gerr := o.sched.Get(taskID); gerr == nil {
			o.persistTask(task)
		}
	}
	return nil
}

// GetStatus возвращает снапшот task.
//
// Task-и, завершённые прошлым процессом, в память не восстанавливаются;
// для них ответ читается из хранилища.
func (o *Orchestrator) GetStatus(taskID uuid.UUID) (domain.Task, error) {
	task, err := o.sched.Get(taskID)
	if err == nil || o.store == nil || !errors.Is(err, scheduler.ErrTaskNotFound) {
		return task, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, loadErr := o.store.Load(ctx, taskID)
	if loadErr != nil {
		return domain.Task{}, err
	}
	return stored, nil
}

// List возвращает снапшоты task-ов по фильтру.
func (o *Orchestrator) List(f scheduler.Filter) []domain.Task {
	return o.sched.List(f)
}

// PoolStats — сводный снапшот состояния ядра.
type PoolStats struct {
	Workers        worker.Stats              `json:"workers"`
	QueueDepth     int                       `json:"queue_depth"`
	Tasks          map[domain.TaskStatus]int `json:"tasks"`
	ProxiesTotal   int                       `json:"proxies_total"`
	ProxiesHealthy int                       `json:"proxies_healthy"`
}

// PoolStats возвращает сводку по очереди, слотам и прокси.
func (o *Orchestrator) PoolStats() PoolStats {
	return PoolStats{
		Workers:        o.workers.Stats(),
		QueueDepth:     o.sched.QueueDepth(),
		Tasks:          o.sched.CountByStatus(),
		ProxiesTotal:   o.proxies.Size(),
		ProxiesHealthy: o.proxies.HealthyCount(),
	}
}

// ProxyStats возвращает снапшоты всех прокси.
func (o *Orchestrator) ProxyStats() []domain.Proxy {
	return o.proxies.Snapshot()
}

// AddSchedule регистрирует повторяющееся расписание.
func (o *Orchestrator) AddSchedule(sch scheduler.Schedule) (scheduler.Schedule, error) {
	return o.sched.AddSchedule(sch)
}

// Schedules возвращает все расписания.
func (o *Orchestrator) Schedules() []scheduler.Schedule {
	return o.sched.Schedules()
}

// RemoveSchedule удаляет расписание.
func (o *Orchestrator) RemoveSchedule(id uuid.UUID) error {
	return o.sched.RemoveSchedule(id)
}

// resume восстанавливает незавершённые task-и из хранилища.
func (o *Orchestrator) resume(ctx context.Context) {
	if o.store == nil {
		return
	}

	tasks, err := o.store.ListResumable(ctx)
	if err != nil {
		o.logger.Error("failed to load resumable tasks", "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	restored := 0
	for _, task := range tasks {
		if err := o.sched.Restore(task); err != nil {
			o.logger.Error("failed to restore task",
				"task_id", task.ID, "error", err)
			continue
		}
		restored++
	}
	o.logger.Info("resumed unfinished tasks", "count", restored)
}

// tickLoop — служебный тик: промоушен отложенных task-ов,
// due-расписания, периодический снапшот статистики прокси.
func (o *Orchestrator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	proxySnapshotEvery := 60
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sched.Tick()
			n++
			if n%proxySnapshotEvery == 0 {
				o.persistProxies()
			}
		}
	}
}

// persistTask сохраняет снапшот task, не влияя на исход операции.
func (o *Orchestrator) persistTask(task domain.Task) {
	if o.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.Save(ctx, task); err != nil {
		o.logger.Error("task persistence failed", "task_id", task.ID, "error", err)
	}
}

// persistProxies сохраняет снапшот статистики прокси.
func (o *Orchestrator) persistProxies() {
	if o.store == nil || o.proxies.Size() == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.SaveProxies(ctx, o.proxies.Snapshot()); err != nil {
		o.logger.Error("proxy snapshot persistence failed", "error", err)
	}
}
