package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/retry"
	"github.com/shaiso/rpaflow/internal/scheduler"
	"github.com/shaiso/rpaflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPoolSize      = 4
	defaultTaskTimeout   = 60 * time.Second
	defaultIdleInterval  = time.Second
	defaultNoProxyDelay  = 5 * time.Second
	defaultShutdownGrace = 30 * time.Second
)

// Событийные типы жизненного цикла task.
const (
	EventTaskStarted   = "task.started"
	EventTaskSucceeded = "task.succeeded"
	EventTaskFailed    = "task.failed"
	EventTaskRetried   = "task.retried"
	EventTaskCancelled = "task.cancelled"
)

// attempt — выполняющаяся попытка.
type attempt struct {
	slotID    string
	cancel    context.CancelFunc
	cancelled bool
}

// Pool — пул worker-слотов фиксированного размера.
type Pool struct {
	size     int
	sched    *scheduler.Scheduler
	proxies  *proxy.Pool
	machine  retry.Machine
	executor Executor
	store    TaskStore
	events   EventSink

	taskTimeout   time.Duration
	idleInterval  time.Duration
	noProxyDelay  time.Duration
	shutdownGrace time.Duration

	// running — выполняющиеся попытки по task id.
	// slots — текущий task каждого слота (uuid.Nil — слот свободен).
	mu      sync.Mutex
	running map[uuid.UUID]*attempt
	slots   map[string]uuid.UUID

	logger        *slog.Logger
	cancelFunc    context.CancelFunc
	attemptCancel context.CancelFunc
	attemptCtx    context.Context
	wg            sync.WaitGroup
	stopped       bool
	stoppedMu     sync.RWMutex
}

// Config — конфигурация пула.
type Config struct {
	// Size — количество слотов (default: 4).
	Size int

	// Scheduler — источник task-ов.
	Scheduler *scheduler.Scheduler

	// Proxies — пул прокси.
	Proxies *proxy.Pool

	// Machine — retry-машина (нулевое значение — дефолтные задержки).
	Machine retry.Machine

	// Executor — исполнитель попыток.
	Executor Executor

	// Store — durable-хранилище task-ов (опционально).
	Store TaskStore

	// Events — публикация событий (опционально).
	Events EventSink

	// TaskTimeout — таймаут попытки, если task не задаёт свой (default: 60s).
	TaskTimeout time.Duration

	// IdleInterval — пауза слота при пустой очереди (default: 1s).
	IdleInterval time.Duration

	// NoProxyDelay — задержка requeue при временном отсутствии
	// здоровых прокси (default: 5s).
	NoProxyDelay time.Duration

	// ShutdownGrace — сколько Stop ждёт выполняющиеся попытки,
	// прежде чем бросить их (default: 30s).
	ShutdownGrace time.Duration

	// Logger (опционально).
	Logger *slog.Logger
}

// New создаёт пул worker-слотов.
func New(cfg Config) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = defaultPoolSize
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	idleInterval := cfg.IdleInterval
	if idleInterval <= 0 {
		idleInterval = defaultIdleInterval
	}
	noProxyDelay := cfg.NoProxyDelay
	if noProxyDelay <= 0 {
		noProxyDelay = defaultNoProxyDelay
	}
	shutdownGrace := cfg.ShutdownGrace
	if shutdownGrace <= 0 {
		shutdownGrace = defaultShutdownGrace
	}
	machine := retry.New(cfg.Machine.BaseDelay, cfg.Machine.MaxDelay)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		size:          size,
		sched:         cfg.Scheduler,
		proxies:       cfg.Proxies,
		machine:       machine,
		executor:      cfg.Executor,
		store:         cfg.Store,
		events:        cfg.Events,
		taskTimeout:   taskTimeout,
		idleInterval:  idleInterval,
		noProxyDelay:  noProxyDelay,
		shutdownGrace: shutdownGrace,
		running:       make(map[uuid.UUID]*attempt),
		slots:         make(map[string]uuid.UUID),
		logger:        logger,
	}
}

// Start запускает слоты пула.
func (p *Pool) Start(ctx context.Context) error {
	dispatchCtx, cancel := context.WithCancel(ctx)
	p.cancelFunc = cancel

	// Выполняющиеся попытки переживают отмену диспетчеризации:
	// их обрывает только таймаут или принудительный abandon.
	attemptCtx, attemptCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.attemptCtx = attemptCtx
	p.attemptCancel = attemptCancel

	p.logger.Info("starting worker pool",
		"size", p.size,
		"task_timeout", p.taskTimeout,
		"shutdown_grace", p.shutdownGrace,
	)

	for i := 0; i < p.size; i++ {
		slotID := fmt.Sprintf("worker-%d", i)
		p.mu.Lock()
		p.slots[slotID] = uuid.Nil
		p.mu.Unlock()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.slotLoop(dispatchCtx, slotID)
		}()
	}

	p.logger.Info("worker pool started")
	return nil
}

// Stop останавливает пул.
//
// Новые task-и не выдаются сразу; выполняющимся попыткам даётся
// grace-период, после чего они бросаются: task помечается failed
// с shutdown-ошибкой, поздний результат Executor-а отбрасывается.
func (p *Pool) Stop() {
	p.stoppedMu.Lock()
	p.stopped = true
	p.stoppedMu.Unlock()

	p.logger.Info("stopping worker pool...",
		"grace", p.shutdownGrace,
	)

	if p.cancelFunc != nil {
		p.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.shutdownGrace):
		p.logger.Warn("shutdown grace elapsed, abandoning running attempts",
			"running", p.RunningCount(),
		)
		if p.attemptCancel != nil {
			p.attemptCancel()
		}
		// Слоты выходят из select сразу, не дожидаясь Executor-а
		<-done
	}

	p.logger.Info("worker pool stopped")
}

// IsStopped проверяет, остановлен ли пул.
func (p *Pool) IsStopped() bool {
	p.stoppedMu.RLock()
	defer p.stoppedMu.RUnlock()
	return p.stopped
}

// CancelTask обрывает выполняющуюся попытку task.
// Возвращает false, если task сейчас не исполняется этим пулом.
func (p *Pool) CancelTask(taskID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.running[taskID]
	if !ok {
		return false
	}
	a.cancelled = true
	a.cancel()
	return true
}

// RunningCount возвращает число занятых слотов.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// SlotInfo — состояние одного слота.
type SlotInfo struct {
	ID     string    `json:"id"`
	TaskID uuid.UUID `json:"task_id,omitempty"`
	Busy   bool      `json:"busy"`
}

// Stats — снапшот состояния пула.
type Stats struct {
	Size  int        `json:"size"`
	Busy  int        `json:"busy"`
	Slots []SlotInfo `json:"slots"`
}

// Stats возвращает снапшот занятости слотов.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Size: p.size}
	for i := 0; i < p.size; i++ {
		slotID := fmt.Sprintf("worker-%d", i)
		taskID := p.slots[slotID]
		busy := taskID != uuid.Nil
		if busy {
			st.Busy++
		}
		st.Slots = append(st.Slots, SlotInfo{ID: slotID, TaskID: taskID, Busy: busy})
	}
	return st
}

// slotLoop — цикл одного слота.
func (p *Pool) slotLoop(ctx context.Context, slotID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := p.sched.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.idleInterval):
			}
			continue
		}

		p.runAttempt(slotID, task.ID)
	}
}

// runAttempt выполняет одну попытку task.
func (p *Pool) runAttempt(slotID string, taskID uuid.UUID) {
	snap, err := p.sched.Get(taskID)
	if err != nil {
		p.logger.Error("dequeued unknown task", "task_id", taskID, "error", err)
		return
	}

	// Отмена, пришедшая между постановкой и диспетчеризацией
	if snap.CancelRequested {
		p.finalizeCancelled(taskID)
		return
	}

	px, err := p.proxies.Acquire(taskID)
	if err != nil {
		p.handleNoProxy(taskID, err)
		return
	}

	p.sched.Update(taskID, func(t *domain.Task) {
		t.MarkRunning(slotID)
		if px != nil {
			t.LastProxy = px.Key()
		}
	})
	p.markBusy(slotID, taskID)
	telemetry.TasksDispatched.Inc()
	telemetry.BusyWorkers.Set(float64(p.RunningCount()))

	snap, _ = p.sched.Get(taskID)
	p.persist(snap)
	p.publish(EventTaskStarted, snap)

	p.logger.Info("task dispatched",
		"task_id", taskID,
		"worker_id", slotID,
		"attempt", snap.RetryCount+1,
		"proxy", snap.LastProxy,
	)

	outcome, result, elapsed, execErr := p.execute(taskID, snap, px)

	p.markIdle(slotID, taskID)
	telemetry.BusyWorkers.Set(float64(p.RunningCount()))
	telemetry.TaskDuration.Observe(elapsed.Seconds())

	if px != nil && (outcome == outcomeSuccess || outcome == outcomeFailure) {
		p.proxies.Report(px.Key(), outcome == outcomeSuccess, elapsed)
	}

	switch outcome {
	case outcomeSuccess:
		p.finalizeSuccess(taskID, result)
	case outcomeCancelled:
		p.finalizeCancelled(taskID)
	case outcomeAbandoned:
		p.finalizeFailed(taskID, ErrShutdownAbandoned.Error())
	default:
		p.handleFailure(taskID, execErr)
	}
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeFailure
	outcomeCancelled
	outcomeAbandoned
)

type attemptReply struct {
	result Result
	err    error
}

// execute вызывает Executor с таймаутом попытки.
//
// Executor работает в дочерней горутине с буферизованным каналом:
// если попытка оборвана по таймауту, отмене или abandon, её поздний
// результат уходит в буфер и отбрасывается.
func (p *Pool) execute(taskID uuid.UUID, snap domain.Task, px *domain.Proxy) (attemptOutcome, Result, time.Duration, error) {
	timeout := snap.Config.Timeout()
	if timeout <= 0 {
		timeout = p.taskTimeout
	}

	attemptCtx, cancel := context.WithCancel(p.attemptCtx)
	execCtx, timeoutCancel := context.WithTimeout(attemptCtx, timeout)
	defer timeoutCancel()
	defer cancel()

	p.mu.Lock()
	p.running[taskID] = &attempt{slotID: snap.WorkerID, cancel: cancel}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, taskID)
		p.mu.Unlock()
	}()

	reply := make(chan attemptReply, 1)
	start := time.Now()
	go func() {
		res, err := p.executor.Execute(execCtx, snap, px)
		reply <- attemptReply{result: res, err: err}
	}()

	select {
	case r := <-reply:
		elapsed := time.Since(start)
		if r.err == nil {
			// Executor мог проигнорировать отмену контекста и вернуть
			// успех; подтверждённый CancelTask имеет приоритет.
			if p.attemptCancelled(taskID) {
				return outcomeCancelled, Result{}, elapsed, context.Canceled
			}
			return outcomeSuccess, r.result, elapsed, nil
		}
		if p.attemptCtx.Err() != nil {
			return outcomeAbandoned, Result{}, elapsed, r.err
		}
		if p.attemptCancelled(taskID) {
			return outcomeCancelled, Result{}, elapsed, r.err
		}
		return outcomeFailure, Result{}, elapsed, r.err

	case <-execCtx.Done():
		elapsed := time.Since(start)
		if p.attemptCtx.Err() != nil {
			return outcomeAbandoned, Result{}, elapsed, ErrShutdownAbandoned
		}
		if p.attemptCancelled(taskID) {
			return outcomeCancelled, Result{}, elapsed, execCtx.Err()
		}
		err := NewExecError(KindTimeout,
			fmt.Errorf("attempt exceeded %s: %w", timeout, execCtx.Err()))
		return outcomeFailure, Result{}, elapsed, err
	}
}

// attemptCancelled проверяет, была ли попытка оборвана через CancelTask.
func (p *Pool) attemptCancelled(taskID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.running[taskID]
	return ok && a.cancelled
}

// handleNoProxy обрабатывает невозможность получить прокси.
//
// При пустом пуле это терминальная ошибка; при временно нездоровом
// пуле task возвращается в очередь с задержкой, не расходуя
// retry-бюджет: ни одной попытки исполнения не было.
func (p *Pool) handleNoProxy(taskID uuid.UUID, acquireErr error) {
	if !errors.Is(acquireErr, proxy.ErrNoHealthyProxy) {
		p.finalizeFailed(taskID, acquireErr.Error())
		return
	}

	if p.proxies.Size() == 0 {
		p.logger.Error("proxy pool is empty and proxies are mandatory",
			"task_id", taskID)
		p.finalizeFailed(taskID, "no healthy proxy: pool is empty")
		return
	}

	p.logger.Warn("no healthy proxy, requeueing task",
		"task_id", taskID,
		"delay", p.noProxyDelay,
	)
	if err := p.sched.Requeue(taskID, p.noProxyDelay); err != nil {
		p.logger.Error("requeue after proxy starvation failed",
			"task_id", taskID, "error", err)
	}
}

// handleFailure применяет решение retry-машины к неуспешной попытке.
func (p *Pool) handleFailure(taskID uuid.UUID, execErr error) {
	snap, err := p.sched.Get(taskID)
	if err != nil {
		p.logger.Error("failed task vanished", "task_id", taskID, "error", err)
		return
	}

	// Отмена, пришедшая во время попытки, запрещает дальнейшие retry
	if snap.CancelRequested {
		p.finalizeCancelled(taskID)
		return
	}

	kind := Classify(execErr)
	decision, derr := p.machine.Next(retry.StateRunning, retry.OutcomeFailure,
		snap.RetryCount, snap.MaxRetries)
	if derr != nil {
		p.logger.Error("retry decision failed", "task_id", taskID, "error", derr)
		p.finalizeFailed(taskID, execErr.Error())
		return
	}

	if decision.State == retry.StateRetry {
		p.sched.Update(taskID, func(t *domain.Task) {
			t.RetryCount = decision.RetryCount
			t.ErrorMessage = execErr.Error()
		})
		if err := p.sched.Requeue(taskID, decision.Backoff); err != nil {
			p.logger.Error("requeue for retry failed", "task_id", taskID, "error", err)
			p.finalizeFailed(taskID, execErr.Error())
			return
		}

		telemetry.TaskRetries.Inc()
		snap, _ = p.sched.Get(taskID)
		p.publish(EventTaskRetried, snap)
		p.logger.Warn("task attempt failed, retrying",
			"task_id", taskID,
			"kind", kind,
			"retry_count", decision.RetryCount,
			"max_retries", snap.MaxRetries,
			"backoff", decision.Backoff,
			"error", execErr,
		)
		return
	}

	// FALLBACK: retry-бюджет исчерпан
	p.logger.Error("task retry budget exhausted",
		"task_id", taskID,
		"kind", kind,
		"retry_count", snap.RetryCount,
		"error", execErr,
	)
	p.finalizeFailed(taskID, execErr.Error())
}

// finalizeSuccess завершает task успехом.
func (p *Pool) finalizeSuccess(taskID uuid.UUID, result Result) {
	p.sched.Update(taskID, func(t *domain.Task) {
		t.MarkSuccess(result.ItemsScraped, result.ArtifactRef)
	})
	telemetry.TasksSucceeded.Inc()
	p.proxies.Release(taskID)

	snap, _ := p.sched.Get(taskID)
	p.persist(snap)
	p.publish(EventTaskSucceeded, snap)
	p.logger.Info("task succeeded",
		"task_id", taskID,
		"items_scraped", result.ItemsScraped,
		"retry_count", snap.RetryCount,
	)
}

// finalizeFailed завершает task терминальным failed.
func (p *Pool) finalizeFailed(taskID uuid.UUID, errMsg string) {
	p.sched.Update(taskID, func(t *domain.Task) {
		if t.Status.IsTerminal() {
			return
		}
		t.MarkFailed(errMsg)
	})
	telemetry.TasksFailed.Inc()
	p.proxies.Release(taskID)

	snap, _ := p.sched.Get(taskID)
	p.persist(snap)
	p.publish(EventTaskFailed, snap)
}

// finalizeCancelled подтверждает кооперативную отмену.
func (p *Pool) finalizeCancelled(taskID uuid.UUID) {
	p.sched.Update(taskID, func(t *domain.Task) {
		if t.Status.IsTerminal() {
			return
		}
		t.MarkCancelled()
	})
	telemetry.TasksCancelled.Inc()
	p.proxies.Release(taskID)

	snap, _ := p.sched.Get(taskID)
	p.persist(snap)
	p.publish(EventTaskCancelled, snap)
	p.logger.Info("task cancelled", "task_id", taskID)
}

// persist сохраняет снапшот task, не блокируя исполнение.
func (p *Pool) persist(task domain.Task) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Save(ctx, task); err != nil {
		p.logger.Error("task persistence failed",
			"task_id", task.ID, "error", err)
	}
}

// publish отправляет событие жизненного цикла task.
func (p *Pool) publish(kind string, task domain.Task) {
	if p.events == nil {
		return
	}
	p.events.TaskEvent(context.Background(), kind, task)
}

// markBusy фиксирует занятость слота.
func (p *Pool) markBusy(slotID string, taskID uuid.UUID) {
	p.mu.Lock()
	p.slots[slotID] = taskID
	p.mu.Unlock()
}

// markIdle освобождает слот.
func (p *Pool) markIdle(slotID string, taskID uuid.UUID) {
	p.mu.Lock()
	if p.slots[slotID] == taskID {
		p.slots[slotID] = uuid.Nil
	}
	p.mu.Unlock()
}
