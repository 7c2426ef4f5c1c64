package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/retry"
	"github.com/shaiso/rpaflow/internal/scheduler"
	"github.com/shaiso/rpaflow/internal/worker"
)

// gate — executor, пропускающий попытки по команде теста.
type gate struct {
	mu      sync.Mutex
	order   []string
	release chan struct{}
}

func newGate() *gate {
	return &gate{release: make(chan struct{})}
}

func (g *gate) Execute(ctx context.Context, task domain.Task, px *domain.Proxy) (worker.Result, error) {
	g.mu.Lock()
	g.order = append(g.order, task.TargetURL)
	g.mu.Unlock()

	select {
	case <-g.release:
		return worker.Result{ItemsScraped: 1}, nil
	case <-ctx.Done():
		return worker.Result{}, ctx.Err()
	}
}

func (g *gate) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// memStore — Store в памяти.
type memStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]domain.Task
	resumable []domain.Task
	proxies   []domain.Proxy
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[uuid.UUID]domain.Task)}
}

func (s *memStore) Save(ctx context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *memStore) Load(ctx context.Context, id uuid.UUID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, errors.New("task not stored")
	}
	return task, nil
}

func (s *memStore) ListResumable(ctx context.Context) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.resumable...), nil
}

func (s *memStore) SaveProxies(ctx context.Context, proxies []domain.Proxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies = proxies
	return nil
}

func newTestOrchestrator(t *testing.T, poolSize int, exec worker.Executor, store Store) *Orchestrator {
	t.Helper()

	sched := scheduler.New(scheduler.Config{DefaultMaxRetries: 2})
	proxies := proxy.New(proxy.Config{Enabled: false})
	workers := worker.New(worker.Config{
		Size:          poolSize,
		Scheduler:     sched,
		Proxies:       proxies,
		Machine:       retry.New(time.Millisecond, 4*time.Millisecond),
		Executor:      exec,
		Store:         store,
		TaskTimeout:   time.Second,
		IdleInterval:  5 * time.Millisecond,
		ShutdownGrace: 50 * time.Millisecond,
	})

	return New(Config{
		Scheduler:    sched,
		Proxies:      proxies,
		Workers:      workers,
		Store:        store,
		TickInterval: 10 * time.Millisecond,
	})
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestOrchestrator_DispatchOrder(t *testing.T) {
	exec := newGate()
	o := newTestOrchestrator(t, 1, exec, nil)

	// Очередь наполняется до старта: единственный слот разберёт её
	// в порядке (priority desc, затем FIFO)
	urls := []string{"https://example.com/p1-first", "https://example.com/p5", "https://example.com/p1-second"}
	prios := []int{1, 5, 1}
	var ids []uuid.UUID
	for i := range urls {
		task, err := o.Submit(scheduler.SubmitRequest{TargetURL: urls[i], Priority: prios[i]})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, task.ID)
	}

	o.Start(context.Background())
	defer o.Shutdown()

	close(exec.release)
	for _, id := range ids {
		ok := eventually(t, 3*time.Second, func() bool {
			task, err := o.GetStatus(id)
			return err == nil && task.Status == domain.TaskStatusSuccess
		})
		if !ok {
			t.Fatalf("task %s never finished", id)
		}
	}

	want := []string{"https://example.com/p5", "https://example.com/p1-first", "https://example.com/p1-second"}
	got := exec.seen()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order mismatch: got %v, want %v", got, want)
		}
	}
}

func TestOrchestrator_CancelRunning(t *testing.T) {
	exec := newGate()
	o := newTestOrchestrator(t, 1, exec, nil)

	o.Start(context.Background())
	defer o.Shutdown()

	task, err := o.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Дождаться диспетчеризации
	if !eventually(t, 2*time.Second, func() bool { return len(exec.seen()) == 1 }) {
		t.Fatal("task was never dispatched")
	}

	if err := o.Cancel(task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	ok := eventually(t, 2*time.Second, func() bool {
		got, err := o.GetStatus(task.ID)
		return err == nil && got.Status == domain.TaskStatusCancelled
	})
	if !ok {
		got, _ := o.GetStatus(task.ID)
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// Повторная отмена — no-op
	if err := o.Cancel(task.ID); err != nil {
		t.Errorf("second cancel must be a no-op, got %v", err)
	}
}

func TestOrchestrator_CancelUnknown(t *testing.T) {
	o := newTestOrchestrator(t, 1, newGate(), nil)
	if err := o.Cancel(uuid.New()); !errors.Is(err, scheduler.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestOrchestrator_ResumesPersistedTasks(t *testing.T) {
	store := newMemStore()
	resumed := domain.Task{
		ID:         uuid.New(),
		Name:       "left over",
		TargetURL:  "https://example.com/resumed",
		Type:       domain.TaskTypeScrape,
		Status:     domain.TaskStatusPending,
		MaxRetries: 1,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	store.resumable = []domain.Task{resumed}

	exec := newGate()
	close(exec.release)
	o := newTestOrchestrator(t, 1, exec, store)

	o.Start(context.Background())
	defer o.Shutdown()

	ok := eventually(t, 2*time.Second, func() bool {
		task, err := o.GetStatus(resumed.ID)
		return err == nil && task.Status == domain.TaskStatusSuccess
	})
	if !ok {
		t.Fatal("restored task was not executed")
	}
}

func TestOrchestrator_GetStatusFallsBackToStore(t *testing.T) {
	// Завершённый прошлым процессом task: в памяти его нет,
	// resume его не поднимает, но снапшот хранится в БД.
	store := newMemStore()
	archived := domain.Task{
		ID:           uuid.New(),
		Name:         "archived",
		TargetURL:    "https://example.com/done",
		Type:         domain.TaskTypeScrape,
		Status:       domain.TaskStatusSuccess,
		ItemsScraped: 12,
		CreatedAt:    time.Now().Add(-time.Hour),
	}
	store.tasks[archived.ID] = archived

	o := newTestOrchestrator(t, 1, newGate(), store)

	got, err := o.GetStatus(archived.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != domain.TaskStatusSuccess || got.ItemsScraped != 12 {
		t.Errorf("stored snapshot lost: %+v", got)
	}

	if _, err := o.GetStatus(uuid.New()); !errors.Is(err, scheduler.ErrTaskNotFound) {
		t.Errorf("unknown id: expected ErrTaskNotFound, got %v", err)
	}
}

func TestOrchestrator_PoolStats(t *testing.T) {
	exec := newGate()
	o := newTestOrchestrator(t, 2, exec, nil)

	o.Start(context.Background())
	defer o.Shutdown()

	for i := 0; i < 3; i++ {
		if _, err := o.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// Оба слота заняты, один task ждёт в очереди
	ok := eventually(t, 2*time.Second, func() bool {
		st := o.PoolStats()
		return st.Workers.Busy == 2 && st.QueueDepth == 1
	})
	if !ok {
		t.Fatalf("unexpected stats: %+v", o.PoolStats())
	}

	st := o.PoolStats()
	if st.Workers.Size != 2 {
		t.Errorf("expected pool size 2, got %d", st.Workers.Size)
	}
	if st.Tasks[domain.TaskStatusRunning] != 2 {
		t.Errorf("expected 2 running tasks, got %d", st.Tasks[domain.TaskStatusRunning])
	}

	close(exec.release)
}

func TestOrchestrator_ShutdownRejectsNewSubmits(t *testing.T) {
	exec := newGate()
	close(exec.release)
	o := newTestOrchestrator(t, 1, exec, nil)

	o.Start(context.Background())
	o.Shutdown()

	if !o.IsStopped() {
		t.Error("expected orchestrator to report stopped")
	}
	if _, err := o.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com"}); !errors.Is(err, scheduler.ErrClosed) {
		t.Errorf("expected ErrClosed after shutdown, got %v", err)
	}
}
