package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/retry"
	"github.com/shaiso/rpaflow/internal/scheduler"
)

// newTestPool собирает пул с быстрыми интервалами поверх настоящих
// планировщика и пула прокси.
func newTestPool(t *testing.T, size int, exec Executor, proxies *proxy.Pool) (*Pool, *scheduler.Scheduler) {
	t.Helper()

	sched := scheduler.New(scheduler.Config{DefaultMaxRetries: 3})
	if proxies == nil {
		proxies = proxy.New(proxy.Config{Enabled: false})
	}

	p := New(Config{
		Size:          size,
		Scheduler:     sched,
		Proxies:       proxies,
		Machine:       retry.New(time.Millisecond, 4*time.Millisecond),
		Executor:      exec,
		TaskTimeout:   200 * time.Millisecond,
		IdleInterval:  5 * time.Millisecond,
		NoProxyDelay:  10 * time.Millisecond,
		ShutdownGrace: 100 * time.Millisecond,
	})
	return p, sched
}

func submit(t *testing.T, sched *scheduler.Scheduler, maxRetries int) domain.Task {
	t.Helper()
	task, err := sched.Submit(scheduler.SubmitRequest{
		TargetURL:  "https://example.com",
		MaxRetries: &maxRetries,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return task
}

// eventually ждёт выполнения условия, с запасом для медленных CI.
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

func waitForStatus(t *testing.T, sched *scheduler.Scheduler, id uuid.UUID, want domain.TaskStatus) domain.Task {
	t.Helper()
	ok := eventually(t, 3*time.Second, func() bool {
		task, err := sched.Get(id)
		return err == nil && task.Status == want
	})
	task, _ := sched.Get(id)
	if !ok {
		t.Fatalf("task %s never reached %s, stuck at %s (%s)",
			id, want, task.Status, task.ErrorMessage)
	}
	return task
}

func TestPool_SuccessfulAttempt(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		return Result{ItemsScraped: 7, ArtifactRef: "s3://bucket/run1"}, nil
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusSuccess)

	if final.ItemsScraped != 7 {
		t.Errorf("expected 7 items, got %d", final.ItemsScraped)
	}
	if final.ArtifactRef != "s3://bucket/run1" {
		t.Errorf("artifact ref lost: %q", final.ArtifactRef)
	}
	if final.RetryCount != 0 {
		t.Errorf("expected no retries, got %d", final.RetryCount)
	}
	if final.WorkerID == "" || final.StartedAt == nil || final.CompletedAt == nil {
		t.Error("worker id and timestamps must be recorded")
	}
}

func TestPool_RetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		if attempts.Add(1) <= 2 {
			return Result{}, NewExecError(KindTimeout, errors.New("page load timed out"))
		}
		return Result{ItemsScraped: 1}, nil
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusSuccess)

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if final.RetryCount != 2 {
		t.Errorf("expected retry_count 2, got %d", final.RetryCount)
	}
}

func TestPool_BudgetExhausted(t *testing.T) {
	var attempts atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		n := attempts.Add(1)
		return Result{}, NewExecError(KindNetwork, fmt.Errorf("connection reset (attempt %d)", n))
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 2)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusFailed)

	// Первая попытка + 2 retry
	if got := attempts.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if final.RetryCount != 2 {
		t.Errorf("expected retry_count 2, got %d", final.RetryCount)
	}
	if !strings.Contains(final.ErrorMessage, "attempt 3") {
		t.Errorf("error message must reflect the last failure, got %q", final.ErrorMessage)
	}
}

func TestPool_AttemptTimeout(t *testing.T) {
	var attempts atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		if attempts.Add(1) == 1 {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{ItemsScraped: 1}, nil
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 1)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusSuccess)

	if final.RetryCount != 1 {
		t.Errorf("timeout must consume one retry, got retry_count %d", final.RetryCount)
	}
}

func TestPool_ConcurrencyBounded(t *testing.T) {
	const size = 2
	var current, peak atomic.Int32

	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return Result{ItemsScraped: 1}, nil
	})
	p, sched := newTestPool(t, size, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	var ids []uuid.UUID
	for i := 0; i < 8; i++ {
		ids = append(ids, submit(t, sched, 0).ID)
	}
	for _, id := range ids {
		waitForStatus(t, sched, id, domain.TaskStatusSuccess)
	}

	if got := peak.Load(); got > size {
		t.Errorf("observed %d concurrent attempts with pool size %d", got, size)
	}
}

func TestPool_ShutdownAbandonsRunning(t *testing.T) {
	started := make(chan struct{}, 2)
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	p, sched := newTestPool(t, 2, exec, nil)

	p.Start(context.Background())

	first := submit(t, sched, 3)
	second := submit(t, sched, 3)
	<-started
	<-started

	// Task, который не успел диспетчеризоваться до остановки
	late := submit(t, sched, 3)

	p.Stop()

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		task, _ := sched.Get(id)
		if task.Status != domain.TaskStatusFailed {
			t.Errorf("task %s: expected failed after abandonment, got %s", id, task.Status)
		}
		if !strings.Contains(task.ErrorMessage, "shutdown") {
			t.Errorf("task %s: expected shutdown error, got %q", id, task.ErrorMessage)
		}
	}

	task, _ := sched.Get(late.ID)
	if task.Status != domain.TaskStatusPending {
		t.Errorf("no new task may be dispatched after shutdown, got %s", task.Status)
	}
}

func TestPool_CooperativeCancel(t *testing.T) {
	started := make(chan struct{}, 1)
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)
	<-started

	outcome, err := sched.Cancel(task.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if outcome != scheduler.CancelSignalled {
		t.Fatalf("expected CancelSignalled, got %v", outcome)
	}
	if !p.CancelTask(task.ID) {
		t.Fatal("expected a running attempt to interrupt")
	}

	final := waitForStatus(t, sched, task.ID, domain.TaskStatusCancelled)
	if final.CompletedAt == nil {
		t.Error("cancelled task must have completed_at set")
	}
}

func TestPool_CancelOverridesLateSuccess(t *testing.T) {
	// Executor игнорирует отмену контекста и возвращает успех
	// уже после подтверждённого CancelTask.
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		started <- struct{}{}
		<-release
		return Result{ItemsScraped: 5}, nil
	})
	p, sched := newTestPool(t, 1, exec, nil)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)
	<-started

	if _, err := sched.Cancel(task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !p.CancelTask(task.ID) {
		t.Fatal("expected a running attempt to interrupt")
	}
	close(release)

	final := waitForStatus(t, sched, task.ID, domain.TaskStatusCancelled)
	if final.ItemsScraped != 0 {
		t.Errorf("cancelled task must not record scraped items, got %d", final.ItemsScraped)
	}
}

func TestPool_MandatoryEmptyProxyPoolFailsTask(t *testing.T) {
	proxies := proxy.New(proxy.Config{Enabled: true, Mandatory: true})
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		t.Error("executor must not run without a proxy")
		return Result{}, nil
	})
	p, sched := newTestPool(t, 1, exec, proxies)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusFailed)

	if !strings.Contains(final.ErrorMessage, "no healthy proxy") {
		t.Errorf("expected proxy error, got %q", final.ErrorMessage)
	}
	if final.RetryCount != 0 {
		t.Errorf("proxy starvation must not consume retries, got %d", final.RetryCount)
	}
}

func TestPool_ProxyStarvationRequeuesWithoutRetry(t *testing.T) {
	proxies := proxy.New(proxy.Config{
		Enabled: true, Mandatory: true,
		FailThreshold: 1, Cooldown: time.Hour,
	})
	proxies.Add(domain.Proxy{Address: "1.1.1.1", Port: 8080, Protocol: "http"})
	proxies.Report("1.1.1.1:8080", false, 0)

	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		calls.Add(1)
		return Result{ItemsScraped: 1}, nil
	})
	p, sched := newTestPool(t, 1, exec, proxies)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 3)

	// Пул непустой, но нездоровый: task циклится через delayed requeue,
	// не расходуя retry-бюджет и не доходя до Executor-а
	time.Sleep(100 * time.Millisecond)

	snap, _ := sched.Get(task.ID)
	if snap.Status.IsTerminal() {
		t.Fatalf("task must keep waiting for a proxy, got %s", snap.Status)
	}
	if snap.RetryCount != 0 {
		t.Errorf("proxy starvation must not consume retries, got %d", snap.RetryCount)
	}
	if calls.Load() != 0 {
		t.Error("executor must not run without a healthy proxy")
	}
}

func TestPool_ReportsProxyOutcome(t *testing.T) {
	proxies := proxy.New(proxy.Config{Enabled: true, FailThreshold: 10})
	proxies.Add(domain.Proxy{Address: "1.1.1.1", Port: 8080, Protocol: "http"})

	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		if px == nil {
			return Result{}, NewExecError(KindNetwork, errors.New("expected a proxy"))
		}
		return Result{ItemsScraped: 1}, nil
	})
	p, sched := newTestPool(t, 1, exec, proxies)

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 0)
	final := waitForStatus(t, sched, task.ID, domain.TaskStatusSuccess)

	if final.LastProxy != "1.1.1.1:8080" {
		t.Errorf("expected last proxy recorded, got %q", final.LastProxy)
	}

	snap := proxies.Snapshot()[0]
	if snap.TotalRequests != 1 {
		t.Errorf("expected 1 proxy request, got %d", snap.TotalRequests)
	}
	if snap.SuccessRate != 100 {
		t.Errorf("expected success rate 100, got %v", snap.SuccessRate)
	}
}

// recordingStore — TaskStore, запоминающий терминальные снапшоты.
type recordingStore struct {
	mu    sync.Mutex
	saved []domain.Task
}

func (s *recordingStore) Save(ctx context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, task)
	return nil
}

func (s *recordingStore) statuses() []domain.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]domain.TaskStatus, len(s.saved))
	for i, task := range s.saved {
		result[i] = task.Status
	}
	return result
}

func TestPool_PersistsTransitions(t *testing.T) {
	store := &recordingStore{}
	exec := ExecutorFunc(func(ctx context.Context, task domain.Task, px *domain.Proxy) (Result, error) {
		return Result{ItemsScraped: 1}, nil
	})

	sched := scheduler.New(scheduler.Config{})
	p := New(Config{
		Size:         1,
		Scheduler:    sched,
		Proxies:      proxy.New(proxy.Config{}),
		Executor:     exec,
		Store:        store,
		IdleInterval: 5 * time.Millisecond,
	})

	p.Start(context.Background())
	defer p.Stop()

	task := submit(t, sched, 0)
	waitForStatus(t, sched, task.ID, domain.TaskStatusSuccess)

	ok := eventually(t, time.Second, func() bool {
		return len(store.statuses()) >= 2
	})
	if !ok {
		t.Fatal("expected dispatch and completion to be persisted")
	}
	statuses := store.statuses()
	if statuses[0] != domain.TaskStatusRunning {
		t.Errorf("first persisted snapshot must be running, got %s", statuses[0])
	}
	if statuses[len(statuses)-1] != domain.TaskStatusSuccess {
		t.Errorf("last persisted snapshot must be success, got %s", statuses[len(statuses)-1])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{NewExecError(KindBlocked, errors.New("403")), KindBlocked},
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("connection refused"), KindNetwork},
		{fmt.Errorf("wrapped: %w", NewExecError(KindInvalidPage, errors.New("empty"))), KindInvalidPage},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v): expected %s, got %s", tt.err, tt.want, got)
		}
	}
}
