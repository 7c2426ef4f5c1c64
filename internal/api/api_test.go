package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shaiso/rpaflow/internal/domain"
	"github.com/shaiso/rpaflow/internal/orchestrator"
	"github.com/shaiso/rpaflow/internal/proxy"
	"github.com/shaiso/rpaflow/internal/scheduler"
	"github.com/shaiso/rpaflow/internal/worker"
)

// noopExecutor мгновенно завершает попытку успехом.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, task domain.Task, px *domain.Proxy) (worker.Result, error) {
	return worker.Result{ItemsScraped: 1}, nil
}

// newTestServer собирает API поверх настоящего (не запущенного) ядра.
// Worker-слоты не стартуют, поэтому submit-нутые task-и остаются pending.
func newTestServer(t *testing.T) (*httptest.Server, *scheduler.Scheduler) {
	t.Helper()

	sched := scheduler.New(scheduler.Config{DefaultMaxRetries: 3})
	proxies := proxy.New(proxy.Config{Enabled: false})
	workers := worker.New(worker.Config{
		Size:      1,
		Scheduler: sched,
		Proxies:   proxies,
		Executor:  noopExecutor{},
	})
	orch := orchestrator.New(orchestrator.Config{
		Scheduler: sched,
		Proxies:   proxies,
		Workers:   workers,
	})

	h := NewHandler(Config{Orchestrator: orch})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, sched
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	envelope := make(map[string]json.RawMessage)
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, envelope
}

func decodeData[T any](t *testing.T, envelope map[string]json.RawMessage) T {
	t.Helper()
	var v T
	raw, ok := envelope["data"]
	if !ok {
		t.Fatalf("response has no data field: %v", envelope)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	return v
}

func errorCode(t *testing.T, envelope map[string]json.RawMessage) ErrorCode {
	t.Helper()
	var detail ErrorDetail
	raw, ok := envelope["error"]
	if !ok {
		t.Fatalf("response has no error field: %v", envelope)
	}
	if err := json.Unmarshal(raw, &detail); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	return detail.Code
}

func TestAPI_SubmitTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", SubmitTaskRequest{
		Name:      "catalog",
		TargetURL: "https://example.com/catalog",
		Priority:  7,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	task := decodeData[TaskResponse](t, envelope)
	if task.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("task id is zero")
	}
	if task.Status != string(domain.TaskStatusPending) {
		t.Errorf("status = %q, want pending", task.Status)
	}
	if task.Priority != 7 {
		t.Errorf("priority = %d, want 7", task.Priority)
	}
	if task.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", task.MaxRetries)
	}
}

func TestAPI_SubmitTask_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		req  SubmitTaskRequest
	}{
		{"missing target_url", SubmitTaskRequest{Name: "x"}},
		{"relative url", SubmitTaskRequest{TargetURL: "/path"}},
		{"priority out of range", SubmitTaskRequest{TargetURL: "https://example.com", Priority: 200}},
		{"unknown type", SubmitTaskRequest{TargetURL: "https://example.com", Type: "teleport"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", tt.req)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if code := errorCode(t, envelope); code != ErrCodeBadRequest {
				t.Errorf("error code = %q, want BAD_REQUEST", code)
			}
		})
	}
}

func TestAPI_SubmitTask_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/tasks", "application/json",
		bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_GetTask(t *testing.T) {
	srv, sched := newTestServer(t)

	task, err := sched.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/"+task.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeData[TaskResponse](t, envelope)
	if got.ID != task.ID {
		t.Errorf("id = %s, want %s", got.ID, task.ID)
	}
}

func TestAPI_GetTask_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/tasks/3f1e9c2a-0000-4000-8000-000000000001", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if code := errorCode(t, envelope); code != ErrCodeNotFound {
		t.Errorf("error code = %q, want NOT_FOUND", code)
	}
}

func TestAPI_GetTask_InvalidID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_CancelTask(t *testing.T) {
	srv, sched := newTestServer(t)

	task, err := sched.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}

	url := srv.URL + "/api/v1/tasks/" + task.ID.String() + "/cancel"
	resp, envelope := doJSON(t, http.MethodPost, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeData[TaskResponse](t, envelope)
	if got.Status != string(domain.TaskStatusCancelled) {
		t.Errorf("status = %q, want cancelled", got.Status)
	}

	// Повторная отмена идемпотентна.
	resp, envelope = doJSON(t, http.MethodPost, url, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second cancel status = %d, want 200", resp.StatusCode)
	}
	got = decodeData[TaskResponse](t, envelope)
	if got.Status != string(domain.TaskStatusCancelled) {
		t.Errorf("status after second cancel = %q, want cancelled", got.Status)
	}
}

func TestAPI_ListTasks_Filter(t *testing.T) {
	srv, sched := newTestServer(t)

	for i := 0; i < 3; i++ {
		if _, err := sched.Submit(scheduler.SubmitRequest{
			TargetURL: fmt.Sprintf("https://example.com/%d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}
	cancelled, err := sched.Submit(scheduler.SubmitRequest{TargetURL: "https://example.com/x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Cancel(cancelled.ID); err != nil {
		t.Fatal(err)
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	tasks := decodeData[[]TaskResponse](t, envelope)
	if len(tasks) != 3 {
		t.Fatalf("pending tasks = %d, want 3", len(tasks))
	}
	for _, task := range tasks {
		if task.Status != string(domain.TaskStatusPending) {
			t.Errorf("task %s status = %q, want pending", task.ID, task.Status)
		}
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?limit=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_Schedules(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/schedules", CreateScheduleRequest{
		Name:        "hourly",
		IntervalSec: 3600,
		Template:    SubmitTaskRequest{TargetURL: "https://example.com/feed"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	sch := decodeData[ScheduleResponse](t, envelope)
	if !sch.Enabled {
		t.Error("schedule without explicit enabled must default to enabled")
	}
	if sch.NextDueAt == nil {
		t.Error("next_due_at not computed")
	}
	if sch.Timezone != "UTC" {
		t.Errorf("timezone = %q, want default UTC", sch.Timezone)
	}

	resp, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/v1/schedules", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	schedules := decodeData[[]ScheduleResponse](t, envelope)
	if len(schedules) != 1 || schedules[0].ID != sch.ID {
		t.Fatalf("schedules = %+v, want the one created", schedules)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/schedules/"+sch.ID.String(), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/schedules/"+sch.ID.String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestAPI_CreateSchedule_EnabledOptOut(t *testing.T) {
	srv, _ := newTestServer(t)

	disabled := false
	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/schedules", CreateScheduleRequest{
		Name:        "paused",
		IntervalSec: 60,
		Enabled:     &disabled,
		Template:    SubmitTaskRequest{TargetURL: "https://example.com"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	sch := decodeData[ScheduleResponse](t, envelope)
	if sch.Enabled {
		t.Error("explicit enabled=false must be preserved")
	}
}

func TestAPI_CreateSchedule_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	// Ни cron_expr, ни interval_sec.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/schedules", CreateScheduleRequest{
		Template: SubmitTaskRequest{TargetURL: "https://example.com"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	// Невалидный шаблон.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/schedules", CreateScheduleRequest{
		IntervalSec: 60,
		Template:    SubmitTaskRequest{TargetURL: "not-a-url"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAPI_PoolStats(t *testing.T) {
	srv, sched := newTestServer(t)

	for i := 0; i < 2; i++ {
		if _, err := sched.Submit(scheduler.SubmitRequest{
			TargetURL: fmt.Sprintf("https://example.com/%d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/stats/pool", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	stats := decodeData[orchestrator.PoolStats](t, envelope)
	if stats.QueueDepth != 2 {
		t.Errorf("queue_depth = %d, want 2", stats.QueueDepth)
	}
	if stats.Tasks[domain.TaskStatusPending] != 2 {
		t.Errorf("pending count = %d, want 2", stats.Tasks[domain.TaskStatusPending])
	}
}

func TestAPI_ProxyStats_Empty(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/stats/proxies", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	proxies := decodeData[[]domain.Proxy](t, envelope)
	if len(proxies) != 0 {
		t.Errorf("proxies = %d, want 0", len(proxies))
	}
}

func TestAPI_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_SubmitAfterShutdown(t *testing.T) {
	srv, sched := newTestServer(t)

	sched.Close()

	resp, envelope := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", SubmitTaskRequest{
		TargetURL: "https://example.com",
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if code := errorCode(t, envelope); code != ErrCodeUnavailable {
		t.Errorf("error code = %q, want UNAVAILABLE", code)
	}
}
