package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — task из API.
type TaskResponse struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	TargetURL    string         `json:"target_url"`
	Type         string         `json:"task_type"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	WorkerID     string         `json:"worker_id,omitempty"`
	ItemsScraped int            `json:"items_scraped"`
	ArtifactRef  string         `json:"artifact_ref,omitempty"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    string         `json:"created_at"`
	StartedAt    string         `json:"started_at,omitempty"`
	CompletedAt  string         `json:"completed_at,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone"`
	Enabled     bool              `json:"enabled"`
	Template    SubmitTaskRequest `json:"template"`
	NextDueAt   string            `json:"next_due_at,omitempty"`
	LastRunAt   string            `json:"last_run_at,omitempty"`
	LastTaskID  string            `json:"last_task_id,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// PoolStatsResponse — сводка ядра из API.
type PoolStatsResponse struct {
	Workers        WorkerStatsResponse `json:"workers"`
	QueueDepth     int                 `json:"queue_depth"`
	Tasks          map[string]int      `json:"tasks"`
	ProxiesTotal   int                 `json:"proxies_total"`
	ProxiesHealthy int                 `json:"proxies_healthy"`
}

// WorkerStatsResponse — состояние worker-слотов.
type WorkerStatsResponse struct {
	Size  int                `json:"size"`
	Busy  int                `json:"busy"`
	Slots []SlotInfoResponse `json:"slots"`
}

// SlotInfoResponse — состояние одного слота.
type SlotInfoResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id,omitempty"`
}

// ProxyResponse — прокси из API.
type ProxyResponse struct {
	Address       string  `json:"address"`
	Port          int     `json:"port"`
	Protocol      string  `json:"protocol"`
	Country       string  `json:"country,omitempty"`
	IsHealthy     bool    `json:"is_healthy"`
	ResponseTime  float64 `json:"response_time"`
	SuccessRate   float64 `json:"success_rate"`
	TotalRequests int64   `json:"total_requests"`
}

// --- Request types ---

// SubmitTaskRequest — создание task.
type SubmitTaskRequest struct {
	Name       string         `json:"name,omitempty"`
	TargetURL  string         `json:"target_url"`
	Type       string         `json:"task_type,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string            `json:"name,omitempty"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Enabled     bool              `json:"enabled"`
	Template    SubmitTaskRequest `json:"template"`
}

// ListTasksOpts — параметры фильтрации tasks.
type ListTasksOpts struct {
	Status string
	Type   string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для rpaflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// ListTasks возвращает список tasks с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Type != "" {
		params.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// SubmitTask создаёт новый task.
func (c *Client) SubmitTask(req SubmitTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// CancelTask отменяет task.
func (c *Client) CancelTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/cancel", nil, &task)
	return &task, err
}

// --- Schedules ---

// ListSchedules возвращает все schedules.
func (c *Client) ListSchedules() ([]ScheduleResponse, error) {
	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", nil, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule.
func (c *Client) CreateSchedule(req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/schedules", req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// --- Stats ---

// PoolStats возвращает сводку по очереди, слотам и прокси.
func (c *Client) PoolStats() (*PoolStatsResponse, error) {
	var stats PoolStatsResponse
	err := c.get("/api/v1/stats/pool", &stats)
	return &stats, err
}

// ProxyStats возвращает статистику всех прокси.
func (c *Client) ProxyStats() ([]ProxyResponse, error) {
	var proxies []ProxyResponse
	err := c.list("/api/v1/stats/proxies", nil, &proxies)
	return proxies, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
