package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра оркестрации. Регистрируются в default-реестре,
// cmd-сервер отдаёт их через promhttp.
var (
	// TasksSubmitted — количество принятых submit-ов.
	TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_tasks_submitted_total",
		Help: "Tasks accepted by the scheduler.",
	})

	// TasksDispatched — количество диспетчеризаций (включая retry-попытки).
	TasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_tasks_dispatched_total",
		Help: "Task attempts handed to worker slots.",
	})

	// TasksSucceeded — task-и, завершившиеся success.
	TasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_tasks_succeeded_total",
		Help: "Tasks finished with status success.",
	})

	// TasksFailed — task-и, завершившиеся failed.
	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_tasks_failed_total",
		Help: "Tasks finished with status failed.",
	})

	// TasksCancelled — отменённые task-и.
	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_tasks_cancelled_total",
		Help: "Tasks finished with status cancelled.",
	})

	// TaskRetries — решения retry-машины о повторной попытке.
	TaskRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpaflow_task_retries_total",
		Help: "Retry decisions made after failed attempts.",
	})

	// ProxyHealthTransitions — переходы здоровья прокси (to=healthy|unhealthy).
	ProxyHealthTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpaflow_proxy_health_transitions_total",
		Help: "Proxy health state transitions.",
	}, []string{"to"})

	// QueueDepth — текущая глубина очереди (live + delayed).
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpaflow_queue_depth",
		Help: "Pending tasks in the dispatch queue.",
	})

	// BusyWorkers — занятые worker-слоты.
	BusyWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpaflow_busy_workers",
		Help: "Worker slots currently executing a task.",
	})

	// HealthyProxies — здоровые прокси в пуле.
	HealthyProxies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpaflow_proxies_healthy",
		Help: "Healthy proxies in the pool.",
	})

	// TaskDuration — длительность успешных и неуспешных попыток.
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rpaflow_task_duration_seconds",
		Help:    "Wall-clock duration of task attempts.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)
