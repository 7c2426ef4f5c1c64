// Package config собирает настройки системы из переменных окружения.
//
// Все значения имеют рабочие default-ы для локальной разработки;
// production задаёт их через окружение (docker-compose, k8s).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config — настройки процесса rpaflow-server.
type Config struct {
	// HTTPPort — порт REST API и /metrics.
	HTTPPort string

	// DBURL — DSN PostgreSQL. Пустое значение — работа без персистентности.
	DBURL string

	// MQURL — URL RabbitMQ для публикации событий.
	// Пустое значение — события не публикуются.
	MQURL string

	// WorkerPoolSize — количество worker-слотов.
	WorkerPoolSize int

	// TaskTimeout — таймаут одной попытки по умолчанию
	// (переопределяется timeout_sec в конфигурации task).
	TaskTimeout time.Duration

	// ShutdownGrace — grace-период при shutdown, после которого
	// незавершённые попытки помечаются failed.
	ShutdownGrace time.Duration

	// RetryBaseDelay, RetryMaxDelay — параметры exponential backoff.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// DefaultMaxRetries — retry-бюджет, если не задан при submit.
	DefaultMaxRetries int

	// ProxyEnabled — использовать ли прокси-пул.
	ProxyEnabled bool

	// ProxyMandatory — считать ли отсутствие здоровых прокси фатальным.
	ProxyMandatory bool

	// ProxyFile — путь к файлу прокси-листа.
	ProxyFile string

	// ProxyFailThreshold — количество подряд идущих ошибок,
	// после которого прокси помечается нездоровым.
	ProxyFailThreshold int

	// ProxyCooldown — период, после которого нездоровый прокси
	// допускается к probe-проверке.
	ProxyCooldown time.Duration

	// ProxyProbeInterval — интервал фоновой probe-проверки.
	ProxyProbeInterval time.Duration

	// ProxyProbeURL — URL, через который проверяется прокси.
	ProxyProbeURL string

	// ProxyStrategy — стратегия ротации: weighted, round_robin, random,
	// least_used, fastest.
	ProxyStrategy string

	// TickInterval — период служебного тика оркестратора
	// (промоция отложенных task, due-schedules, снапшоты).
	TickInterval time.Duration
}

// Load читает настройки из окружения, подставляя default-ы.
func Load() Config {
	return Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		DBURL:              os.Getenv("DB_URL"),
		MQURL:              os.Getenv("RABBITMQ_URL"),
		WorkerPoolSize:     getEnvInt("WORKER_POOL_SIZE", 4),
		TaskTimeout:        getEnvDuration("TASK_TIMEOUT", 60*time.Second),
		ShutdownGrace:      getEnvDuration("SHUTDOWN_GRACE", 30*time.Second),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 60*time.Second),
		DefaultMaxRetries:  getEnvInt("DEFAULT_MAX_RETRIES", 3),
		ProxyEnabled:       getEnvBool("PROXY_ENABLED", false),
		ProxyMandatory:     getEnvBool("PROXY_MANDATORY", false),
		ProxyFile:          getEnv("PROXY_FILE", "proxies.txt"),
		ProxyFailThreshold: getEnvInt("PROXY_FAIL_THRESHOLD", 3),
		ProxyCooldown:      getEnvDuration("PROXY_COOLDOWN", 5*time.Minute),
		ProxyProbeInterval: getEnvDuration("PROXY_PROBE_INTERVAL", time.Minute),
		ProxyProbeURL:      getEnv("PROXY_PROBE_URL", "https://api.ipify.org"),
		ProxyStrategy:      getEnv("PROXY_STRATEGY", "weighted"),
		TickInterval:       getEnvDuration("TICK_INTERVAL", time.Second),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
