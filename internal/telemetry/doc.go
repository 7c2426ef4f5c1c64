// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Метрики экспортируются сервером на /metrics endpoint.
// Все счётчики fire-and-forget: ядро никогда не блокируется на них.
package telemetry
