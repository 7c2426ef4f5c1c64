package api

import (
	"log/slog"

	"github.com/shaiso/rpaflow/internal/orchestrator"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:   cfg.Orchestrator,
		logger: logger,
	}
}
