package domain

import (
	"fmt"
	"time"
)

// TaskConfig — конфигурация выполнения, передаваемая executor-у.
//
// Набор опций закрытый: неизвестные ключи отклоняются при submit,
// а не во время выполнения. Submission-слой принимает произвольный
// JSON-объект и превращает его в TaskConfig через ParseTaskConfig.
type TaskConfig struct {
	// Selectors — CSS-селекторы для извлечения данных (имя поля → селектор).
	Selectors map[string]string `json:"selectors,omitempty"`

	// MaxPages — ограничение на количество страниц при пагинации (0 — одна страница).
	MaxPages int `json:"max_pages,omitempty"`

	// FollowPagination — переходить ли по ссылке "следующая страница".
	FollowPagination bool `json:"follow_pagination,omitempty"`

	// WaitSelector — селектор, появления которого executor ждёт перед извлечением.
	WaitSelector string `json:"wait_selector,omitempty"`

	// TimeoutSec — таймаут одной попытки в секундах (0 — значение по умолчанию).
	TimeoutSec float64 `json:"timeout_sec,omitempty"`

	// Headers — дополнительные HTTP-заголовки запроса.
	Headers map[string]string `json:"headers,omitempty"`

	// UserAgent — переопределение User-Agent.
	UserAgent string `json:"user_agent,omitempty"`

	// Screenshot — сохранять ли скриншот страницы как артефакт.
	Screenshot bool `json:"screenshot,omitempty"`
}

// Timeout возвращает таймаут попытки или 0, если не задан.
func (c TaskConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSec * float64(time.Second))
}

// ParseTaskConfig строит TaskConfig из произвольного JSON-объекта.
// Неизвестные и некорректно типизированные ключи — ошибка.
func ParseTaskConfig(raw map[string]any) (TaskConfig, error) {
	var cfg TaskConfig

	for key, val := range raw {
		var err error
		switch key {
		case "selectors":
			cfg.Selectors, err = toStringMap(val)
		case "max_pages":
			cfg.MaxPages, err = toInt(val)
		case "follow_pagination":
			cfg.FollowPagination, err = toBool(val)
		case "wait_selector":
			cfg.WaitSelector, err = toString(val)
		case "timeout_sec":
			cfg.TimeoutSec, err = toFloat(val)
		case "headers":
			cfg.Headers, err = toStringMap(val)
		case "user_agent":
			cfg.UserAgent, err = toString(val)
		case "screenshot":
			cfg.Screenshot, err = toBool(val)
		default:
			return TaskConfig{}, fmt.Errorf("unknown config key %q", key)
		}
		if err != nil {
			return TaskConfig{}, fmt.Errorf("config key %q: %w", key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return TaskConfig{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c TaskConfig) Validate() error {
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0, got %d", c.MaxPages)
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("timeout_sec must be >= 0, got %v", c.TimeoutSec)
	}
	if c.FollowPagination && c.MaxPages == 0 {
		return fmt.Errorf("follow_pagination requires max_pages > 0")
	}
	return nil
}

// --- Конвертация JSON-значений ---

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		// JSON-числа декодируются как float64
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toStringMap(v any) (map[string]string, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		if m, ok := v.(map[string]string); ok {
			return m, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	}

	out := make(map[string]string, len(raw))
	for k, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("value of %q: expected string, got %T", k, item)
		}
		out[k] = s
	}
	return out, nil
}
