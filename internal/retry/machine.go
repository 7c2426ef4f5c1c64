// Package retry реализует машину состояний retry-протокола.
//
// Машина чистая: по предыдущему состоянию и исходу попытки она
// детерминированно выдаёт следующее состояние и backoff-задержку.
// Никакого I/O — побочные действия (requeue, персистентность, метрики)
// выполняет вызывающая сторона по возвращённому решению.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// State — состояние retry-машины для одного task.
type State string

const (
	StateInit      State = "INIT"
	StateRunning   State = "RUNNING"
	StateSuccess   State = "SUCCESS"
	StateFailed    State = "FAILED"
	StateRetry     State = "RETRY"
	StateFallback  State = "FALLBACK"
	StateCancelled State = "CANCELLED"
)

// IsTerminal возвращает true для финальных состояний.
// FALLBACK соответствует статусу task "failed".
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFallback, StateCancelled:
		return true
	default:
		return false
	}
}

// Outcome — классифицированный исход попытки выполнения.
type Outcome string

const (
	// OutcomeSuccess — executor завершился успешно.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure — ошибка или таймаут executor-а (retryable по политике).
	OutcomeFailure Outcome = "failure"

	// OutcomeCancelled — подтверждённая кооперативная отмена.
	OutcomeCancelled Outcome = "cancelled"
)

// ErrInvalidTransition — переход не определён протоколом.
var ErrInvalidTransition = errors.New("invalid retry state transition")

// Decision — решение машины после исхода попытки.
type Decision struct {
	// State — следующее состояние.
	State State

	// RetryCount — новое значение счётчика retry
	// (увеличивается только при переходе в RETRY).
	RetryCount int

	// Backoff — задержка перед повторной постановкой в очередь.
	// Ненулевой только при State == RETRY.
	Backoff time.Duration
}

// Machine — параметры backoff-политики.
type Machine struct {
	// BaseDelay — базовая задержка exponential backoff.
	BaseDelay time.Duration

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
}

// Default-значения политики.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second
)

// New создаёт машину с подстановкой default-ов.
func New(baseDelay, maxDelay time.Duration) Machine {
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return Machine{BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// Start фиксирует диспетчеризацию: INIT → RUNNING или RETRY → RUNNING.
func (m Machine) Start(st State) (State, error) {
	switch st {
	case StateInit, StateRetry:
		return StateRunning, nil
	default:
		return st, fmt.Errorf("%w: %s -> RUNNING", ErrInvalidTransition, st)
	}
}

// Next вычисляет решение по исходу попытки из состояния RUNNING.
//
// Переходы:
//   - RUNNING → SUCCESS при успехе
//   - RUNNING → CANCELLED при подтверждённой отмене
//   - RUNNING → FAILED → RETRY, если retryCount < maxRetries;
//     счётчик увеличивается, backoff = BaseDelay * 2^retryCount (новый счётчик),
//     с ограничением MaxDelay
//   - RUNNING → FAILED → FALLBACK, если бюджет исчерпан (терминально)
func (m Machine) Next(st State, out Outcome, retryCount, maxRetries int) (Decision, error) {
	if st != StateRunning {
		return Decision{State: st, RetryCount: retryCount},
			fmt.Errorf("%w: outcome %q in state %s", ErrInvalidTransition, out, st)
	}

	switch out {
	case OutcomeSuccess:
		return Decision{State: StateSuccess, RetryCount: retryCount}, nil

	case OutcomeCancelled:
		return Decision{State: StateCancelled, RetryCount: retryCount}, nil

	case OutcomeFailure:
		if retryCount < maxRetries {
			next := retryCount + 1
			return Decision{
				State:      StateRetry,
				RetryCount: next,
				Backoff:    m.Backoff(next),
			}, nil
		}
		return Decision{State: StateFallback, RetryCount: retryCount}, nil

	default:
		return Decision{State: st, RetryCount: retryCount},
			fmt.Errorf("%w: unknown outcome %q", ErrInvalidTransition, out)
	}
}

// Backoff вычисляет задержку для данного значения счётчика retry.
func (m Machine) Backoff(retryCount int) time.Duration {
	delay := m.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= m.MaxDelay {
			return m.MaxDelay
		}
	}
	if delay > m.MaxDelay {
		return m.MaxDelay
	}
	return delay
}
