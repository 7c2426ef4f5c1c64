package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrShutdownAbandoned — попытка брошена при принудительной остановке.
var ErrShutdownAbandoned = errors.New("attempt abandoned during shutdown")

// ErrorKind — классификация ошибки исполнения.
type ErrorKind string

const (
	// KindTimeout — попытка не уложилась в таймаут.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork — сетевая ошибка (соединение, DNS, TLS).
	KindNetwork ErrorKind = "network"

	// KindBlocked — целевой сайт отклонил запрос (403, 429, captcha).
	KindBlocked ErrorKind = "blocked"

	// KindInvalidPage — страница получена, но непригодна для обработки.
	KindInvalidPage ErrorKind = "invalid_page"
)

// ExecError — классифицированная ошибка Executor-а.
// Все разновидности retryable; разница — в логировании и в том,
// как исход влияет на здоровье прокси.
type ExecError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("executor %s: %v", e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewExecError создаёт классифицированную ошибку исполнения.
func NewExecError(kind ErrorKind, err error) *ExecError {
	return &ExecError{Kind: kind, Err: err}
}

// Classify определяет разновидность произвольной ошибки Executor-а.
// Уже классифицированные ошибки сохраняют свою разновидность.
func Classify(err error) ErrorKind {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}
