package retry

import (
	"errors"
	"testing"
	"time"
)

func TestStart_Transitions(t *testing.T) {
	m := New(0, 0)

	for _, st := range []State{StateInit, StateRetry} {
		next, err := m.Start(st)
		if err != nil {
			t.Fatalf("Start(%s): unexpected error: %v", st, err)
		}
		if next != StateRunning {
			t.Errorf("Start(%s): expected RUNNING, got %s", st, next)
		}
	}

	// Из остальных состояний диспетчеризация невозможна
	for _, st := range []State{StateRunning, StateSuccess, StateFallback, StateCancelled} {
		if _, err := m.Start(st); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Start(%s): expected ErrInvalidTransition, got %v", st, err)
		}
	}
}

func TestNext_Success(t *testing.T) {
	m := New(time.Second, 10*time.Second)

	d, err := m.Next(StateRunning, OutcomeSuccess, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State != StateSuccess {
		t.Errorf("expected SUCCESS, got %s", d.State)
	}
	if d.RetryCount != 1 {
		t.Errorf("success must not change retry count, got %d", d.RetryCount)
	}
	if d.Backoff != 0 {
		t.Errorf("expected zero backoff, got %v", d.Backoff)
	}
}

func TestNext_FailureWithBudget(t *testing.T) {
	m := New(time.Second, time.Minute)

	d, err := m.Next(StateRunning, OutcomeFailure, 0, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State != StateRetry {
		t.Errorf("expected RETRY, got %s", d.State)
	}
	if d.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", d.RetryCount)
	}
	// backoff = base * 2^retryCount с новым счётчиком
	if d.Backoff != 2*time.Second {
		t.Errorf("expected 2s backoff, got %v", d.Backoff)
	}
}

func TestNext_FailureBudgetExhausted(t *testing.T) {
	m := New(time.Second, time.Minute)

	d, err := m.Next(StateRunning, OutcomeFailure, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State != StateFallback {
		t.Errorf("expected FALLBACK, got %s", d.State)
	}
	if d.RetryCount != 2 {
		t.Errorf("fallback must not change retry count, got %d", d.RetryCount)
	}
	if !d.State.IsTerminal() {
		t.Error("FALLBACK must be terminal")
	}
}

func TestNext_ZeroBudget(t *testing.T) {
	m := New(time.Second, time.Minute)

	// max_retries = 0: первая же ошибка терминальна
	d, err := m.Next(StateRunning, OutcomeFailure, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State != StateFallback {
		t.Errorf("expected FALLBACK, got %s", d.State)
	}
}

func TestNext_Cancelled(t *testing.T) {
	m := New(time.Second, time.Minute)

	d, err := m.Next(StateRunning, OutcomeCancelled, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.State != StateCancelled {
		t.Errorf("expected CANCELLED, got %s", d.State)
	}
	if !d.State.IsTerminal() {
		t.Error("CANCELLED must be terminal")
	}
}

func TestNext_InvalidFromState(t *testing.T) {
	m := New(time.Second, time.Minute)

	for _, st := range []State{StateInit, StateSuccess, StateFallback, StateCancelled, StateRetry} {
		if _, err := m.Next(st, OutcomeFailure, 0, 3); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Next from %s: expected ErrInvalidTransition, got %v", st, err)
		}
	}
}

func TestNext_RetryCountNeverExceedsBudget(t *testing.T) {
	m := New(time.Second, time.Minute)
	maxRetries := 3

	st := StateInit
	count := 0
	attempts := 0

	// Все попытки падают: счётчик не должен превысить бюджет
	for !st.IsTerminal() {
		var err error
		st, err = m.Start(st)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		attempts++

		d, err := m.Next(st, OutcomeFailure, count, maxRetries)
		if err != nil {
			t.Fatalf("observe: %v", err)
		}
		st, count = d.State, d.RetryCount

		if count > maxRetries {
			t.Fatalf("retry count %d exceeded budget %d", count, maxRetries)
		}
	}

	if st != StateFallback {
		t.Errorf("expected FALLBACK, got %s", st)
	}
	// Первая попытка + maxRetries повторов
	if attempts != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, attempts)
	}
}

func TestBackoff_ExponentialCapped(t *testing.T) {
	m := New(time.Second, 10*time.Second)

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped at max
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := m.Backoff(tt.retryCount); got != tt.expected {
			t.Errorf("Backoff(%d): expected %v, got %v", tt.retryCount, tt.expected, got)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	m := New(0, 0)
	if m.BaseDelay != DefaultBaseDelay {
		t.Errorf("expected default base delay, got %v", m.BaseDelay)
	}
	if m.MaxDelay != DefaultMaxDelay {
		t.Errorf("expected default max delay, got %v", m.MaxDelay)
	}
}
