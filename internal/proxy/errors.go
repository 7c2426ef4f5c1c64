package proxy

import "errors"

// Ошибки пула прокси.
var (
	// ErrNoHealthyProxy — нет ни одного здорового прокси,
	// а использование прокси обязательно.
	ErrNoHealthyProxy = errors.New("no healthy proxy available")

	// ErrUnknownProxy — report для прокси, которого нет в пуле.
	ErrUnknownProxy = errors.New("unknown proxy")

	// ErrUnknownStrategy — неизвестная стратегия ротации.
	ErrUnknownStrategy = errors.New("unknown rotation strategy")
)
