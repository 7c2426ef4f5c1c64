package scheduler

import "errors"

// Ошибки планировщика.
var (
	// ErrValidation — запрос не прошёл валидацию при submit.
	ErrValidation = errors.New("validation failed")

	// ErrTaskNotFound — task не найден в реестре.
	ErrTaskNotFound = errors.New("task not found")

	// ErrScheduleNotFound — расписание не найдено.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrClosed — планировщик остановлен, новые submit не принимаются.
	ErrClosed = errors.New("scheduler closed")
)
