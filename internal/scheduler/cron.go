package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule — повторяющееся расписание создания task-ов.
//
// Расписание задаётся одним из двух способов:
//   - CronExpr: "0 9 * * *" (каждый день в 9:00)
//   - IntervalSec: каждые N секунд
//
// На служебном тике планировщик проверяет next_due_at и создаёт task
// из шаблона Template, когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор расписания.
	ID uuid.UUID `json:"id"`

	// Name — имя расписания для удобства.
	Name string `json:"name,omitempty"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// Template — шаблон, из которого создаётся каждый task.
	Template SubmitRequest `json:"template"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastTaskID — ID последнего созданного task.
	LastTaskID *uuid.UUID `json:"last_task_id,omitempty"`

	// CreatedAt — время создания расписания.
	CreatedAt time.Time `json:"created_at"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (sch *Schedule) IsCron() bool {
	return sch.CronExpr != ""
}

// IsDue проверяет, пора ли создавать task.
func (sch *Schedule) IsDue(now time.Time) bool {
	if !sch.Enabled || sch.NextDueAt == nil {
		return false
	}
	return !now.Before(*sch.NextDueAt)
}

// nextDue вычисляет следующее время запуска с учётом timezone.
func (sch *Schedule) nextDue(from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}
	fromInTz := from.In(loc)

	if sch.IsCron() {
		expr, err := cronParser.Parse(sch.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sch.CronExpr, err)
		}
		return expr.Next(fromInTz).UTC(), nil
	}

	if sch.IntervalSec > 0 {
		return fromInTz.Add(time.Duration(sch.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("schedule has neither cron_expr nor interval_sec")
}

// AddSchedule регистрирует новое расписание и вычисляет первый next_due_at.
// Шаблон валидируется теми же правилами, что и прямой Submit.
func (s *Scheduler) AddSchedule(sch Schedule) (Schedule, error) {
	if _, err := s.buildTask(sch.Template); err != nil {
		return Schedule{}, fmt.Errorf("schedule template: %w", err)
	}
	if sch.IsCron() {
		if _, err := cronParser.Parse(sch.CronExpr); err != nil {
			return Schedule{}, fmt.Errorf("%w: invalid cron expression %q: %v", ErrValidation, sch.CronExpr, err)
		}
	} else if sch.IntervalSec <= 0 {
		return Schedule{}, fmt.Errorf("%w: schedule needs cron_expr or interval_sec", ErrValidation)
	}

	if sch.Timezone == "" {
		sch.Timezone = "UTC"
	}

	now := s.now()
	sch.ID = uuid.New()
	sch.CreatedAt = now

	next, err := sch.nextDue(now)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	sch.NextDueAt = &next

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Schedule{}, ErrClosed
	}
	stored := sch
	s.schedules[sch.ID] = &stored
	s.mu.Unlock()

	s.logger.Info("schedule added",
		"schedule_id", sch.ID,
		"name", sch.Name,
		"cron_expr", sch.CronExpr,
		"interval_sec", sch.IntervalSec,
		"next_due_at", next,
	)
	return sch, nil
}

// Schedules возвращает снапшоты всех расписаний.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		result = append(result, *sch)
	}
	return result
}

// RemoveSchedule удаляет расписание.
func (s *Scheduler) RemoveSchedule(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	delete(s.schedules, id)
	return nil
}

// tickSchedules создаёт task-и из due-расписаний.
// Ошибка одного расписания логируется и не блокирует остальные.
func (s *Scheduler) tickSchedules(now time.Time) {
	s.mu.Lock()
	var due []*Schedule
	for _, sch := range s.schedules {
		if sch.IsDue(now) {
			due = append(due, sch)
		}
	}
	s.mu.Unlock()

	for _, sch := range due {
		task, err := s.Submit(sch.Template)

		s.mu.Lock()
		if err != nil {
			s.logger.Error("schedule fire failed",
				"schedule_id", sch.ID, "error", err)
		} else {
			fired := now
			sch.LastRunAt = &fired
			sch.LastTaskID = &task.ID
		}
		if next, nerr := sch.nextDue(now); nerr == nil {
			sch.NextDueAt = &next
		} else {
			// Расписание стало невычислимым — выключаем, чтобы
			// не зациклиться на одном и том же due.
			sch.Enabled = false
			s.logger.Error("schedule disabled", "schedule_id", sch.ID, "error", nerr)
		}
		s.mu.Unlock()
	}
}
