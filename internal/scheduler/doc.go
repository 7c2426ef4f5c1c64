// Package scheduler упорядочивает pending tasks и выдаёт их worker-слотам.
//
// # Обзор
//
// Scheduler — единственная точка входа task-ов в систему:
//
//   - Submit валидирует запрос, назначает id и ставит task в очередь
//   - Next отдаёт самый приоритетный pending task свободному слоту
//   - Requeue возвращает retryable task в очередь с backoff-задержкой
//   - Cancel отменяет pending task или помечает running для кооперативной отмены
//
// # Упорядочивание
//
// Живая очередь — priority queue с ключом (priority desc, created_at asc):
// выше приоритет — раньше; при равном приоритете — FIFO по времени submit.
// Отложенные (requeue с delay) task-и лежат в отдельной time-ordered куче
// и промоутируются в живую очередь при каждом Next и на служебном тике.
//
// # Реестр
//
// Scheduler хранит все когда-либо принятые task-и (включая терминальные)
// и отдаёт их снапшоты для get_status/list. Мутации проходят через Update
// под общим мьютексом — в каждый момент времени task изменяет ровно один
// компонент.
//
// # Расписания
//
// Повторяющиеся cron-расписания (AddSchedule) создают task из шаблона
// каждый раз, когда наступает next_due_at; проверка — на служебном тике.
// Ошибка одного расписания не блокирует остальные.
package scheduler
