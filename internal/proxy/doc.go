// Package proxy управляет пулом egress-прокси: выбор по стратегии
// ротации, учёт статистики и здоровье.
//
// # Контракт
//
//   - Acquire выбирает здоровый прокси по настроенной стратегии,
//     исключая прокси, через который шла предыдущая попытка того же task
//   - Report обновляет статистику прокси по исходу попытки: EMA latency,
//     EMA success rate, счётчик запросов и consecutive failures
//   - После порога подряд идущих ошибок прокси помечается нездоровым
//     и уходит в cooldown; обратно его возвращает успешный probe
//
// Вся мутация состояния проходит через Acquire/Report/restore под одним
// мьютексом; снаружи пул отдаёт только снапшоты.
//
// # Необязательный и обязательный режимы
//
// При пустом или полностью нездоровом пуле Acquire возвращает (nil, nil),
// если прокси необязательны (прямое соединение), и ErrNoHealthyProxy,
// если обязательны.
package proxy
