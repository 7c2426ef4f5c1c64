// Package worker — пул из N слотов, исполняющих task-и.
//
// # Цикл слота
//
// Каждый слот крутит цикл: взять task у планировщика → получить прокси →
// перевести task в running → вызвать Executor с таймаутом → сообщить
// исход пулу прокси → применить решение retry-машины (success, retry
// с backoff или терминальный failed).
//
// # Гарантии
//
//   - Одновременно выполняется не больше N task-ов
//   - Каждый task в каждый момент времени держит не больше одного слота
//   - Вызов Executor идёт вне каких-либо блокировок
//   - Попытка ограничена таймаутом; поздний результат брошенной
//     попытки отбрасывается, а не портит состояние
//
// # Остановка
//
// Stop прекращает выдачу новых task-ов, даёт выполняющимся попыткам
// grace-период, затем принудительно бросает оставшиеся: их task-и
// завершаются failed с shutdown-ошибкой. Stop никогда не блокируется
// бесконечно.
package worker
