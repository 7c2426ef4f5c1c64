// Package mq — публикация событий жизненного цикла в RabbitMQ.
//
// Ядро оркестрации публикует события task-ов (dispatch, success,
// failure, retry, cancel) и переходов здоровья прокси в topic-exchange
// rpaflow.events. Потребители — внешние слои: dashboard, алертинг,
// аналитика. Публикация fire-and-forget: ошибка публикации логируется
// и не влияет на судьбу task.
//
// Connection переподключается автоматически с экспоненциальной
// задержкой; Publisher безопасен для конкурентного использования.
package mq
