// Package cli реализует инструмент командной строки rpaflow.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с rpaflow API.
// Работает через HTTP, не импортирует внутренние пакеты ядра.
// CLI используется для управления tasks, schedules и просмотра
// статистики пула.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для rpaflow API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	tasks, err := client.ListTasks(cli.ListTasksOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: rpaflow task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: list, submit, show, cancel
//   - schedule: list, create, delete
//   - stats: pool, proxies
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
