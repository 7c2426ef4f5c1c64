// Package orchestrator — фасад ядра оркестрации.
//
// Orchestrator владеет жизненным циклом планировщика, пула прокси
// и пула worker-ов и предоставляет внешним слоям (REST API, CLI)
// единый набор операций: Submit, Cancel, GetStatus, List, PoolStats,
// ProxyStats, AddSchedule. Все операции неблокирующие и возвращают
// снапшоты текущего состояния.
//
// Start поднимает компоненты и восстанавливает незавершённые task-и
// из хранилища; Shutdown закрывает приём, даёт выполняющимся попыткам
// grace-период и бросает оставшиеся — никогда не блокируется бесконечно.
package orchestrator
