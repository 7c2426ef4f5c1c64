// Package api — HTTP API ядра оркестрации.
//
// Тонкий слой поверх Orchestrator: валидация запросов, маппинг
// доменных ошибок в HTTP-статусы, сериализация ответов. Никакой
// бизнес-логики здесь нет.
//
// Формат ответов:
//
//	успех:  {"data": ...}
//	список: {"data": [...], "total": N}
//	ошибка: {"error": {"code": "...", "message": "..."}}
package api
