// Package engine содержит чистую логику агрегата run: автоматы статусов,
// валидатор инвариантов и пересчёт агрегатов.
//
// Структура:
//   - transition.go — TransitionRun / TransitionStep (автоматы статусов и timestamps)
//   - validator.go  — Validator (инварианты 1–11), Policy
//   - violation.go  — Invariant, Kind, Severity, Violation
//   - aggregate.go  — RecomputeComplexity, Summarize, DetectDrift
//   - errors.go     — ошибки переходов и инвариантов
//
// Пакет не выполняет ввод-вывод: все функции синхронные, без побочных эффектов
// и безопасны для конкурентного вызова на неизменяемых снимках.
package engine
