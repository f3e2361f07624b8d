// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go     — Handler с DI (tracker, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (logging, recovery, лимит тела)
//   - response.go    — унифицированные JSON-ответы и обработка ошибок
//   - dto.go         — Data Transfer Objects (request/response)
//   - run_handler.go — обработчики для /runs и /validate
//
// Запись отклоняется при жёстких нарушениях инвариантов (422 со списком violations);
// мягкие нарушения возвращаются в поле warnings рядом с data.
package api
