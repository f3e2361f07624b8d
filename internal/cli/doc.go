// Package cli реализует инструмент командной строки Runtrack.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Runtrack API.
// Работает через HTTP; типы ответов API продублированы в client.go.
// Исключения: validate --offline использует engine и формат запроса api
// напрямую, step status --via-queue публикует сообщение в RabbitMQ через mq.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Runtrack API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse с warnings, ListResponse, ErrorResponse)
// и обработку ошибок. Ошибки API возвращаются как *APIError
// вместе со списком нарушений инвариантов.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(ctx, cli.ListRunsOpts{Statuses: []string{"IN_PROGRESS"}})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.Encoder с отступами) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warnings/Error) — в stderr.
// Это позволяет использовать pipe: runtrack run list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - run: list, create, show, status, switches, io, delete, validate
//   - step: add, status (--via-queue для отправки через брокер)
//   - validate FILE (--offline для локальной проверки)
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
