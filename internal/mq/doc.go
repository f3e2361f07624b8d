// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий и обновлений шагов
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.created, run.status_changed, step.status_changed, run.deleted — события после commit
//   - step.update — входящее обновление статуса шага
//
// Exchanges:
//   - runtrack.runs  — события runs (topic)
//   - runtrack.steps — обновления шагов
//   - runtrack.dlq   — dead letter queue
package mq
