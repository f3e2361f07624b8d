package mq

import "errors"

// ErrNotConnected — канал AMQP недоступен (соединение разорвано или закрыто).
var ErrNotConnected = errors.New("amqp: not connected")

// RejectError — ошибка, при которой сообщение не возвращается в очередь,
// а отклоняется и уходит в DLQ.
type RejectError struct {
	Err error
}

// Error реализует интерфейс error.
func (e *RejectError) Error() string {
	return "rejected: " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *RejectError) Unwrap() error {
	return e.Err
}

// Reject помечает ошибку обработчика как постоянную.
func Reject(err error) error {
	return &RejectError{Err: err}
}

// IsReject проверяет, является ли ошибка постоянной.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}
