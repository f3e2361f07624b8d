package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности, например (run_id, order)).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция нарушает ограничение БД (например, удаление run с дочерними записями).
	ErrInvalidState = errors.New("invalid state")

	// ErrTransactionFailed — транзакцию не удалось начать или зафиксировать; изменения откачены.
	ErrTransactionFailed = errors.New("transaction failed")
)
