package domain

import "github.com/google/uuid"

// NewID генерирует новый идентификатор записи.
//
// Используется UUIDv7: первые 48 бит — unix-время в миллисекундах,
// поэтому идентификаторы сортируются по времени создания.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		// Ошибка возможна только при сбое источника энтропии
		return uuid.New()
	}
	return id
}
