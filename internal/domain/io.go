package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// IO — снимок одного именованного входа или выхода узла.
type IO struct {
	// ID — уникальный идентификатор записи.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на run-владелец.
	RunID uuid.UUID `json:"run_id"`

	// NodeInputName — имя входа/выхода узла.
	NodeInputName string `json:"node_input_name"`

	// NodeName — имя узла.
	NodeName string `json:"node_name"`

	// Data — значение (произвольный JSON).
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeData разбирает Data в v.
func (rec *IO) DecodeData(v any) error {
	return decodeRaw(rec.Data, v)
}

// Clone возвращает копию записи без общего буфера Data.
func (rec IO) Clone() IO {
	rec.Data = cloneRaw(rec.Data)
	return rec
}
