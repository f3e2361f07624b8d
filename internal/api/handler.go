package api

import (
	"log/slog"

	"github.com/shaiso/Runtrack/internal/tracker"
)

// DefaultMaxBodyBytes — лимит тела запроса по умолчанию.
const DefaultMaxBodyBytes = 4 << 20

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tracker      *tracker.Tracker
	logger       *slog.Logger
	maxBodyBytes int64
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tracker *tracker.Tracker
	Logger  *slog.Logger

	// MaxBodyBytes — лимит тела запроса (0 — DefaultMaxBodyBytes).
	MaxBodyBytes int64
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return &Handler{
		tracker:      cfg.Tracker,
		logger:       logger,
		maxBodyBytes: limit,
	}
}
