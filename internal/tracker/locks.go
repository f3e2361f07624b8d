package tracker

import (
	"sync"

	"github.com/google/uuid"
)

// runLocks — мьютексы по ID run.
//
// Все мутации одного run выполняются последовательно внутри процесса;
// между процессами сериализацию обеспечивает GetRunForUpdate.
// Запись удаляется из map, когда её никто не держит.
type runLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*runLock
}

type runLock struct {
	mu   sync.Mutex
	refs int
}

func newRunLocks() *runLocks {
	return &runLocks{locks: make(map[uuid.UUID]*runLock)}
}

// lock захватывает мьютекс run и возвращает функцию освобождения.
func (l *runLocks) lock(id uuid.UUID) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &runLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()

	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size возвращает число активных записей (для тестов).
func (l *runLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
