// Package tracker — API мутаций агрегата run.
//
// Компоненты:
//   - tracker.go  — операции над run, шагами и IO (read → apply → validate → write)
//   - locks.go    — сериализация мутаций одного run
//   - cascade.go  — CascadeDeleter: удаление дочерних записей в порядке зависимостей
//   - consumer.go — обработчик очереди steps.updates
//
// Чистые правила (переходы, инварианты, агрегаты) живут в engine;
// tracker связывает их с транзакционным хранилищем repo.
package tracker
