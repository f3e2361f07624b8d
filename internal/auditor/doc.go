// Package auditor реализует периодический аудит runs.
//
// Auditor по cron-расписанию проверяет незавершённые runs и runs,
// изменённые за последнее окно, тем же валидатором, что и запись через tracker.
// Нарушения инвариантов и расхождения агрегатов (drift) логируются
// и публикуются в метриках runtrack_audit_*. Данные не изменяются.
//
// Структура:
//   - auditor.go — Auditor (Tick, Run, выборка кандидатов)
//   - cron.go    — разбор расписания
//
// Использование:
//
//	a := auditor.New(auditor.Config{
//	    Source:   tr,            // *tracker.Tracker
//	    Logger:   logger,
//	    Lookback: 24 * time.Hour,
//	    Leader:   leaderFn,      // опционально
//	})
//	a.Run(ctx, "*/5 * * * *")
//
// Leader Election:
//
// Auditor не реализует leader election самостоятельно.
// В cmd/runtrack-auditor при PostgreSQL используется pg_try_advisory_lock
// (repo.AdvisoryLock) и передаётся через Config.Leader.
package auditor
