package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики трекинга выполнения. Регистрируются в глобальном реестре
// и отдаются на /metrics через promhttp.Handler.
var (
	// RunTransitions — переходы статусов run.
	RunTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_run_transitions_total",
		Help: "Run status transitions by source and target status",
	}, []string{"from", "to"})

	// StepTransitions — переходы статусов шагов.
	StepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_step_transitions_total",
		Help: "Step status transitions by source and target status",
	}, []string{"from", "to"})

	// RejectedTransitions — отклонённые переходы.
	RejectedTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_rejected_transitions_total",
		Help: "Rejected status transitions by entity",
	}, []string{"entity"})

	// InvariantViolations — найденные нарушения инвариантов.
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_invariant_violations_total",
		Help: "Invariant violations found by validation, by invariant kind and severity",
	}, []string{"kind", "severity"})

	// TxFailures — транзакции, завершившиеся ошибкой.
	TxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_tx_failures_total",
		Help: "Failed tracker transactions by operation",
	}, []string{"op"})

	// CascadeDeleted — удалённые каскадом записи.
	CascadeDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_cascade_deleted_total",
		Help: "Records removed by cascade delete, by relation",
	}, []string{"relation"})

	// StepUpdatesConsumed — обработанные сообщения steps.updates.
	StepUpdatesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtrack_step_updates_consumed_total",
		Help: "Step update messages consumed, by outcome",
	}, []string{"outcome"})

	// BrokerConnected — 1, если соединение с RabbitMQ установлено.
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runtrack_broker_connected",
		Help: "Whether the RabbitMQ connection is up",
	})

	// BrokerReconnects — успешные переподключения к RabbitMQ.
	BrokerReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtrack_broker_reconnects_total",
		Help: "Successful RabbitMQ reconnects",
	})

	// AuditRunsChecked — runs, проверенные аудитором.
	AuditRunsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtrack_audit_runs_checked_total",
		Help: "Runs checked by the auditor",
	})

	// AuditDriftRuns — runs с расхождением агрегатов в последнем проходе аудита.
	AuditDriftRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runtrack_audit_drift_runs",
		Help: "Runs with aggregate drift found in the last audit pass",
	})

	// AuditViolatingRuns — runs с нарушениями инвариантов в последнем проходе аудита.
	AuditViolatingRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runtrack_audit_violating_runs",
		Help: "Runs with invariant violations found in the last audit pass",
	})

	// AuditDuration — длительность прохода аудита.
	AuditDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runtrack_audit_duration_seconds",
		Help:    "Duration of an audit pass",
		Buckets: prometheus.DefBuckets,
	})
)
