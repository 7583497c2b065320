package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the daemon's metric instruments.
type Metrics struct {
	HandshakeDuration  metric.Float64Histogram
	HandshakeFailures  metric.Int64Counter
	TasksRouted        metric.Int64Counter
	TasksUnroutable    metric.Int64Counter
	TaskTransitions    metric.Int64Counter
	OperatorActions    metric.Int64Counter
	AuditEntriesSigned metric.Int64Counter
	AuditChainFailures metric.Int64Counter
	RosterSize         metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HandshakeDuration, err = meter.Float64Histogram("swarmctl.handshake.duration",
		metric.WithDescription("Handshake round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HandshakeFailures, err = meter.Int64Counter("swarmctl.handshake.failures",
		metric.WithDescription("Handshakes that ended in a protocol or transport error"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksRouted, err = meter.Int64Counter("swarmctl.router.routed",
		metric.WithDescription("Tasks assigned to an agent"),
	)
	if err != nil {
		return nil, err
	}

	m.TasksUnroutable, err = meter.Int64Counter("swarmctl.router.unroutable",
		metric.WithDescription("Routing attempts with no eligible agent"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskTransitions, err = meter.Int64Counter("swarmctl.lifecycle.transitions",
		metric.WithDescription("Task state transitions applied"),
	)
	if err != nil {
		return nil, err
	}

	m.OperatorActions, err = meter.Int64Counter("swarmctl.operator.actions",
		metric.WithDescription("Operator interventions executed"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditEntriesSigned, err = meter.Int64Counter("swarmctl.audit.signed",
		metric.WithDescription("Audit entries signed and appended"),
	)
	if err != nil {
		return nil, err
	}

	m.AuditChainFailures, err = meter.Int64Counter("swarmctl.audit.chain_failures",
		metric.WithDescription("Audit chain verifications that found tampering"),
	)
	if err != nil {
		return nil, err
	}

	m.RosterSize, err = meter.Int64UpDownCounter("swarmctl.roster.size",
		metric.WithDescription("Agents currently tracked in the roster"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
