package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridian-his/meridian-his/internal/shared"
)

// AuditRecorder is the write side of the audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// InstrumentedAudit counts workflow transitions as they are audited. Every
// state-changing operation records exactly one audit entry, so the audit
// stream doubles as the transition stream.
type InstrumentedAudit struct {
	next        AuditRecorder
	transitions *prometheus.CounterVec
}

// NewInstrumentedAudit wraps the recorder and registers the transition counter.
func NewInstrumentedAudit(next AuditRecorder, registerer prometheus.Registerer) *InstrumentedAudit {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_workflow_transitions_total",
		Help: "Workflow state transitions by entity and action.",
	}, []string{"entity", "action"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(transitions)
	return &InstrumentedAudit{next: next, transitions: transitions}
}

// Record forwards to the wrapped recorder after counting the transition.
func (a *InstrumentedAudit) Record(ctx context.Context, entry shared.AuditLog) error {
	if a == nil || a.next == nil {
		return nil
	}
	a.transitions.WithLabelValues(entry.Entity, entry.Action).Inc()
	return a.next.Record(ctx, entry)
}
