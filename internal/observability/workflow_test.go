package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/shared"
)

type captureRecorder struct {
	entries []shared.AuditLog
}

func (c *captureRecorder) Record(ctx context.Context, entry shared.AuditLog) error {
	c.entries = append(c.entries, entry)
	return nil
}

func TestInstrumentedAuditCountsAndForwards(t *testing.T) {
	registry := prometheus.NewRegistry()
	inner := &captureRecorder{}
	recorder := NewInstrumentedAudit(inner, registry)

	err := recorder.Record(context.Background(), shared.AuditLog{
		Entity: "purchase_order", EntityID: "1", Action: "po:CONFIRM", ActorID: 7,
	})
	require.NoError(t, err)
	require.Len(t, inner.entries, 1)
	require.Equal(t, "po:CONFIRM", inner.entries[0].Action)

	families, err := registry.Gather()
	require.NoError(t, err)
	var found bool
	for _, family := range families {
		if family.GetName() == "meridian_workflow_transitions_total" {
			found = true
			require.Len(t, family.GetMetric(), 1)
			require.Equal(t, float64(1), family.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "transition counter not registered")
}
