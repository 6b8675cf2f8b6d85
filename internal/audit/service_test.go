package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-his/meridian-his/internal/shared"
)

type fakeTrail struct {
	entries map[string][]shared.AuditLog
}

func (f *fakeTrail) ListForEntity(_ context.Context, entity, entityID string, _ int) ([]shared.AuditLog, error) {
	return f.entries[entity+"/"+entityID], nil
}

func TestTrail(t *testing.T) {
	trail := &fakeTrail{entries: map[string][]shared.AuditLog{
		"movement/7": {
			{Action: "movement:SEND", Entity: EntityMovement, EntityID: "7"},
			{Action: "movement:APPROVE", Entity: EntityMovement, EntityID: "7"},
		},
	}}
	svc := NewService(trail)

	entries, err := svc.Trail(context.Background(), EntityMovement, 7, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "movement:SEND", entries[0].Action)

	entries, err = svc.Trail(context.Background(), EntityMovement, 8, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTrailUnknownEntity(t *testing.T) {
	svc := NewService(&fakeTrail{})
	_, err := svc.Trail(context.Background(), "supplier", 1, 0)
	require.ErrorIs(t, err, ErrUnknownEntity)
}
