package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	at := func(s string) *time.Time {
		ts, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return &ts
	}

	require.Equal(t, ExpiryValid, ClassifyExpiry(nil, now, DefaultExpiryHorizon))
	require.Equal(t, ExpiryExpired, ClassifyExpiry(at("2026-07-31"), now, DefaultExpiryHorizon))
	require.Equal(t, ExpiryExpiringSoon, ClassifyExpiry(at("2026-08-15"), now, DefaultExpiryHorizon))
	require.Equal(t, ExpiryExpiringSoon, ClassifyExpiry(at("2026-09-30"), now, DefaultExpiryHorizon))
	require.Equal(t, ExpiryValid, ClassifyExpiry(at("2026-10-01"), now, DefaultExpiryHorizon))

	// A custom horizon moves the expiring-soon boundary.
	require.Equal(t, ExpiryValid, ClassifyExpiry(at("2026-08-15"), now, 7*24*time.Hour))
	// A zero horizon falls back to the default.
	require.Equal(t, ExpiryExpiringSoon, ClassifyExpiry(at("2026-08-15"), now, 0))
}

func TestBatchMetaIdentity(t *testing.T) {
	exp := time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC)

	require.True(t, BatchMeta{}.Empty())
	require.False(t, BatchMeta{BatchNumber: "B-1"}.Empty())
	require.False(t, BatchMeta{ExpiryDate: &exp}.Empty())

	a := BatchMeta{BatchNumber: "B-1", ExpiryDate: &exp}
	b := BatchMeta{BatchNumber: "B-1", ExpiryDate: &exp}
	require.True(t, a.SameIdentity(b))

	b.SerialNumber = "S-9"
	require.False(t, a.SameIdentity(b))

	other := exp.AddDate(0, 1, 0)
	c := BatchMeta{BatchNumber: "B-1", ExpiryDate: &other}
	require.False(t, a.SameIdentity(c))
	require.False(t, a.SameIdentity(BatchMeta{BatchNumber: "B-1"}))
}
