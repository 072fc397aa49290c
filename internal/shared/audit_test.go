package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOccurredAtDefaultsWhenUnset(t *testing.T) {
	before := time.Now().UTC()
	got := AuditLog{}.OccurredAt()
	after := time.Now().UTC()

	require.False(t, got.IsZero())
	require.False(t, got.Before(before))
	require.False(t, got.After(after))
}

func TestOccurredAtKeepsExplicitTime(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	got := AuditLog{At: at}.OccurredAt()
	require.Equal(t, at, got)
}
