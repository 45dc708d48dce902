package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeKVs(t *testing.T) {
	got := sanitizeKVs([]interface{}{
		"project_id", "p-1",
		"secret_key", "hunter2",
		"mysql_dsn", "root:pw@tcp(db)/suite",
		"dangling",
	})
	require.Equal(t, []interface{}{
		"project_id", "p-1",
		"secret_key", "[REDACTED]",
		"mysql_dsn", "[REDACTED]",
		"dangling",
	}, got)
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "production"} {
		l, err := New(mode)
		require.NoError(t, err, mode)
		require.NotNil(t, l.With("component", "test"))
	}
}
