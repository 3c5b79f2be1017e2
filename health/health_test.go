package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/brain/record"
)

var testSchema = record.Schema{
	Name:    "healthtest",
	Version: 1,
	DDL:     `CREATE TABLE IF NOT EXISTS things (id TEXT PRIMARY KEY);`,
}

func TestStoreCheck(t *testing.T) {
	store, err := record.Open(filepath.Join(t.TempDir(), "tier.db"), testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	status := StoreCheck(context.Background(), "working", store)
	assert.True(t, status.IsHealthy())
	assert.Contains(t, status.Message, "working")
	assert.False(t, status.CheckedAt.IsZero())
}

func TestStoreCheckNilStore(t *testing.T) {
	status := StoreCheck(context.Background(), "knowledge", nil)
	assert.True(t, status.IsUnhealthy())
}

func TestFileCheck(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, FileCheck(dir).IsHealthy())
	assert.True(t, FileCheck(file).IsHealthy())
	assert.True(t, FileCheck(filepath.Join(dir, "absent")).IsUnhealthy())
	assert.True(t, FileCheck("").IsUnhealthy())
}

func TestBinaryCheck(t *testing.T) {
	// A shell is present on every platform the tests run on.
	assert.True(t, BinaryCheck("sh").IsHealthy())
	assert.True(t, BinaryCheck("definitely-not-a-binary-xyz").IsDegraded())
	assert.True(t, BinaryCheck("").IsUnhealthy())
}

func TestCombine(t *testing.T) {
	tests := []struct {
		name   string
		checks []Status
		want   string
	}{
		{"no checks", nil, StateHealthy},
		{"all healthy", []Status{Healthy("a"), Healthy("b")}, StateHealthy},
		{"one degraded", []Status{Healthy("a"), Degraded("b", nil)}, StateDegraded},
		{"unhealthy wins", []Status{Degraded("a", nil), Unhealthy("b", nil)}, StateUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Combine(tt.checks...)
			assert.Equal(t, tt.want, got.State)
		})
	}
}

func TestCombineReportsFailedChecks(t *testing.T) {
	got := Combine(Healthy("ok"), Unhealthy("store gone", nil))
	require.True(t, got.IsUnhealthy())
	assert.Equal(t, []string{"store gone"}, got.Details["failed_checks"])
}
