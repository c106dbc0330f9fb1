package build

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompileMetricsRecord(t *testing.T) {
	metrics := NewCompileMetrics()
	assert.Equal(t, 0.0, metrics.GetSuccessRate())

	metrics.RecordCompile(100*time.Millisecond, nil)
	metrics.RecordCompile(300*time.Millisecond, errors.New("boom"))

	snapshot := metrics.GetSnapshot()
	assert.Equal(t, int64(2), snapshot.TotalCompiles)
	assert.Equal(t, int64(1), snapshot.SuccessfulCompiles)
	assert.Equal(t, int64(1), snapshot.FailedCompiles)
	assert.Equal(t, 200*time.Millisecond, snapshot.AverageDuration)
	assert.False(t, snapshot.LastCompileAt.IsZero())
	assert.Equal(t, 50.0, metrics.GetSuccessRate())
}
