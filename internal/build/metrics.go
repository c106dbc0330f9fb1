package build

import (
	"sync"
	"time"
)

// CompileMetrics tracks compilation outcomes for the metrics endpoint.
type CompileMetrics struct {
	TotalCompiles      int64         `json:"total_compiles"`
	SuccessfulCompiles int64         `json:"successful_compiles"`
	FailedCompiles     int64         `json:"failed_compiles"`
	AverageDuration    time.Duration `json:"average_duration_ns"`
	TotalDuration      time.Duration `json:"total_duration_ns"`
	LastCompileAt      time.Time     `json:"last_compile_at"`
	mutex              sync.RWMutex
}

// NewCompileMetrics creates a new metrics tracker.
func NewCompileMetrics() *CompileMetrics {
	return &CompileMetrics{}
}

// RecordCompile records one finished compile.
func (cm *CompileMetrics) RecordCompile(duration time.Duration, err error) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	cm.TotalCompiles++
	cm.TotalDuration += duration
	cm.LastCompileAt = time.Now()

	if err != nil {
		cm.FailedCompiles++
	} else {
		cm.SuccessfulCompiles++
	}

	cm.AverageDuration = cm.TotalDuration / time.Duration(cm.TotalCompiles)
}

// GetSnapshot returns a copy of the current metrics.
func (cm *CompileMetrics) GetSnapshot() CompileMetrics {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	return CompileMetrics{
		TotalCompiles:      cm.TotalCompiles,
		SuccessfulCompiles: cm.SuccessfulCompiles,
		FailedCompiles:     cm.FailedCompiles,
		AverageDuration:    cm.AverageDuration,
		TotalDuration:      cm.TotalDuration,
		LastCompileAt:      cm.LastCompileAt,
	}
}

// GetSuccessRate returns the success rate as a percentage
func (cm *CompileMetrics) GetSuccessRate() float64 {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if cm.TotalCompiles == 0 {
		return 0.0
	}

	return float64(cm.SuccessfulCompiles) / float64(cm.TotalCompiles) * 100.0
}
