package service

import (
	"fmt"
	"sync"
	"time"
)

// IngestionMetrics tracks the outcome of a batch of lap submissions
type IngestionMetrics struct {
	mu               sync.RWMutex
	StartTime        time.Time
	Duration         time.Duration
	TotalLaps        int
	Ingested         int
	Duplicates       int
	ValidationErrors int
	Errors           int
}

// NewIngestionMetrics creates a new metrics tracker
func NewIngestionMetrics() *IngestionMetrics {
	return &IngestionMetrics{
		StartTime: time.Now(),
	}
}

// RecordIngested increments the accepted lap count
func (m *IngestionMetrics) RecordIngested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalLaps++
	m.Ingested++
}

// RecordDuplicate increments duplicate count
func (m *IngestionMetrics) RecordDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalLaps++
	m.Duplicates++
}

// RecordValidationError increments validation error count
func (m *IngestionMetrics) RecordValidationError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalLaps++
	m.ValidationErrors++
}

// RecordError increments error count
func (m *IngestionMetrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalLaps++
	m.Errors++
}

// Finish stamps the elapsed duration
func (m *IngestionMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Duration = time.Since(m.StartTime)
}

// Snapshot returns the counters without the lock
func (m *IngestionMetrics) Snapshot() (total, ingested, duplicates, validation, errs int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TotalLaps, m.Ingested, m.Duplicates, m.ValidationErrors, m.Errors
}

// String returns a formatted string representation of metrics
func (m *IngestionMetrics) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	successRate := float64(0)
	if m.TotalLaps > 0 {
		successRate = float64(m.Ingested) / float64(m.TotalLaps) * 100
	}

	return fmt.Sprintf(
		"IngestionMetrics{Total=%d, Ingested=%d (%.1f%%), Duplicates=%d, ValidationErrors=%d, Errors=%d, Duration=%v}",
		m.TotalLaps,
		m.Ingested,
		successRate,
		m.Duplicates,
		m.ValidationErrors,
		m.Errors,
		m.Duration,
	)
}
