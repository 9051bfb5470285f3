package monitor

import (
	"sync"
	"time"
)

// UploadMonitor tracks whether uploads are being persisted.
// It implements the upload package's Recorder.
type UploadMonitor struct {
	mu                sync.RWMutex
	maxFailures       int
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	total             uint64
	failed            uint64
}

// NewUploadMonitor creates a monitor that turns unhealthy after more than
// maxFailures consecutive failed uploads.
func NewUploadMonitor(maxFailures int) *UploadMonitor {
	return &UploadMonitor{maxFailures: maxFailures}
}

// RecordSuccess records a persisted upload.
func (um *UploadMonitor) RecordSuccess() {
	um.mu.Lock()
	defer um.mu.Unlock()
	now := time.Now()
	um.lastSuccess = now
	um.lastAttempt = now
	um.consecutiveErrors = 0
	um.lastError = ""
	um.total++
}

// RecordFailure records an upload that failed to read history or persist.
// Rejected input is the client's fault and should not be recorded.
func (um *UploadMonitor) RecordFailure(err error) {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.lastAttempt = time.Now()
	um.consecutiveErrors++
	um.total++
	um.failed++
	if err != nil {
		um.lastError = err.Error()
	}
}

// IsHealthy reports whether the last uploads reached the store.
// A server that has not received an upload yet is healthy.
func (um *UploadMonitor) IsHealthy() bool {
	um.mu.RLock()
	defer um.mu.RUnlock()
	return um.healthy()
}

func (um *UploadMonitor) healthy() bool {
	return um.consecutiveErrors <= um.maxFailures
}

// UploadStatus is the upload section of the health response.
type UploadStatus struct {
	Healthy           bool   `json:"healthy"`
	Total             uint64 `json:"total"`
	Failed            uint64 `json:"failed"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current upload status for health checks.
func (um *UploadMonitor) Status() UploadStatus {
	um.mu.RLock()
	defer um.mu.RUnlock()

	status := UploadStatus{
		Healthy: um.healthy(),
		Total:   um.total,
		Failed:  um.failed,
	}

	if !um.lastSuccess.IsZero() {
		status.LastSuccess = um.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(um.lastSuccess).Round(time.Second).String()
	}
	if !um.lastAttempt.IsZero() {
		status.LastAttempt = um.lastAttempt.Format(time.RFC3339)
	}
	if um.consecutiveErrors > 0 {
		status.ConsecutiveErrors = um.consecutiveErrors
		status.LastError = um.lastError
	}

	return status
}
