// Package notify delivers upload outcomes to interested parties: connected
// browsers, the log and downstream services. Delivery is best effort.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType names what happened
type EventType string

const (
	// PeriodsInserted is sent after new periods were persisted
	PeriodsInserted EventType = "periods_inserted"

	// DuplicatePeriods is sent when an upload repeated stored periods
	DuplicatePeriods EventType = "duplicate_periods"

	// UploadFailed is sent when an upload aborted without persisting
	UploadFailed EventType = "upload_failed"
)

// Event is one notification about a user's periods.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Count     int       `json:"count"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, e Event) error

// Notify calls f
func (f SinkFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Multi fans an event out to every sink. All sinks are tried; their errors are joined.
type Multi []Sink

// Notify delivers e to every sink
func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
