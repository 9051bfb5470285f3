// Package upload runs the write path for one batch of occupancy samples:
// extract periods, read the user's stored history, reconcile, persist and
// notify.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/metrics"
	"github.com/nicktill/roomusage/pkg/notify"
	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Recorder tracks upload health
type Recorder interface {
	RecordSuccess()
	RecordFailure(err error)
}

// Config wires a Service. Only Store is required.
type Config struct {
	Store    storage.Store
	Sink     notify.Sink
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Monitor  Recorder
	Location *time.Location // calendar of the same-day rule (nil = UTC)
	PageSize int            // history page size (0 = pagination.PageSize)
}

// Service processes uploads. Uploads of the same user run one at a time;
// different users proceed in parallel.
type Service struct {
	store    storage.Store
	sink     notify.Sink
	logger   *zap.Logger
	metrics  *metrics.Metrics
	monitor  Recorder
	loc      *time.Location
	pageSize int
	locks    keyedMutex
}

// New creates a Service
func New(cfg Config) *Service {
	s := &Service{
		store:    cfg.Store,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		monitor:  cfg.Monitor,
		loc:      cfg.Location,
		pageSize: cfg.PageSize,
	}
	if s.sink == nil {
		s.sink = notify.Discard
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("component", "upload"))
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Request is one user's batch of samples
type Request struct {
	UserID    string
	RoomNames []string
	Samples   []period.Sample
}

// Result summarizes a finished upload.
type Result struct {
	Extracted  int `json:"extracted"`
	Inserted   int `json:"inserted"`
	Deleted    int `json:"deleted"`
	Extended   int `json:"extended"`
	Duplicates int `json:"duplicates"`

	// Warning wraps period.ErrDuplicatePeriods when the batch repeated
	// stored periods. The upload still succeeded.
	Warning error `json:"-"`
}

// Upload extracts periods from req and merges them into the user's history.
//
// Errors: period.ErrInvalidInput for a malformed batch (nothing is written),
// *pagination.FetchError when the history could not be read (nothing is
// written), *PersistError when a write failed.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	res, err := s.upload(ctx, req)

	outcome := outcomeOf(res, err)
	s.metrics.Upload(outcome, time.Since(start).Seconds())
	switch outcome {
	case metrics.OutcomeOK, metrics.OutcomeDuplicate:
		if s.monitor != nil {
			s.monitor.RecordSuccess()
		}
	case metrics.OutcomeFetch, metrics.OutcomePersist:
		if s.monitor != nil {
			s.monitor.RecordFailure(err)
		}
		s.notify(ctx, notify.Event{Type: notify.UploadFailed, UserID: req.UserID, Message: err.Error()})
	}

	if err != nil {
		s.logger.Warn("upload failed",
			zap.String("user_id", req.UserID),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("upload processed",
		zap.String("user_id", req.UserID),
		zap.Int("samples", len(req.Samples)),
		zap.Int("extracted", res.Extracted),
		zap.Int("inserted", res.Inserted),
		zap.Int("deleted", res.Deleted),
		zap.Int("duplicates", res.Duplicates),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (s *Service) upload(ctx context.Context, req Request) (*Result, error) {
	// Extract with room names standing in for ids, so a malformed batch is
	// rejected before any room is created.
	byName := make(map[string]string, len(req.RoomNames))
	for _, name := range req.RoomNames {
		byName[name] = name
	}
	intervals, err := period.Extract(req.UserID, req.RoomNames, byName, req.Samples)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	roomIDs, idOf, err := s.ensureRooms(ctx, req.UserID, req.RoomNames)
	if err != nil {
		return nil, &PersistError{Phase: PhaseRooms, Err: err}
	}
	for i := range intervals {
		intervals[i].RoomID = idOf[intervals[i].RoomID]
	}

	res := &Result{Extracted: len(intervals)}
	if len(intervals) == 0 {
		return res, nil
	}

	old, err := storage.FetchAll(ctx, s.store, storage.Query{UserID: req.UserID, Descending: true}, pagination.Options{
		PageSize: s.pageSize,
		OnPage:   func(int, int) { s.metrics.PageFetched() },
	})
	if err != nil {
		return nil, fmt.Errorf("read period history: %w", err)
	}

	var plan period.Result
	if len(old) == 0 {
		plan = period.Result{IntervalsToPersist: intervals, Inserts: intervals}
	} else {
		plan = period.ReconcileIn(s.loc, intervals, old, roomIDs)
	}

	res.Inserted = len(plan.Inserts)
	res.Deleted = len(plan.RowsToDelete)
	res.Extended = plan.Extended
	res.Duplicates = len(plan.Duplicates)

	if plan.HasDuplicates() {
		res.Warning = fmt.Errorf("%w: %d of %d periods were already stored",
			period.ErrDuplicatePeriods, len(plan.Duplicates), len(intervals))
		s.notify(ctx, notify.Event{
			Type:    notify.DuplicatePeriods,
			UserID:  req.UserID,
			Count:   len(plan.Duplicates),
			Message: res.Warning.Error(),
		})
	}

	// Once writing starts it runs to completion; a client hanging up must
	// not leave the delete without its insert.
	if err := s.persist(context.WithoutCancel(ctx), plan.RowsToDelete, plan.Inserts); err != nil {
		return nil, err
	}

	s.metrics.PeriodsHandled("inserted", res.Inserted)
	s.metrics.PeriodsHandled("deleted", res.Deleted)
	s.metrics.PeriodsHandled("extended", res.Extended)
	s.metrics.PeriodsHandled("duplicate", res.Duplicates)

	if res.Inserted > 0 {
		s.notify(ctx, notify.Event{Type: notify.PeriodsInserted, UserID: req.UserID, Count: res.Inserted})
	}
	return res, nil
}

// ensureRooms resolves room names to ids, creating missing rooms, and
// returns the ids in name order.
func (s *Service) ensureRooms(ctx context.Context, userID string, names []string) ([]string, map[string]string, error) {
	ids := make([]string, 0, len(names))
	idOf := make(map[string]string, len(names))
	for _, name := range names {
		id, err := s.store.EnsureRoom(ctx, userID, name)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		idOf[name] = id
	}
	return ids, idOf, nil
}

// persist deletes the rows of extended periods and then inserts, inside one
// transaction when the store supports it.
func (s *Service) persist(ctx context.Context, deleteIDs []string, inserts []period.Interval) error {
	if len(deleteIDs) == 0 && len(inserts) == 0 {
		return nil
	}

	if r, ok := s.store.(storage.Replacer); ok {
		if err := r.Replace(ctx, deleteIDs, inserts); err != nil {
			return &PersistError{Phase: PhaseReplace, Err: err}
		}
		return nil
	}

	if len(deleteIDs) > 0 {
		if err := s.store.DeleteRows(ctx, deleteIDs); err != nil {
			return &PersistError{Phase: PhaseDelete, Err: err}
		}
	}
	if len(inserts) > 0 {
		if err := s.store.InsertIntervals(ctx, inserts); err != nil {
			if len(deleteIDs) > 0 {
				s.logger.Error("extended periods deleted but not re-inserted; retry the upload",
					zap.Strings("deleted_rows", deleteIDs),
					zap.Error(err))
			}
			return &PersistError{Phase: PhaseInsert, Err: err}
		}
	}
	return nil
}

// notify delivers e without letting a slow or failing sink affect the upload.
func (s *Service) notify(ctx context.Context, e notify.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.NotifyTimeout)
	defer cancel()

	if err := s.sink.Notify(nctx, e); err != nil {
		s.metrics.NotifyFailed()
		s.logger.Warn("notification not delivered",
			zap.String("event", string(e.Type)),
			zap.String("user_id", e.UserID),
			zap.Error(err))
	}
}

func outcomeOf(res *Result, err error) string {
	var (
		fetchErr   *pagination.FetchError
		persistErr *PersistError
	)
	switch {
	case err == nil && res != nil && res.Warning != nil:
		return metrics.OutcomeDuplicate
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, period.ErrInvalidInput):
		return metrics.OutcomeInvalid
	case errors.As(err, &fetchErr):
		return metrics.OutcomeFetch
	case errors.As(err, &persistErr):
		return metrics.OutcomePersist
	default:
		return metrics.OutcomePersist
	}
}
