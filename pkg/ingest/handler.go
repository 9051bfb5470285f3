// Package ingest serves the per-user HTTP API: sample uploads, stored
// periods, rooms and live notifications over websockets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/httpx"
	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/upload"
)

// StorageChecker reports disk usage against a limit
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler serves uploads and period reads
type Handler struct {
	uploads        *upload.Service
	store          storage.Store
	storageChecker StorageChecker
	pageSize       int
	logger         *zap.Logger
}

// NewHandler creates a new ingest handler
func NewHandler(uploads *upload.Service, store storage.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		uploads: uploads,
		store:   store,
		logger:  logger.With(zap.String("component", "ingest")),
	}
}

// SetStorageChecker enables the disk limit check on uploads
func (h *Handler) SetStorageChecker(sc StorageChecker) {
	h.storageChecker = sc
}

// SetPageSize sets the page size used when reading periods (0 = default)
func (h *Handler) SetPageSize(n int) {
	h.pageSize = n
}

// UploadRequest is the body of an upload
type UploadRequest struct {
	Rooms   []string      `json:"rooms"`
	Samples []SampleInput `json:"samples"`
}

// SampleInput is one reading tick as sent by the client
type SampleInput struct {
	Timestamp string         `json:"timestamp"`
	Rooms     map[string]int `json:"rooms"`
}

// UploadResponse reports what an upload changed
type UploadResponse struct {
	Status  string        `json:"status"`
	Warning string        `json:"warning,omitempty"`
	Result  upload.Result `json:"result"`
}

// PeriodResponse is one stored period
type PeriodResponse struct {
	RowID  string `json:"row_id"`
	RoomID string `json:"room_id"`
	Room   string `json:"room,omitempty"`
	Start  string `json:"start_timestamp"`
	End    string `json:"end_timestamp"`
	Value  int    `json:"value"`
}

// PeriodsResponse lists a user's periods
type PeriodsResponse struct {
	UserID  string           `json:"user_id"`
	Order   string           `json:"order"`
	Periods []PeriodResponse `json:"periods"`
	Count   int              `json:"count"`
}

// RoomsResponse lists a user's rooms
type RoomsResponse struct {
	UserID string         `json:"user_id"`
	Rooms  []storage.Room `json:"rooms"`
	Count  int            `json:"count"`
}

// HandleUpload handles POST /v1/users/{user}/uploads
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if err := validateUserID(userID); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if h.storageChecker != nil && h.storageChecker.GetLimit() > 0 {
		usage, err := h.storageChecker.GetUsage()
		if err != nil {
			h.logger.Warn("failed to check storage usage", zap.Error(err))
		} else if usage >= h.storageChecker.GetLimit() {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached (%d of %d bytes used)", usage, h.storageChecker.GetLimit()))
			return
		}
	}

	var body UploadRequest
	if err := httpx.DecodeJSON(w, r, config.MaxUploadBodyBytes, &body); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.RespondError(w, status, err)
		return
	}
	if err := ValidateUpload(body); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	samples := make([]period.Sample, len(body.Samples))
	for i, s := range body.Samples {
		ts, err := period.ParseTimestamp(s.Timestamp)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("sample %d: %w", i, err))
			return
		}
		samples[i] = period.Sample{Timestamp: ts, Rooms: s.Rooms}
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.UploadTimeout)
	defer cancel()

	res, err := h.uploads.Upload(ctx, upload.Request{
		UserID:    userID,
		RoomNames: body.Rooms,
		Samples:   samples,
	})
	if err != nil {
		respondUploadError(w, err)
		return
	}

	resp := UploadResponse{Status: "success", Result: *res}
	if res.Warning != nil {
		resp.Status = "warning"
		resp.Warning = res.Warning.Error()
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// respondUploadError maps upload failures to status codes: the client's
// input is a 400, an unreadable history a 502, a failed write a 500.
func respondUploadError(w http.ResponseWriter, err error) {
	var (
		fetchErr   *pagination.FetchError
		persistErr *upload.PersistError
	)
	switch {
	case errors.Is(err, period.ErrInvalidInput):
		httpx.RespondError(w, http.StatusBadRequest, err)
	case errors.As(err, &fetchErr):
		httpx.RespondError(w, http.StatusBadGateway, err)
	case errors.As(err, &persistErr):
		httpx.RespondJSON(w, http.StatusInternalServerError, httpx.ErrorResponse{
			Error:   http.StatusText(http.StatusInternalServerError),
			Message: err.Error(),
			Phase:   string(persistErr.Phase),
		})
	default:
		httpx.RespondError(w, http.StatusInternalServerError, err)
	}
}

// HandlePeriods handles GET /v1/users/{user}/periods?order=asc|desc
func (h *Handler) HandlePeriods(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if err := validateUserID(userID); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	order := r.URL.Query().Get("order")
	if order == "" {
		order = "asc"
	}
	if order != "asc" && order != "desc" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "order must be asc or desc")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.PeriodsTimeout)
	defer cancel()

	rows, err := storage.FetchAll(ctx, h.store, storage.Query{UserID: userID, Descending: order == "desc"},
		pagination.Options{PageSize: h.pageSize})
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	rooms, err := h.store.ListRooms(ctx, userID)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("list rooms failed: %w", err))
		return
	}
	names := make(map[string]string, len(rooms))
	for _, room := range rooms {
		names[room.ID] = room.Name
	}

	periods := make([]PeriodResponse, len(rows))
	for i, row := range rows {
		periods[i] = PeriodResponse{
			RowID:  row.RowID,
			RoomID: row.Interval.RoomID,
			Room:   names[row.Interval.RoomID],
			Start:  period.FormatTimestamp(row.Interval.Start),
			End:    period.FormatTimestamp(row.Interval.End),
			Value:  row.Interval.Value,
		}
	}

	httpx.RespondJSON(w, http.StatusOK, PeriodsResponse{
		UserID:  userID,
		Order:   order,
		Periods: periods,
		Count:   len(periods),
	})
}

// HandleRooms handles GET /v1/users/{user}/rooms
func (h *Handler) HandleRooms(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if err := validateUserID(userID); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.RoomsTimeout)
	defer cancel()

	rooms, err := h.store.ListRooms(ctx, userID)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("list rooms failed: %w", err))
		return
	}
	if rooms == nil {
		rooms = []storage.Room{}
	}
	httpx.RespondJSON(w, http.StatusOK, RoomsResponse{UserID: userID, Rooms: rooms, Count: len(rooms)})
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to get stats: %w", err))
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}
