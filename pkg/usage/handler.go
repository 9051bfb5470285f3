package usage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/httpx"
	"github.com/nicktill/roomusage/pkg/storage"
)

// Handler serves usage reports
type Handler struct {
	store    storage.Store
	loc      *time.Location
	pageSize int
	now      func() time.Time
}

// NewHandler creates a report handler using calendar days in loc (nil = UTC)
func NewHandler(store storage.Store, loc *time.Location, pageSize int) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{store: store, loc: loc, pageSize: pageSize, now: time.Now}
}

// ReportResponse is a report with human-readable totals alongside
type ReportResponse struct {
	UserID string `json:"user_id"`
	Report
	Formatted map[string]string `json:"formatted_last_7_days"`
}

// HandleReport handles GET /v1/users/{user}/usage?date=YYYY-MM-DD
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if userID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "user id is required")
		return
	}

	date, err := h.parseDate(r.URL.Query().Get("date"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.UsageTimeout)
	defer cancel()

	entries, err := Collect(ctx, h.store, userID, h.pageSize)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	report := BuildReport(entries, date, h.loc)
	formatted := make(map[string]string, len(report.Rooms))
	for room, minutes := range report.Totals.LastWeek {
		formatted[room] = FormatMinutes(minutes)
	}

	httpx.RespondJSON(w, http.StatusOK, ReportResponse{
		UserID:    userID,
		Report:    report,
		Formatted: formatted,
	})
}

// parseDate reads a YYYY-MM-DD date in the handler's location; empty means today.
func (h *Handler) parseDate(s string) (time.Time, error) {
	if s == "" {
		return h.now().In(h.loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
