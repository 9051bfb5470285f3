package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/roomusage/pkg/config"
	"github.com/nicktill/roomusage/pkg/httpx"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/usage"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	store    storage.Store
	loc      *time.Location
	pageSize int
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler. Report exports use
// calendar days in loc (nil = UTC).
func NewHandler(store storage.Store, loc *time.Location, pageSize int, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		exporter: NewExporter(store, pageSize),
		importer: NewImporter(store, pageSize),
		store:    store,
		loc:      loc,
		pageSize: pageSize,
		logger:   logger.With(zap.String("component", "export")),
	}
}

// HandleExport handles GET /v1/users/{user}/export
// Query params:
//   - format: "json", "csv" or "report" (default: json)
//   - start, end: period bounds for json and csv (default: open)
//   - date: report anchor day, YYYY-MM-DD (default: today)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if userID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "user id is required")
		return
	}

	query := r.URL.Query()
	format := query.Get("format")
	if format == "" {
		format = "json"
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	if format == "report" {
		h.exportReport(ctx, w, userID, query.Get("date"))
		return
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be 'json', 'csv' or 'report'")
		return
	}

	opts := ExportOptions{UserID: userID}
	var err error
	if opts.Start, err = parseTimeParam(query.Get("start")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("start: %w", err))
		return
	}
	if opts.End, err = parseTimeParam(query.Get("end")); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("end: %w", err))
		return
	}
	if !opts.Start.IsZero() && !opts.End.IsZero() && !opts.Start.Before(opts.End) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}

	// Buffer so a failed read can still produce a proper error response
	var buf bytes.Buffer
	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, &buf, opts)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, &buf, opts)
	}
	if err != nil {
		h.logger.Warn("export failed", zap.String("user_id", userID), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	timestamp := time.Now().Format("20060102-150405")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/csv")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=roomusage-%s-%s.%s", userID, timestamp, format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("export write interrupted", zap.Error(err))
		return
	}

	h.logger.Info("export finished",
		zap.String("user_id", userID),
		zap.String("format", format),
		zap.Int("periods", result.PeriodsExported),
		zap.String("time_range", result.TimeRange))
}

func (h *Handler) exportReport(ctx context.Context, w http.ResponseWriter, userID, dateParam string) {
	date := time.Now().In(h.loc)
	if dateParam != "" {
		d, err := time.ParseInLocation("2006-01-02", dateParam, h.loc)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid date %q (want YYYY-MM-DD)", dateParam))
			return
		}
		date = d
	}

	entries, err := usage.Collect(ctx, h.store, userID, h.pageSize)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}
	report := usage.BuildReport(entries, date, h.loc)

	var buf bytes.Buffer
	if err := WriteReportCSV(&buf, report); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=roomusage-report-%s-%s.csv", userID, report.Date))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("report write interrupted", zap.Error(err))
	}
}

// HandleImport handles POST /v1/users/{user}/import
// Accepts a JSON export and restores its periods into the user's history
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user"]
	if userID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "user id is required")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/json" {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ExportTimeout)
	defer cancel()

	body := http.MaxBytesReader(w, r.Body, config.MaxUploadBodyBytes)
	result, err := h.importer.ImportFromJSON(ctx, userID, body)
	if err != nil {
		h.logger.Warn("import failed", zap.String("user_id", userID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidDocument) {
			status = http.StatusBadRequest
		}
		httpx.RespondError(w, status, fmt.Errorf("import failed: %w", err))
		return
	}

	if len(result.Errors) > 0 {
		h.logger.Warn("import skipped invalid periods",
			zap.String("user_id", userID),
			zap.Int("invalid", len(result.Errors)),
			zap.Strings("first_errors", firstN(result.Errors, 10)))
	}
	h.logger.Info("import finished",
		zap.String("user_id", userID),
		zap.Int("imported", result.PeriodsImported),
		zap.Int("already_stored", result.AlreadyStored),
		zap.Int("batches", result.BatchesWritten))

	httpx.RespondJSON(w, http.StatusOK, result)
}

// parseTimeParam parses an optional timestamp parameter; empty means open.
func parseTimeParam(param string) (time.Time, error) {
	if param == "" {
		return time.Time{}, nil
	}
	return period.ParseTimestamp(param)
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
