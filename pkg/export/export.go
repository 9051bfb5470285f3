package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
	"github.com/nicktill/roomusage/pkg/usage"
)

// FormatVersion is written into JSON exports and checked on import
const FormatVersion = "1.0"

// Exporter handles exporting periods to various formats
type Exporter struct {
	storage  storage.Store
	pageSize int
}

// NewExporter creates a new exporter reading pageSize rows per request (0 = default)
func NewExporter(store storage.Store, pageSize int) *Exporter {
	return &Exporter{storage: store, pageSize: pageSize}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	UserID string

	// Periods overlapping [Start, End) are exported; a zero bound is open
	Start time.Time
	End   time.Time
}

// ExportResult contains stats about the export
type ExportResult struct {
	PeriodsExported int       `json:"periods_exported"`
	TimeRange       string    `json:"time_range"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

// Record is one exported period
type Record struct {
	Room   string    `json:"room"`
	RoomID string    `json:"room_id,omitempty"`
	Start  time.Time `json:"start_timestamp"`
	End    time.Time `json:"end_timestamp"`
	Value  int       `json:"value"`
}

// Metadata describes a JSON export
type Metadata struct {
	ExportedAt  time.Time `json:"exported_at"`
	UserID      string    `json:"user_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	PeriodCount int       `json:"period_count"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
}

// Data is the JSON export document, also accepted by the importer
type Data struct {
	Metadata Metadata `json:"metadata"`
	Periods  []Record `json:"periods"`
}

// ExportToJSON exports periods as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.records(ctx, opts)
	if err != nil {
		return nil, err
	}

	data := Data{
		Metadata: Metadata{
			ExportedAt:  time.Now().UTC(),
			UserID:      opts.UserID,
			StartTime:   opts.Start,
			EndTime:     opts.End,
			PeriodCount: len(records),
			Format:      "json",
			Version:     FormatVersion,
		},
		Periods: records,
	}

	// Encode as pretty JSON
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		PeriodsExported: len(records),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "json",
		ExportedAt:      data.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports periods as CSV to the given writer
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	records, err := e.records(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)

	header := []string{"room", "start_timestamp", "end_timestamp", "value", "minutes"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.Room,
			period.FormatTimestamp(rec.Start),
			period.FormatTimestamp(rec.End),
			strconv.Itoa(rec.Value),
			strconv.FormatFloat(rec.End.Sub(rec.Start).Minutes(), 'f', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return &ExportResult{
		PeriodsExported: len(records),
		TimeRange:       timeRange(opts.Start, opts.End),
		Format:          "csv",
		ExportedAt:      time.Now().UTC(),
	}, nil
}

// WriteReportCSV writes a usage report as a table of formatted durations:
// one row per day, one per week and a total row after each section.
func WriteReportCSV(w io.Writer, r usage.Report) error {
	writer := csv.NewWriter(w)

	header := append([]string{"section", "period"}, r.Rooms...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := func(section, label string, minutes map[string]float64) error {
		cells := []string{section, label}
		for _, room := range r.Rooms {
			cells = append(cells, usage.FormatMinutes(minutes[room]))
		}
		return writer.Write(cells)
	}

	for _, b := range r.Days {
		if err := row("last 7 days", b.Label, b.Minutes); err != nil {
			return err
		}
	}
	if err := row("last 7 days", "Total", r.Totals.LastWeek); err != nil {
		return err
	}
	for _, b := range r.Weeks {
		if err := row("last 4 weeks", b.Label, b.Minutes); err != nil {
			return err
		}
	}
	if err := row("last 4 weeks", "Total", r.Totals.LastMonth); err != nil {
		return err
	}
	if err := row("all time", "Total", r.Totals.AllTime); err != nil {
		return err
	}

	writer.Flush()
	return writer.Error()
}

// records reads the user's periods in export order (ascending end) and
// labels them with room names.
func (e *Exporter) records(ctx context.Context, opts ExportOptions) ([]Record, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := storage.FetchAll(ctx, e.storage, storage.Query{UserID: opts.UserID}, pagination.Options{PageSize: e.pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to query periods: %w", err)
	}
	rooms, err := e.storage.ListRooms(ctx, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	names := make(map[string]string, len(rooms))
	for _, r := range rooms {
		names[r.ID] = r.Name
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		iv := row.Interval
		if !opts.Start.IsZero() && !iv.End.After(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && !iv.Start.Before(opts.End) {
			continue
		}
		records = append(records, Record{
			Room:   names[iv.RoomID],
			RoomID: iv.RoomID,
			Start:  iv.Start,
			End:    iv.End,
			Value:  iv.Value,
		})
	}
	return records, nil
}

func timeRange(start, end time.Time) string {
	format := func(t time.Time) string {
		if t.IsZero() {
			return "open"
		}
		return t.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s to %s", format(start), format(end))
}
