package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

const (
	// MaxImportBatchSize is the maximum number of periods to write at once
	MaxImportBatchSize = 5000
)

// ErrInvalidDocument is returned when the import body is not a usable export
var ErrInvalidDocument = errors.New("invalid export document")

// Importer restores periods from JSON exports
type Importer struct {
	storage  storage.Store
	pageSize int
}

// NewImporter creates a new importer
func NewImporter(store storage.Store, pageSize int) *Importer {
	return &Importer{storage: store, pageSize: pageSize}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	PeriodsImported int       `json:"periods_imported"`
	AlreadyStored   int       `json:"already_stored"`
	BatchesWritten  int       `json:"batches_written"`
	ImportedAt      time.Time `json:"imported_at"`
	Errors          []string  `json:"errors,omitempty"`
}

// ImportFromJSON writes the periods of an export document into userID's
// history. Rooms are matched by name and created when missing. Periods
// already stored (same room, start and value) are skipped, so importing
// the same file twice is harmless.
func (im *Importer) ImportFromJSON(ctx context.Context, userID string, r io.Reader) (*ImportResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidDocument)
	}

	var data Data
	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if data.Metadata.Version != "" && data.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %q (want %s)", ErrInvalidDocument, data.Metadata.Version, FormatVersion)
	}

	result := &ImportResult{ImportedAt: time.Now().UTC()}
	if len(data.Periods) == 0 {
		return result, nil
	}

	existing, err := storage.FetchAll(ctx, im.storage, storage.Query{UserID: userID}, pagination.Options{PageSize: im.pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to read stored periods: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(data.Periods))
	for _, row := range existing {
		seen[importKey(row.Interval.RoomID, row.Interval.Start, row.Interval.Value)] = true
	}

	roomIDs := make(map[string]string)
	valid := make([]period.Interval, 0, len(data.Periods))
	for i, rec := range data.Periods {
		if rec.Room == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("period %d: room name is empty", i))
			continue
		}

		roomID, ok := roomIDs[rec.Room]
		if !ok {
			roomID, err = im.storage.EnsureRoom(ctx, userID, rec.Room)
			if err != nil {
				return nil, fmt.Errorf("failed to create room %q: %w", rec.Room, err)
			}
			roomIDs[rec.Room] = roomID
		}

		iv := period.Interval{
			UserID: userID,
			RoomID: roomID,
			Start:  period.Normalize(rec.Start),
			End:    period.Normalize(rec.End),
			Value:  rec.Value,
		}
		if err := storage.ValidateInterval(iv); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("period %d: %v", i, err))
			continue
		}

		key := importKey(iv.RoomID, iv.Start, iv.Value)
		if seen[key] {
			result.AlreadyStored++
			continue
		}
		seen[key] = true
		valid = append(valid, iv)
	}

	// Write periods in batches to avoid overwhelming storage
	for i := 0; i < len(valid); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		if err := im.storage.InsertIntervals(ctx, valid[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
		result.PeriodsImported += end - i
	}

	return result, nil
}

func importKey(roomID string, start time.Time, value int) string {
	return roomID + "|" + strconv.FormatInt(period.Normalize(start).Unix(), 10) + "|" + strconv.Itoa(value)
}
