package usage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nicktill/roomusage/pkg/pagination"
	"github.com/nicktill/roomusage/pkg/period"
	"github.com/nicktill/roomusage/pkg/storage"
)

const (
	reportDays  = 7
	reportWeeks = 4
)

// Entry is a stored period labeled with its room name
type Entry struct {
	Room  string
	Start time.Time
	End   time.Time
	Value int
}

// Bucket holds the occupied minutes per room within [Start, End)
type Bucket struct {
	Label   string             `json:"label"`
	Start   time.Time          `json:"start"`
	End     time.Time          `json:"end"`
	Minutes map[string]float64 `json:"minutes"`
}

// Totals sums occupied minutes per room over the report windows
type Totals struct {
	LastWeek  map[string]float64 `json:"last_7_days"`
	LastMonth map[string]float64 `json:"last_4_weeks"`
	AllTime   map[string]float64 `json:"all_time"`
}

// Report is the occupancy summary of one user around a reference date.
type Report struct {
	Date   string   `json:"date"`
	Rooms  []string `json:"rooms"`
	Days   []Bucket `json:"days"`
	Weeks  []Bucket `json:"weeks"`
	Totals Totals   `json:"totals"`
}

// Entries labels stored rows with room names. Rows of unknown rooms keep
// their room id as label.
func Entries(rows []period.StoredInterval, rooms []storage.Room) []Entry {
	names := make(map[string]string, len(rooms))
	for _, r := range rooms {
		names[r.ID] = r.Name
	}

	out := make([]Entry, len(rows))
	for i, row := range rows {
		name, ok := names[row.Interval.RoomID]
		if !ok {
			name = row.Interval.RoomID
		}
		out[i] = Entry{
			Room:  name,
			Start: row.Interval.Start,
			End:   row.Interval.End,
			Value: row.Interval.Value,
		}
	}
	return out
}

// Collect reads all of userID's periods, oldest first, labeled with room names.
func Collect(ctx context.Context, store storage.Store, userID string, pageSize int) ([]Entry, error) {
	rows, err := storage.FetchAll(ctx, store, storage.Query{UserID: userID}, pagination.Options{PageSize: pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to read periods: %w", err)
	}
	rooms, err := store.ListRooms(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return Entries(rows, rooms), nil
}

// MinutesPerRoom sums the occupied minutes of every room in rooms within
// [start, end). Entries are clipped to the window; a zero start or end
// leaves that side open. Rooms without occupancy report 0.
func MinutesPerRoom(entries []Entry, rooms []string, start, end time.Time) map[string]float64 {
	out := make(map[string]float64, len(rooms))
	for _, r := range rooms {
		out[r] = 0
	}

	for _, e := range entries {
		if e.Value != period.Occupied {
			continue
		}
		if _, tracked := out[e.Room]; !tracked {
			continue
		}

		from, to := e.Start, e.End
		if !start.IsZero() && from.Before(start) {
			from = start
		}
		if !end.IsZero() && to.After(end) {
			to = end
		}
		if to.After(from) {
			out[e.Room] += to.Sub(from).Minutes()
		}
	}
	return out
}

// BuildReport summarizes entries around date: the 7 days ending on date,
// the 4 Monday-based weeks ending with the week of date, and totals.
// Days are calendar days in loc (nil = UTC).
func BuildReport(entries []Entry, date time.Time, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)

	rooms := roomNames(entries)
	r := Report{
		Date:  day.Format("2006-01-02"),
		Rooms: rooms,
	}

	for i := 0; i < reportDays; i++ {
		start := day.AddDate(0, 0, i-(reportDays-1))
		end := start.AddDate(0, 0, 1)
		r.Days = append(r.Days, Bucket{
			Label:   start.Format("02/01 Mon"),
			Start:   start,
			End:     end,
			Minutes: MinutesPerRoom(entries, rooms, start, end),
		})
	}

	monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	for i := 0; i < reportWeeks; i++ {
		start := monday.AddDate(0, 0, 7*(i-(reportWeeks-1)))
		end := start.AddDate(0, 0, 7)
		r.Weeks = append(r.Weeks, Bucket{
			Label:   start.Format("02/01") + " - " + end.AddDate(0, 0, -1).Format("02/01"),
			Start:   start,
			End:     end,
			Minutes: MinutesPerRoom(entries, rooms, start, end),
		})
	}

	r.Totals = Totals{
		LastWeek:  MinutesPerRoom(entries, rooms, r.Days[0].Start, r.Days[reportDays-1].End),
		LastMonth: MinutesPerRoom(entries, rooms, r.Weeks[0].Start, r.Weeks[reportWeeks-1].End),
		AllTime:   MinutesPerRoom(entries, rooms, time.Time{}, time.Time{}),
	}
	return r
}

// FormatMinutes renders minutes as "42 min" or "1 h 5 min".
func FormatMinutes(minutes float64) string {
	total := int(math.Round(minutes))
	if total < 60 {
		return fmt.Sprintf("%d min", total)
	}
	return fmt.Sprintf("%d h %d min", total/60, total%60)
}

// roomNames returns the distinct room names of entries, sorted.
func roomNames(entries []Entry) []string {
	seen := make(map[string]bool)
	var names []string
	for _, e := range entries {
		if e.Room == "" || seen[e.Room] {
			continue
		}
		seen[e.Room] = true
		names = append(names, e.Room)
	}
	sort.Strings(names)
	return names
}
