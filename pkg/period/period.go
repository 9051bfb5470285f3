package period

import (
	"strconv"
	"time"
)

// Occupancy values
const (
	Vacant   = 0
	Occupied = 1
)

// Sample is one reading tick: the occupancy of every tracked room at Timestamp.
type Sample struct {
	Timestamp time.Time      `json:"timestamp"`
	Rooms     map[string]int `json:"rooms"`
}

// Interval is a run of constant occupancy for one room over [Start, End).
// An empty RoomID means "no room data".
type Interval struct {
	UserID string    `json:"user_id"`
	RoomID string    `json:"room_id,omitempty"`
	Start  time.Time `json:"start_timestamp"`
	End    time.Time `json:"end_timestamp"`
	Value  int       `json:"value"`
}

// key identifies an interval for duplicate detection: user, room, start and value.
func (iv Interval) key() string {
	return iv.UserID + "|" + iv.RoomID + "|" +
		strconv.FormatInt(Normalize(iv.Start).Unix(), 10) + "|" +
		strconv.Itoa(iv.Value)
}

// StoredInterval is an Interval together with its row id in the store.
type StoredInterval struct {
	RowID    string   `json:"row_id"`
	Interval Interval `json:"period"`
}

// Intervals unwraps the stored rows
func Intervals(rows []StoredInterval) []Interval {
	out := make([]Interval, len(rows))
	for i, r := range rows {
		out[i] = r.Interval
	}
	return out
}
