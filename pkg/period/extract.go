package period

import (
	"fmt"
	"time"
)

// Extract compresses a sample stream into run-length intervals, one room at
// a time in roomNames order. Samples must be in non-decreasing timestamp order;
// Extract does not sort them and fails with ErrInvalidInput instead.
//
// The final interval of each room ends at the last sample. A run that starts
// on the last sample has no length and is not emitted.
func Extract(userID string, roomNames []string, roomIDOf map[string]string, samples []Sample) ([]Interval, error) {
	if err := validate(userID, roomNames, roomIDOf, samples); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	var out []Interval
	for _, room := range roomNames {
		out = append(out, extractRoom(userID, roomIDOf[room], room, samples)...)
	}
	return out, nil
}

func extractRoom(userID, roomID, room string, samples []Sample) []Interval {
	var (
		runs    []Interval
		current int
		start   time.Time
		started bool
	)

	for _, s := range samples {
		ts := Normalize(s.Timestamp)
		value := s.Rooms[room]

		if started && value == current {
			continue
		}

		if !started {
			current, start, started = value, ts, true
			continue
		}

		// Change at the same instant the current run began: the run has no
		// length. Drop it, and reopen the previous run if the value flips back.
		if ts.Equal(start) {
			if n := len(runs); n > 0 && runs[n-1].Value == value && runs[n-1].End.Equal(ts) {
				start = runs[n-1].Start
				runs = runs[:n-1]
			}
			current = value
			continue
		}

		runs = append(runs, Interval{
			UserID: userID,
			RoomID: roomID,
			Start:  start,
			End:    ts,
			Value:  current,
		})
		current, start = value, ts
	}

	last := Normalize(samples[len(samples)-1].Timestamp)
	if started && start.Before(last) {
		runs = append(runs, Interval{
			UserID: userID,
			RoomID: roomID,
			Start:  start,
			End:    last,
			Value:  current,
		})
	}
	return runs
}

// validate checks the extractor preconditions up front so a bad stream never
// produces partial output.
func validate(userID string, roomNames []string, roomIDOf map[string]string, samples []Sample) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	seen := make(map[string]bool, len(roomNames))
	for _, room := range roomNames {
		if room == "" {
			return fmt.Errorf("%w: empty room name", ErrInvalidInput)
		}
		if seen[room] {
			return fmt.Errorf("%w: room %q listed twice", ErrInvalidInput, room)
		}
		seen[room] = true
		if roomIDOf[room] == "" {
			return fmt.Errorf("%w: no room id for %q", ErrInvalidInput, room)
		}
	}

	var prev time.Time
	for i, s := range samples {
		if s.Timestamp.IsZero() {
			return fmt.Errorf("%w: sample %d has no timestamp", ErrInvalidInput, i)
		}
		ts := Normalize(s.Timestamp)
		if i > 0 && ts.Before(prev) {
			return fmt.Errorf("%w: sample %d at %s is earlier than the previous sample at %s",
				ErrInvalidInput, i, FormatTimestamp(ts), FormatTimestamp(prev))
		}
		prev = ts

		for _, room := range roomNames {
			v, ok := s.Rooms[room]
			if !ok {
				return fmt.Errorf("%w: sample %d has no value for room %q", ErrInvalidInput, i, room)
			}
			if v != Vacant && v != Occupied {
				return fmt.Errorf("%w: sample %d has value %d for room %q (want 0 or 1)", ErrInvalidInput, i, v, room)
			}
		}
	}
	return nil
}
