package ingest

import (
	"fmt"
	"unicode/utf8"

	"github.com/nicktill/roomusage/pkg/config"
)

var (
	// ErrTooManySamples is returned when an upload carries too many samples
	ErrTooManySamples = fmt.Errorf("too many samples in upload (max %d)", config.MaxSamplesPerUpload)

	// ErrTooManyRooms is returned when an upload tracks too many rooms
	ErrTooManyRooms = fmt.Errorf("too many rooms in upload (max %d)", config.MaxRoomsPerUpload)

	// ErrRoomNameTooLong is returned when a room name is too long
	ErrRoomNameTooLong = fmt.Errorf("room name too long (max %d chars)", config.MaxRoomNameLength)

	// ErrUserIDTooLong is returned when the user id in the path is too long
	ErrUserIDTooLong = fmt.Errorf("user id too long (max %d chars)", maxUserIDLength)
)

const maxUserIDLength = 128

// ValidateUpload checks an upload body against the size limits.
// Content rules (sample order, values, missing rooms) are left to extraction.
func ValidateUpload(req UploadRequest) error {
	if len(req.Samples) > config.MaxSamplesPerUpload {
		return fmt.Errorf("%w: got %d", ErrTooManySamples, len(req.Samples))
	}
	if len(req.Rooms) > config.MaxRoomsPerUpload {
		return fmt.Errorf("%w: got %d", ErrTooManyRooms, len(req.Rooms))
	}
	for _, name := range req.Rooms {
		if len(name) > config.MaxRoomNameLength {
			return fmt.Errorf("%w: %q has %d chars", ErrRoomNameTooLong, truncate(name, 32), len(name))
		}
	}
	return nil
}

// validateUserID checks the user id taken from the path.
func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("%w: got %d", ErrUserIDTooLong, len(userID))
	}
	return nil
}

// truncate shortens s to at most n runes for error messages.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
