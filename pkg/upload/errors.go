package upload

import "fmt"

// Phase names the write step that failed
type Phase string

const (
	// PhaseRooms: creating or resolving room ids
	PhaseRooms Phase = "rooms"

	// PhaseDelete: removing the rows of extended periods
	PhaseDelete Phase = "delete"

	// PhaseInsert: writing extended and new periods. When the delete phase
	// already succeeded, the extended periods are missing from the store
	// until the same upload is retried.
	PhaseInsert Phase = "insert"

	// PhaseReplace: the transactional delete and insert; nothing was written
	PhaseReplace Phase = "replace"
)

// PersistError reports a failed write and the phase it failed in.
type PersistError struct {
	Phase Phase
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist periods (%s phase): %v", e.Phase, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// PartialWrite reports whether the store may hold the deletes without the inserts.
func (e *PersistError) PartialWrite() bool {
	return e.Phase == PhaseInsert
}
