package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageItemDone  Stage = "ITEM_DONE"
	StageItemError Stage = "ITEM_ERROR"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// isRunLevel reports whether s marks the start or end of a run.
func (s Stage) isRunLevel() bool {
	switch s {
	case StageRunStart, StageRunDone, StageRunError:
		return true
	default:
		return false
	}
}

// Event captures a single step of a run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Item names the document for item events (path or URL).
	Item string
	// Records is the number of records written for the item, or for the
	// whole run on RUN_DONE.
	Records int64
	// Processed and Errors carry run totals on RUN_DONE and RUN_ERROR.
	Processed int64
	Errors    int64
	// ErrorKind is the report slug of an item failure.
	ErrorKind string
	// Workers is the pool size, set on RUN_START.
	Workers int
	Dur     time.Duration
	// Note carries low-volume context such as the abort reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageItemDone:
		if e.Item == "" {
			return errors.New("item done requires item")
		}
	case StageItemError:
		if e.ErrorKind == "" {
			return errors.New("item error requires error kind")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
