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
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunCanceled Stage = "RUN_CANCELED"
	StageWorkerStart Stage = "WORKER_START"
	StageWorkerDone  Stage = "WORKER_DONE"
	StagePageDone    Stage = "PAGE_DONE"
	StagePageEmpty   Stage = "PAGE_EMPTY"
	StagePageError   Stage = "PAGE_ERROR"
	StageDetailDone  Stage = "DETAIL_DONE"
	StageDetailError Stage = "DETAIL_ERROR"
)

// Event captures a single step of a scrape run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Worker is the index of the emitting worker; driver events leave it zero.
	Worker int
	// URL is the page or detail URL for page and detail stages.
	URL string
	// Bytes carries the fetched body size.
	Bytes int64
	// Pages is the number of pages seeded into the queue (RUN_START only).
	Pages int64
	// Records counts records published (page stages) or produced in total
	// (worker and run completion).
	Records int64
	// Errors counts failures attributed to the emitter (completion stages).
	Errors int64
	// Dur captures fetch latency, or wall time for completion stages.
	Dur time.Duration
	// Note carries low-volume context such as error text.
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
	case StageRunStart, StageRunDone, StageRunCanceled, StageWorkerStart, StageWorkerDone:
	case StagePageDone, StagePageEmpty, StagePageError, StageDetailDone, StageDetailError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
