package runlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of record an Event carries.
type Stage string

// Supported stages.
const (
	StageRunStart Stage = "RUN_START"
	StageAttempt  Stage = "ATTEMPT"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event is one run-log record.
type Event struct {
	// RunID is the 16-byte form of the run's UUID.
	RunID [16]byte `json:"-"`
	// TS is the UTC time the event was emitted.
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	// Account and Adapter scope ATTEMPT events.
	Account string `json:"account,omitempty"`
	Adapter string `json:"adapter,omitempty"`
	// Outcome is the adapter outcome for attempts, or the run status.
	Outcome string `json:"outcome,omitempty"`
	// Reason is the failure classification, empty on success.
	Reason string        `json:"reason,omitempty"`
	Items  int           `json:"items"`
	Dur    time.Duration `json:"duration_ns"`
	// Note carries low-volume context such as error text.
	Note string `json:"note,omitempty"`
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
	case StageAttempt:
		if e.Account == "" || e.Adapter == "" {
			return errors.New("attempt requires account and adapter")
		}
		if e.Outcome == "" {
			return errors.New("attempt requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Items < 0 {
		return errors.New("items must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// IDBytes encodes a uuid.UUID into the Event form.
func IDBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
