// Package progress defines the event structures emitted by the crawl,
// summarize, and index pipelines.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunHB      Stage = "RUN_HEARTBEAT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageItemStart  Stage = "ITEM_START"
	StageItemDone   Stage = "ITEM_DONE"
)

// StatusClass is a coarse HTTP response grouping for fetch events.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// ItemOutcome classifies one processed item for item events.
type ItemOutcome string

// Supported item outcomes.
const (
	ItemSucceeded ItemOutcome = "succeeded"
	ItemSkipped   ItemOutcome = "skipped"
	ItemFailed    ItemOutcome = "failed"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// RunID uniquely identifies a pipeline run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle, fetch, or item milestone occurred.
	Stage Stage
	// Source scopes the event to a crawl source or pipeline label.
	Source string
	// URL is the optional page URL or item path; no credentials.
	URL string
	// Bytes carries the response size delta for fetch events.
	Bytes int64
	// Pages increments by one for each completed fetch.
	Pages int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Outcome classifies item completions (succeeded/skipped/failed).
	Outcome ItemOutcome
	// Dur captures execution latency for fetches, items, and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
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
	case StageRunStart, StageRunHB, StageRunDone, StageRunError:
	case StageFetchStart:
		if e.Source == "" {
			return errors.New("fetch start requires source")
		}
	case StageFetchDone:
		if e.Source == "" {
			return errors.New("fetch done requires source")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageItemStart:
		if e.Source == "" {
			return errors.New("item start requires source")
		}
	case StageItemDone:
		if e.Source == "" {
			return errors.New("item done requires source")
		}
		switch e.Outcome {
		case ItemSucceeded, ItemSkipped, ItemFailed:
		default:
			return fmt.Errorf("item done requires a known outcome, got %q", e.Outcome)
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

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
