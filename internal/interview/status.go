// Package interview owns the interview lifecycle: the canonical status values
// and the events that are allowed to move an interview between them.
package interview

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of an interview.
type Status string

const (
	StatusCreated        Status = "created"
	StatusQuestionsReady Status = "questions_ready"
	StatusUploaded       Status = "uploaded"
	StatusProcessing     Status = "processing"
	StatusComplete       Status = "complete"
	StatusFailed         Status = "failed"
)

// Event is something that happened to an interview and may change its status.
type Event string

const (
	EventQuestionsGenerated  Event = "questions_generated"
	EventVideoUploaded       Event = "video_uploaded"
	EventProcessingStarted   Event = "processing_started"
	EventRetryStarted        Event = "retry_started"
	EventProcessingSucceeded Event = "processing_succeeded"
	EventProcessingFailed    Event = "processing_failed"
	// EventProcessingReclaimed hands a processing interview abandoned by a
	// crashed worker to a new attempt.
	EventProcessingReclaimed Event = "processing_reclaimed"
)

// ErrIllegalTransition is returned when an event is not allowed from the current status.
var ErrIllegalTransition = errors.New("illegal status transition")

type edge struct {
	from []Status
	to   Status
}

// EventRetryStarted is only legal when the recorded failure was retryable;
// the repository enforces that part with its retryable column.
var edges = map[Event]edge{
	EventQuestionsGenerated:  {from: []Status{StatusCreated}, to: StatusQuestionsReady},
	EventVideoUploaded:       {from: []Status{StatusCreated, StatusQuestionsReady, StatusComplete, StatusFailed}, to: StatusUploaded},
	EventProcessingStarted:   {from: []Status{StatusUploaded}, to: StatusProcessing},
	EventRetryStarted:        {from: []Status{StatusFailed}, to: StatusProcessing},
	EventProcessingSucceeded: {from: []Status{StatusProcessing}, to: StatusComplete},
	EventProcessingFailed:    {from: []Status{StatusCreated, StatusQuestionsReady, StatusUploaded, StatusProcessing}, to: StatusFailed},
	EventProcessingReclaimed: {from: []Status{StatusProcessing}, to: StatusProcessing},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusQuestionsReady, StatusUploaded, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a processing attempt.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Transition returns the status reached by applying ev to from.
func Transition(from Status, ev Event) (Status, error) {
	e, ok := edges[ev]
	if !ok {
		return from, fmt.Errorf("%w: unknown event %q", ErrIllegalTransition, ev)
	}
	for _, s := range e.from {
		if s == from {
			return e.to, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
}

// Sources lists the statuses from which ev may fire. The slice is a copy.
func Sources(ev Event) []Status {
	e, ok := edges[ev]
	if !ok {
		return nil
	}
	out := make([]Status, len(e.from))
	copy(out, e.from)
	return out
}

// Target returns the status ev leads to.
func Target(ev Event) (Status, bool) {
	e, ok := edges[ev]
	return e.to, ok
}
