package pdfrender

import (
	"fmt"
	"time"
)

// State is the lifecycle of a conversion run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelling
	StateCompleted
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateRunning:    "running",
	StateCancelling: "cancelling",
	StateCompleted:  "completed",
	StateCancelled:  "cancelled",
	StateFailed:     "failed",
}

func (state State) String() string {
	if name, ok := stateNames[state]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(state))
}

// Terminal reports whether no further transition is possible.
func (state State) Terminal() bool {
	return state == StateCompleted || state == StateCancelled || state == StateFailed
}

// allowedTransitions lists every legal edge of the run state machine.
var allowedTransitions = map[State][]State{
	StateIdle:       {StateRunning},
	StateRunning:    {StateCancelling, StateCompleted, StateCancelled, StateFailed},
	StateCancelling: {StateCompleted, StateCancelled},
}

// Machine tracks a run's state and rejects illegal transitions. It is not safe for
// concurrent use: the worker and each front end keep their own.
type Machine struct {
	state State
}

// State returns the current state.
func (machine *Machine) State() State { return machine.state }

// Transition moves to the target state or returns ErrInvalidTransition.
func (machine *Machine) Transition(target State) error {
	for _, allowed := range allowedTransitions[machine.state] {
		if allowed == target {
			machine.state = target

			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, machine.state, target)
}

// Reset returns a finished machine to Idle so the next run can start.
func (machine *Machine) Reset() {
	machine.state = StateIdle
}

// EventKind identifies a progress event.
type EventKind int

const (
	// EventStarted carries the page geometry once the document has been read.
	EventStarted EventKind = iota
	EventBatchStarted
	EventPageDone
	EventPageSkipped
	EventPageBlank
	EventPageFailed
	EventBatchFailed
	EventCancelled
	EventCompleted
	EventFailed
)

var eventKindNames = map[EventKind]string{
	EventStarted:      "started",
	EventBatchStarted: "batch-started",
	EventPageDone:     "page-done",
	EventPageSkipped:  "page-skipped",
	EventPageBlank:    "page-blank",
	EventPageFailed:   "page-failed",
	EventBatchFailed:  "batch-failed",
	EventCancelled:    "cancelled",
	EventCompleted:    "completed",
	EventFailed:       "failed",
}

func (kind EventKind) String() string {
	if name, ok := eventKindNames[kind]; ok {
		return name
	}

	return fmt.Sprintf("event(%d)", int(kind))
}

// Event is a typed progress notification emitted by the conversion worker. Fields that do
// not apply to a kind are zero.
type Event struct {
	Time      time.Time
	Err       error
	Outcome   *Outcome
	PDFPath   string
	Path      string
	Pages     []PageSize
	Batch     Batch
	Kind      EventKind
	Page      int
	Processed int
	Total     int
}

// Percent is the share of processed pages, 0..100. An empty document is complete.
func (event Event) Percent() float64 {
	if event.Total <= 0 {
		return percentToRatio
	}

	return float64(event.Processed) / float64(event.Total) * percentToRatio
}

// Outcome aggregates a conversion run.
type Outcome struct {
	PDFPath       string
	Written       int
	Skipped       int
	Blank         int
	Failed        int
	Total         int
	Batches       int
	FailedBatches int
	Elapsed       time.Duration
	Status        State
}

// Processed counts the pages that advanced the progress bar: written, skipped for
// already existing, or suppressed as blank.
func (outcome Outcome) Processed() int {
	return outcome.Written + outcome.Skipped + outcome.Blank
}

// Percent is the share of processed pages, 0..100.
func (outcome Outcome) Percent() float64 {
	return Event{Processed: outcome.Processed(), Total: outcome.Total}.Percent()
}

// emitter stamps and delivers events to an optional channel.
type emitter struct {
	events  chan<- Event
	pdfPath string
}

func (emit emitter) send(event Event) {
	if emit.events == nil {
		return
	}

	event.Time = time.Now()
	event.PDFPath = emit.pdfPath
	emit.events <- event
}
