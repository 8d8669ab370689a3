package pdfrender

import "context"

// eventBuffer lets the worker run ahead of a slow consumer by a few events.
const eventBuffer = 64

// Run is a conversion executing on its own goroutine.
type Run struct {
	events  chan Event
	done    chan struct{}
	err     error
	outcome Outcome
}

// Start launches Convert on a background goroutine. The caller must drain Events until
// it is closed; Wait then returns the result.
func (processor *Processor) Start(ctx context.Context, req Request) *Run {
	run := &Run{
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		err:     nil,
		outcome: Outcome{},
	}

	go func() {
		defer close(run.done)
		defer close(run.events)

		run.outcome, run.err = processor.Convert(ctx, req, run.events)
	}()

	return run
}

// Events is closed after the terminal event has been delivered.
func (run *Run) Events() <-chan Event { return run.events }

// Wait blocks until the conversion has finished.
func (run *Run) Wait() (Outcome, error) {
	<-run.done

	return run.outcome, run.err
}
