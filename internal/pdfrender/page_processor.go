package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"time"
)

// pageProcessor drives a single document through its batches. It lives for one Convert
// call and is only touched by the goroutine running it.
type pageProcessor struct {
	parent  *Processor
	store   *persister
	started time.Time
	emit    emitter
	machine Machine
	outcome Outcome
	req     Request
}

func newPageProcessor(parent *Processor, req Request, events chan<- Event) *pageProcessor {
	return &pageProcessor{
		parent:  parent,
		store:   nil,
		started: time.Now(),
		emit:    emitter{events: events, pdfPath: req.PDFPath},
		machine: Machine{},
		outcome: Outcome{PDFPath: req.PDFPath},
		req:     req,
	}
}

// run takes the machine from Idle to a terminal state.
func (pp *pageProcessor) run(ctx context.Context) (Outcome, error) {
	_ = pp.machine.Transition(StateRunning)
	pp.outcome.Status = StateRunning

	sizes, setupErr := pp.setup(ctx)
	if setupErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(setupErr, ctxErr) {
			return pp.cancel(), nil
		}

		return pp.fail(setupErr)
	}

	if ctx.Err() != nil {
		return pp.cancel(), nil
	}

	pp.outcome.Total = len(sizes)
	pp.outcome.Batches = BatchCount(len(sizes), pp.req.BatchSize)

	pp.parent.log.Info(
		"Rendering %d page(s) of %s into %s at %d DPI as %s",
		len(sizes),
		filepath.Base(pp.req.PDFPath),
		pp.req.OutputDir,
		pp.req.DPI,
		pp.req.Format,
	)
	pp.emit.send(Event{Kind: EventStarted, Pages: sizes, Total: len(sizes)})

	for batch := range Batches(len(sizes), pp.req.BatchSize) {
		if ctx.Err() != nil {
			return pp.cancel(), nil
		}

		if !pp.processBatch(ctx, batch) {
			return pp.cancel(), nil
		}
	}

	return pp.complete(), nil
}

// setup validates everything a conversion needs before the first batch and returns the
// document's page sizes.
func (pp *pageProcessor) setup(ctx context.Context) ([]PageSize, error) {
	if err := pp.parent.validateConfig(); err != nil {
		return nil, err
	}

	if err := pp.req.Validate(); err != nil {
		return nil, err
	}

	if err := pp.parent.prepareTools(); err != nil {
		return nil, err
	}

	sizes, geometryErr := pp.parent.geometry.PageSizes(ctx, pp.req.PDFPath)
	if geometryErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDocumentUnreadable, pp.req.PDFPath, geometryErr)
	}

	if err := ensureOutputDirectory(pp.req.OutputDir); err != nil {
		return nil, err
	}

	var blank *blankDetector
	if pp.req.SkipBlank {
		blank = newBlankDetector(
			pp.parent.config.BlankFuzzPercent,
			pp.parent.config.BlankNonWhiteThreshold,
		)
	}

	pp.store = newPersister(&pp.req, blank)

	return sizes, nil
}

// processBatch renders one batch and persists its pages. It returns false when ctx was
// cancelled between pages.
func (pp *pageProcessor) processBatch(ctx context.Context, batch Batch) bool {
	pp.emit.send(Event{
		Kind:      EventBatchStarted,
		Batch:     batch,
		Processed: pp.outcome.Processed(),
		Total:     pp.outcome.Total,
	})

	images, renderErr := pp.parent.renderer.RenderBatch(
		ctx,
		pp.req.PDFPath,
		batch,
		pp.req.DPI,
		pp.req.Timeout,
	)
	if renderErr != nil {
		pp.outcome.Failed += batch.Len()
		pp.outcome.FailedBatches++
		pp.parent.log.Error("Error processing %s: %v", batch, renderErr)
		pp.emit.send(Event{
			Kind:      EventBatchFailed,
			Batch:     batch,
			Err:       renderErr,
			Processed: pp.outcome.Processed(),
			Total:     pp.outcome.Total,
		})

		return true
	}

	for offset := range images {
		if ctx.Err() != nil {
			return false
		}

		pp.processPage(images[offset], batch, batch.FirstPage()+offset)

		// Drop the decoded page before the next one is encoded.
		images[offset] = nil
	}

	return true
}

func (pp *pageProcessor) processPage(img image.Image, batch Batch, page int) {
	outputPath, status, persistErr := pp.store.persist(img, page)

	event := Event{Batch: batch, Page: page, Path: outputPath, Total: pp.outcome.Total}

	switch {
	case persistErr != nil:
		pp.outcome.Failed++
		pp.parent.log.Warn("Failed to save page %d: %v", page, persistErr)

		event.Kind = EventPageFailed
		event.Err = persistErr
	case status == PageSkipped:
		pp.outcome.Skipped++
		pp.parent.log.Info("Skipping existing file: %s", filepath.Base(outputPath))

		event.Kind = EventPageSkipped
	case status == PageBlank:
		pp.outcome.Blank++
		pp.parent.log.Info("Page %d is blank, not saved", page)

		event.Kind = EventPageBlank
	default:
		pp.outcome.Written++
		pp.parent.log.Info("Saved page %d to %s", page, filepath.Base(outputPath))

		event.Kind = EventPageDone
	}

	event.Processed = pp.outcome.Processed()
	pp.emit.send(event)
}

func (pp *pageProcessor) complete() Outcome {
	_ = pp.machine.Transition(StateCompleted)
	pp.finish()

	if pp.outcome.Failed > 0 {
		pp.parent.log.Warn(
			"Converted %s with %d failed page(s): %d written, %d skipped, %d blank",
			filepath.Base(pp.req.PDFPath),
			pp.outcome.Failed,
			pp.outcome.Written,
			pp.outcome.Skipped,
			pp.outcome.Blank,
		)
	} else {
		pp.parent.log.Success(
			"Conversion completed for %s: %d written, %d skipped, %d blank in %s",
			filepath.Base(pp.req.PDFPath),
			pp.outcome.Written,
			pp.outcome.Skipped,
			pp.outcome.Blank,
			pp.outcome.Elapsed.Round(time.Millisecond),
		)
	}

	outcome := pp.outcome
	pp.emit.send(Event{
		Kind:      EventCompleted,
		Outcome:   &outcome,
		Processed: outcome.Processed(),
		Total:     outcome.Total,
	})

	return pp.outcome
}

func (pp *pageProcessor) cancel() Outcome {
	_ = pp.machine.Transition(StateCancelling)
	_ = pp.machine.Transition(StateCancelled)
	pp.finish()

	pp.parent.log.Warn(
		"Conversion of %s cancelled after %d of %d page(s)",
		filepath.Base(pp.req.PDFPath),
		pp.outcome.Processed(),
		pp.outcome.Total,
	)

	outcome := pp.outcome
	pp.emit.send(Event{
		Kind:      EventCancelled,
		Outcome:   &outcome,
		Processed: outcome.Processed(),
		Total:     outcome.Total,
	})

	return pp.outcome
}

func (pp *pageProcessor) fail(err error) (Outcome, error) {
	_ = pp.machine.Transition(StateFailed)
	pp.finish()

	pp.parent.log.Error("Failed to convert %s: %v", filepath.Base(pp.req.PDFPath), err)

	outcome := pp.outcome
	pp.emit.send(Event{
		Kind:      EventFailed,
		Err:       err,
		Outcome:   &outcome,
		Processed: outcome.Processed(),
		Total:     outcome.Total,
	})

	return pp.outcome, err
}

func (pp *pageProcessor) finish() {
	pp.outcome.Status = pp.machine.State()
	pp.outcome.Elapsed = time.Since(pp.started)
}
