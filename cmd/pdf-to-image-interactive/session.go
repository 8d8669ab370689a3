package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

// pagePreviewLimit is how many pages are described before a conversion starts.
const pagePreviewLimit = 5

// session runs one conversion at a time and tracks it with the run state machine.
type session struct {
	processor *pdfrender.Processor
	lines     <-chan string
	pane      *logPane
	barOut    io.Writer
	machine   pdfrender.Machine
}

// convert runs req to completion. Typing "c" or pressing Ctrl+C requests cancellation,
// which takes effect at the next page.
func (s *session) convert(ctx context.Context, req pdfrender.Request) (pdfrender.Outcome, error) {
	transitionErr := s.machine.Transition(pdfrender.StateRunning)
	if transitionErr != nil {
		return pdfrender.Outcome{}, transitionErr
	}
	defer s.machine.Reset()

	signalCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt)
	defer stopSignals()

	runCtx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	s.pane.info("Starting conversion of: %s", filepath.Base(req.PDFPath))
	s.pane.info("Output directory: %s", req.OutputDir)
	s.pane.info(
		"Settings: %s, %d DPI, batch size %d",
		strings.ToUpper(string(req.Format)),
		req.DPI,
		req.BatchSize,
	)
	s.pane.info("Type c and press Enter to cancel.")

	view := newProgressView(s.pane, s.barOut, req.DPI)
	view.startSpinner("Reading PDF page information...")

	run := s.processor.Start(runCtx, req)
	events := run.Events()
	lines := s.lines
	interrupted := signalCtx.Done()

	for events != nil {
		select {
		case event, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			view.handle(event)
		case line, ok := <-lines:
			if !ok {
				lines = nil

				continue
			}

			if strings.EqualFold(line, "c") {
				s.requestCancel(cancel)
			}
		case <-interrupted:
			interrupted = nil

			s.requestCancel(cancel)
		}
	}

	view.stopSpinner()

	outcome, err := run.Wait()
	_ = s.machine.Transition(outcome.Status)

	return outcome, err
}

func (s *session) requestCancel(cancel context.CancelFunc) {
	if s.machine.Transition(pdfrender.StateCancelling) != nil {
		return
	}

	s.pane.warn("Cancelling after the current page...")
	cancel()
}

// progressView turns conversion events into log lines, a spinner and a progress bar.
// Per-page results are written by the processor's logger, which also echoes to the
// terminal, so the pane only frames the run.
type progressView struct {
	pane    *logPane
	barOut  io.Writer
	spin    *spinner.Spinner
	bar     *progressbar.ProgressBar
	preview int
	dpi     int
}

func newProgressView(pane *logPane, barOut io.Writer, dpi int) *progressView {
	return &progressView{
		pane:    pane,
		barOut:  barOut,
		spin:    nil,
		bar:     nil,
		preview: pagePreviewLimit,
		dpi:     dpi,
	}
}

func (view *progressView) startSpinner(message string) {
	view.spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	view.spin.Suffix = " " + message
	view.spin.Writer = view.barOut
	view.spin.Start()
}

func (view *progressView) stopSpinner() {
	if view.spin != nil {
		view.spin.Stop()
		view.spin = nil
	}
}

func (view *progressView) handle(event pdfrender.Event) {
	switch event.Kind {
	case pdfrender.EventStarted:
		view.stopSpinner()
		view.describePages(event)
		view.startBar(event.Total)
	case pdfrender.EventBatchStarted:
		view.pane.info("Processing %s of %d...", event.Batch, event.Total)
	case pdfrender.EventPageDone, pdfrender.EventPageSkipped, pdfrender.EventPageBlank:
		view.advance(event)
	case pdfrender.EventPageFailed, pdfrender.EventBatchFailed:
		// Logged by the processor.
	case pdfrender.EventCompleted:
		view.finishBar()
		view.completed(event.Outcome)
	case pdfrender.EventCancelled:
		view.finishBar()
		view.pane.warn("Conversion cancelled by user")
	case pdfrender.EventFailed:
		view.stopSpinner()
		view.finishBar()
		view.pane.fail("Error during conversion: %v", event.Err)
	}
}

// describePages logs the page count and the projected size of the first pages.
func (view *progressView) describePages(event pdfrender.Event) {
	view.pane.info("PDF has %d pages", event.Total)

	for index, size := range event.Pages {
		if index == view.preview {
			view.pane.info("... and %d more pages", len(event.Pages)-view.preview)

			break
		}

		view.pane.info("%s", pdfrender.Describe(index+1, size, view.dpi))
	}
}

func (view *progressView) startBar(total int) {
	if total <= 0 {
		return
	}

	view.bar = progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetWriter(view.barOut),
		progressbar.OptionSetDescription("Converting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(view.barOut, "\n")
		}),
	)
}

func (view *progressView) advance(event pdfrender.Event) {
	if view.bar != nil {
		_ = view.bar.Set64(int64(event.Processed))
	}
}

func (view *progressView) finishBar() {
	if view.bar != nil {
		_ = view.bar.Finish()
		view.bar = nil
	}
}

func (view *progressView) completed(outcome *pdfrender.Outcome) {
	if outcome == nil {
		return
	}

	if outcome.Failed > 0 {
		view.pane.warn(
			"Conversion completed with errors: %d pages converted, %d failed.",
			outcome.Written,
			outcome.Failed,
		)

		return
	}

	view.pane.success("Conversion completed! %d pages converted.", outcome.Written)
}
