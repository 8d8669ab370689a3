// Package pdfrender converts PDF documents into page images in bounded batches.
package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/book-expert/logger"
)

var (
	// ErrInvalidParameter is returned when a request or option is missing or out of
	// bounds.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrDocumentUnreadable is returned when the page geometry cannot be read.
	ErrDocumentUnreadable = errors.New("document unreadable")
	// ErrBatchRender is matched by every BatchError.
	ErrBatchRender = errors.New("batch render failed")
	// ErrRenderTimeout is returned when an engine call exceeds the request timeout.
	ErrRenderTimeout = errors.New("render timed out")
	// ErrPageWrite is matched by every PageError.
	ErrPageWrite = errors.New("page write failed")
	// ErrEngineUnavailable is returned when the rendering engine cannot be found.
	ErrEngineUnavailable = errors.New("rendering engine unavailable")
	// ErrInvalidTransition is returned by Machine for an illegal state change.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownEngine is returned for an Options.Engine that is not supported.
	ErrUnknownEngine = fmt.Errorf("%w: unknown rendering engine", ErrInvalidParameter)
	// ErrUnknownGeometry is returned for an Options.Geometry that is not supported.
	ErrUnknownGeometry = fmt.Errorf("%w: unknown geometry backend", ErrInvalidParameter)
	// ErrNoPDFsFound is returned by ConvertAll when there is nothing to convert.
	ErrNoPDFsFound = errors.New("no PDF files found")
)

// Options holds the processor-wide settings: which engine renders, where it lives, and
// how blank pages are recognised. Per-document settings live in Request.
type Options struct {
	// Engine is EnginePdftoppm or EngineGhostscript.
	Engine string
	// EngineBinary overrides the engine executable path.
	EngineBinary string
	// EngineDir is searched for the engine and pdfinfo before PATH, e.g. a bundled
	// poppler/bin directory.
	EngineDir string
	// Geometry is GeometryPdfcpu or GeometryPdfinfo.
	Geometry string
	// TempDir is the parent of each batch's private work directory. Empty means the
	// system temporary directory.
	TempDir                string
	BlankFuzzPercent       int
	BlankNonWhiteThreshold float64
}

// Processor converts documents one at a time. A Processor may be reused for any number
// of sequential conversions; run concurrent conversions on separate processors.
type Processor struct {
	executor CommandExecutor
	renderer Renderer
	geometry GeometryReader
	log      *logger.Logger
	setupErr error
	config   Options
}

// NewProcessor creates and initializes a new Processor with the given options and logger.
// Zero-value fields in opts are replaced by defaults. An unsupported engine or geometry
// backend is reported by the first conversion.
func NewProcessor(opts *Options, log *logger.Logger) *Processor {
	applyDefaultOptions(opts)

	processor := &Processor{
		executor: nil,
		renderer: nil,
		geometry: nil,
		log:      log,
		setupErr: nil,
		config:   *opts,
	}
	processor.wire(&defaultExecutor{})

	return processor
}

const (
	defaultBlankFuzzPercent       = 5
	defaultBlankNonWhiteThreshold = 0.005
)

// applyDefaultOptions fills zero-value fields in Options with sensible defaults.
func applyDefaultOptions(opts *Options) {
	if opts.Engine == "" {
		opts.Engine = EnginePdftoppm
	}

	if opts.Geometry == "" {
		opts.Geometry = GeometryPdfcpu
	}

	opts.BlankFuzzPercent = defaultIntNonPositive(
		opts.BlankFuzzPercent,
		defaultBlankFuzzPercent,
	)
	opts.BlankNonWhiteThreshold = defaultFloatNonPositive(
		opts.BlankNonWhiteThreshold,
		defaultBlankNonWhiteThreshold,
	)
}

func defaultIntNonPositive(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

func defaultFloatNonPositive(v, def float64) float64 {
	if v <= 0 {
		return def
	}

	return v
}

// wire builds the engine renderer and the geometry reader on top of executor.
func (processor *Processor) wire(executor CommandExecutor) {
	processor.executor = executor
	processor.setupErr = nil

	renderer, engineErr := newEngineRenderer(&processor.config, executor)
	if engineErr != nil {
		processor.setupErr = engineErr
	} else {
		processor.renderer = renderer
	}

	switch processor.config.Geometry {
	case GeometryPdfcpu:
		processor.geometry = pdfcpuGeometry{}
	case GeometryPdfinfo:
		processor.geometry = &pdfinfoGeometry{
			executor:  executor,
			engineDir: processor.config.EngineDir,
		}
	default:
		processor.setupErr = errors.Join(
			processor.setupErr,
			fmt.Errorf("%w: %q", ErrUnknownGeometry, processor.config.Geometry),
		)
	}
}

// validateConfig reports an engine or geometry backend that could not be set up.
func (processor *Processor) validateConfig() error {
	return processor.setupErr
}

// prepareTools ensures the external binaries the conversion depends on can be found.
func (processor *Processor) prepareTools() error {
	var binaries []string

	if engine, ok := processor.renderer.(*engineRenderer); ok {
		binaries = append(binaries, engine.binary)
	}

	if _, ok := processor.geometry.(*pdfinfoGeometry); ok {
		binaries = append(binaries, resolveBinary(processor.config.EngineDir, "pdfinfo"))
	}

	for _, binary := range binaries {
		_, lookErr := processor.executor.LookPath(binary)
		if lookErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, binary, lookErr)
		}
	}

	return nil
}

// CheckTools reports whether the configured engine can run, without converting anything.
func (processor *Processor) CheckTools() error {
	if err := processor.validateConfig(); err != nil {
		return err
	}

	return processor.prepareTools()
}

// Convert runs one conversion to a terminal state. Events, when the channel is non-nil,
// are sent synchronously, so the caller must keep draining it until Convert returns.
//
// Batch and page failures are counted in the Outcome and do not fail the run. The
// returned error is non-nil only when the run ends Failed: invalid request, unusable
// engine, unreadable document or an output directory that cannot be created.
// Cancelling ctx ends the run Cancelled at the next batch or page boundary; the engine
// call in flight is allowed to finish.
func (processor *Processor) Convert(
	ctx context.Context,
	req Request,
	events chan<- Event,
) (Outcome, error) {
	pageProc := newPageProcessor(processor, req, events)

	return pageProc.run(ctx)
}

// ConvertAll converts each document in turn with template as the shared settings. An
// empty template.OutputDir places each document's pages next to it. Documents that fail
// are logged and skipped; their errors are joined into the returned error. Cancelling
// ctx stops after the current document.
func (processor *Processor) ConvertAll(
	ctx context.Context,
	pdfPaths []string,
	template Request,
	events chan<- Event,
) ([]Outcome, error) {
	if len(pdfPaths) == 0 {
		return nil, ErrNoPDFsFound
	}

	processor.log.Info("Found %d PDF(s) to process.", len(pdfPaths))

	outcomes := make([]Outcome, 0, len(pdfPaths))

	var failures []error

	for _, pdfPath := range pdfPaths {
		if ctx.Err() != nil {
			processor.log.Warn("Conversion cancelled, %d PDF(s) not started.",
				len(pdfPaths)-len(outcomes))

			break
		}

		req := template
		req.PDFPath = pdfPath

		processor.log.Info("Starting processing for: %s", filepath.Base(pdfPath))

		outcome, convertErr := processor.Convert(ctx, req.WithDefaults(), events)
		outcomes = append(outcomes, outcome)

		if convertErr != nil {
			processor.log.Error(
				"Failed to process %s: %v",
				filepath.Base(pdfPath),
				convertErr,
			)
			failures = append(failures, fmt.Errorf("%s: %w", filepath.Base(pdfPath), convertErr))

			// Continue to the next file even if one fails.
			continue
		}

		if outcome.Status == StateCompleted && outcome.Failed == 0 {
			processor.log.Success("Successfully processed %s", filepath.Base(pdfPath))
		}
	}

	return outcomes, errors.Join(failures...)
}
