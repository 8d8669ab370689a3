package pdfrender

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Bounds and defaults for a conversion request.
const (
	MinDPI       = 50
	MaxDPI       = 2400
	MinBatchSize = 1
	MaxBatchSize = 50
	MinTimeout   = 30 * time.Second
	MaxTimeout   = 3600 * time.Second

	DefaultDPI       = 150
	DefaultBatchSize = 5
	DefaultTimeout   = 300 * time.Second
	DefaultFormat    = FormatJPG
)

// Request describes one document conversion. Build it, call WithDefaults if zero values
// should fall back to the defaults, and treat it as immutable afterwards.
type Request struct {
	// PDFPath is the document to convert. It is opened read-only.
	PDFPath string
	// OutputDir receives the page images. Defaults to the document's directory.
	OutputDir string
	// Format is jpg or png.
	Format Format
	// Timeout bounds each engine invocation, one per batch.
	Timeout time.Duration
	// DPI is the rasterization resolution.
	DPI int
	// BatchSize is the number of pages rendered per engine invocation, which bounds the
	// number of decoded pages held in memory.
	BatchSize int
	// Overwrite replaces existing page images instead of skipping them.
	Overwrite bool
	// SkipBlank suppresses pages the blank detector considers empty.
	SkipBlank bool
}

// WithDefaults returns a copy with zero-valued fields replaced by their defaults.
// Out-of-range values are kept so Validate can report them.
func (req Request) WithDefaults() Request {
	if req.OutputDir == "" && req.PDFPath != "" {
		req.OutputDir = filepath.Dir(req.PDFPath)
	}

	if req.Format == "" {
		req.Format = DefaultFormat
	}

	if req.Timeout == 0 {
		req.Timeout = DefaultTimeout
	}

	if req.DPI == 0 {
		req.DPI = DefaultDPI
	}

	if req.BatchSize == 0 {
		req.BatchSize = DefaultBatchSize
	}

	return req
}

// Validate reports every field that is missing or out of bounds. Each reported problem
// matches ErrInvalidParameter.
func (req Request) Validate() error {
	var problems []error

	invalid := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalidParameter}, args...)...))
	}

	if req.PDFPath == "" {
		invalid("a PDF file is required")
	}

	if req.OutputDir == "" {
		invalid("an output directory is required")
	}

	if req.DPI < MinDPI || req.DPI > MaxDPI {
		invalid("DPI must be between %d and %d, got %d", MinDPI, MaxDPI, req.DPI)
	}

	if req.BatchSize < MinBatchSize || req.BatchSize > MaxBatchSize {
		invalid(
			"batch size must be between %d and %d, got %d",
			MinBatchSize, MaxBatchSize, req.BatchSize,
		)
	}

	if req.Timeout < MinTimeout || req.Timeout > MaxTimeout {
		invalid(
			"timeout must be between %d and %d seconds, got %s",
			int(MinTimeout.Seconds()), int(MaxTimeout.Seconds()), req.Timeout,
		)
	}

	if req.Format != FormatJPG && req.Format != FormatPNG {
		invalid("format must be jpg or png, got %q", req.Format)
	}

	return errors.Join(problems...)
}
