package pdfrender

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// jpegQuality is the encoder quality used for every JPEG page.
	jpegQuality = 95
	// imageFileMode matches what a plain create would produce under the usual umask;
	// temporary files start out owner-only.
	imageFileMode = 0o644
)

// Format is the image format pages are written in.
type Format string

// Supported output formats. The value doubles as the file extension.
const (
	FormatJPG Format = "jpg"
	FormatPNG Format = "png"
)

// ParseFormat accepts "jpg" or "png" in any case.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatJPG:
		return FormatJPG, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("%w: format must be jpg or png, got %q", ErrInvalidParameter, value)
	}
}

// PageStatus is what happened to a rendered page in the persister.
type PageStatus int

const (
	// PageWritten means the image was encoded and stored.
	PageWritten PageStatus = iota
	// PageSkipped means the output already existed and overwrite was off.
	PageSkipped
	// PageBlank means the page was suppressed by blank detection.
	PageBlank
)

// PageError reports that a single page could not be written.
type PageError struct {
	Err  error
	Path string
	Page int
}

func (pageErr *PageError) Error() string {
	return fmt.Sprintf("writing page %d to %s failed: %v", pageErr.Page, pageErr.Path, pageErr.Err)
}

// Unwrap exposes both ErrPageWrite and the underlying cause to errors.Is.
func (pageErr *PageError) Unwrap() []error {
	return []error{ErrPageWrite, pageErr.Err}
}

// OutputName is the file name of a page image: {stem}_{page}.{format}.
func OutputName(stem string, page int, format Format) string {
	return stem + "_" + strconv.Itoa(page) + "." + string(format)
}

// documentStem is the PDF file name without its extension.
func documentStem(pdfPath string) string {
	base := filepath.Base(pdfPath)

	return strings.TrimSuffix(base, filepath.Ext(base))
}

// persister writes the pages of one document into its output directory.
type persister struct {
	blank     *blankDetector
	outputDir string
	stem      string
	format    Format
	overwrite bool
}

func newPersister(req *Request, blank *blankDetector) *persister {
	return &persister{
		blank:     blank,
		outputDir: req.OutputDir,
		stem:      documentStem(req.PDFPath),
		format:    req.Format,
		overwrite: req.Overwrite,
	}
}

// persist stores img as the given 1-based page. The returned path is set for every
// status, including failures.
func (store *persister) persist(img image.Image, page int) (string, PageStatus, error) {
	outputPath := filepath.Join(store.outputDir, OutputName(store.stem, page, store.format))

	if !store.overwrite {
		_, statErr := os.Stat(outputPath)
		if statErr == nil {
			return outputPath, PageSkipped, nil
		}

		if !errors.Is(statErr, os.ErrNotExist) {
			return outputPath, PageWritten, &PageError{Err: statErr, Path: outputPath, Page: page}
		}
	}

	if store.blank != nil && store.blank.isBlank(img) {
		return outputPath, PageBlank, nil
	}

	writeErr := store.writeAtomically(img, outputPath)
	if writeErr != nil {
		return outputPath, PageWritten, &PageError{Err: writeErr, Path: outputPath, Page: page}
	}

	return outputPath, PageWritten, nil
}

// writeAtomically encodes into a temporary sibling file and renames it into place, so a
// failed write never leaves a truncated image behind.
func (store *persister) writeAtomically(img image.Image, outputPath string) error {
	tmpFile, createErr := os.CreateTemp(store.outputDir, "."+filepath.Base(outputPath)+".*")
	if createErr != nil {
		return fmt.Errorf("could not create temporary file: %w", createErr)
	}

	tmpPath := tmpFile.Name()

	encodeErr := imaging.Encode(tmpFile, img, store.imagingFormat(), store.encodeOptions()...)
	closeErr := tmpFile.Close()

	if err := errors.Join(encodeErr, closeErr); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("could not encode %s image: %w", store.format, err)
	}

	if chmodErr := os.Chmod(tmpPath, imageFileMode); chmodErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("could not set image permissions: %w", chmodErr)
	}

	if renameErr := os.Rename(tmpPath, outputPath); renameErr != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("could not move image into place: %w", renameErr)
	}

	return nil
}

func (store *persister) imagingFormat() imaging.Format {
	if store.format == FormatJPG {
		return imaging.JPEG
	}

	return imaging.PNG
}

// encodeOptions holds the format-specific encoder settings: JPEG at quality 95, PNG
// lossless at the strongest compression.
func (store *persister) encodeOptions() []imaging.EncodeOption {
	if store.format == FormatJPG {
		return []imaging.EncodeOption{imaging.JPEGQuality(jpegQuality)}
	}

	return []imaging.EncodeOption{imaging.PNGCompressionLevel(png.BestCompression)}
}
