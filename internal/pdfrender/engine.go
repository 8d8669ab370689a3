package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// Engines accepted in Options.Engine.
const (
	EnginePdftoppm    = "pdftoppm"
	EngineGhostscript = "ghostscript"
)

// Renderer materializes the pages of one batch as in-memory images, one per page and in
// page order. Pages outside the batch are never rasterized.
type Renderer interface {
	RenderBatch(
		ctx context.Context,
		pdfPath string,
		batch Batch,
		dpi int,
		timeout time.Duration,
	) ([]image.Image, error)
}

// BatchError reports that the engine produced nothing usable for a batch.
type BatchError struct {
	Err   error
	Batch Batch
}

func (batchErr *BatchError) Error() string {
	return fmt.Sprintf("rendering %s failed: %v", batchErr.Batch, batchErr.Err)
}

// Unwrap exposes both ErrBatchRender and the underlying cause to errors.Is.
func (batchErr *BatchError) Unwrap() []error {
	return []error{ErrBatchRender, batchErr.Err}
}

// renderedPageName matches the files both engines write: a prefix, a dash and the page
// counter, e.g. "page-07.png" from pdftoppm or "page-0003.png" from Ghostscript.
var renderedPageName = regexp.MustCompile(`-(\d+)\.png$`)

// engineRenderer runs an external engine for the page range of a batch.
type engineRenderer struct {
	executor  CommandExecutor
	buildArgs func(pdfPath string, batch Batch, dpi int, workDir string) []string
	engine    string
	binary    string
	tempRoot  string
}

func newEngineRenderer(opts *Options, executor CommandExecutor) (*engineRenderer, error) {
	renderer := &engineRenderer{
		executor:  executor,
		buildArgs: nil,
		engine:    opts.Engine,
		binary:    opts.EngineBinary,
		tempRoot:  opts.TempDir,
	}

	switch opts.Engine {
	case EnginePdftoppm:
		renderer.buildArgs = buildPdftoppmArgs
		if renderer.binary == "" {
			renderer.binary = resolveBinary(opts.EngineDir, "pdftoppm")
		}
	case EngineGhostscript:
		renderer.buildArgs = buildGhostscriptArgs
		if renderer.binary == "" {
			renderer.binary = resolveBinary(opts.EngineDir, "gs")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}

	return renderer, nil
}

// RenderBatch renders the batch into a private work directory and decodes the result.
// The engine call is bounded by timeout only: cancelling ctx does not interrupt it.
func (renderer *engineRenderer) RenderBatch(
	ctx context.Context,
	pdfPath string,
	batch Batch,
	dpi int,
	timeout time.Duration,
) ([]image.Image, error) {
	if batch.Len() <= 0 {
		return nil, &BatchError{Batch: batch, Err: errors.New("empty page range")}
	}

	workDir, mkdirErr := os.MkdirTemp(renderer.tempRoot, "pdf-to-image-")
	if mkdirErr != nil {
		return nil, &BatchError{
			Batch: batch,
			Err:   fmt.Errorf("failed to create work directory: %w", mkdirErr),
		}
	}
	defer func() {
		_ = os.RemoveAll(workDir)
	}()

	engineCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	args := renderer.buildArgs(pdfPath, batch, dpi, workDir)

	output, execErr := renderer.executor.RunCombined(engineCtx, renderer.binary, args...)
	if execErr != nil {
		if errors.Is(engineCtx.Err(), context.DeadlineExceeded) {
			return nil, &BatchError{
				Batch: batch,
				Err:   fmt.Errorf("%w after %s", ErrRenderTimeout, timeout),
			}
		}

		return nil, &BatchError{
			Batch: batch,
			Err:   commandError(renderer.engine, execErr, output),
		}
	}

	images, collectErr := collectRenderedPages(workDir, batch.Len())
	if collectErr != nil {
		return nil, &BatchError{Batch: batch, Err: collectErr}
	}

	return images, nil
}

// buildPdftoppmArgs renders pages FirstPage..LastPage to <workDir>/page-N.png.
func buildPdftoppmArgs(pdfPath string, batch Batch, dpi int, workDir string) []string {
	return []string{
		"-f", strconv.Itoa(batch.FirstPage()),
		"-l", strconv.Itoa(batch.LastPage()),
		"-r", strconv.Itoa(dpi),
		"-png",
		pdfPath,
		filepath.Join(workDir, "page"),
	}
}

// buildGhostscriptArgs constructs the list of command-line arguments for the Ghostscript
// process.
func buildGhostscriptArgs(pdfPath string, batch Batch, dpi int, workDir string) []string {
	return []string{
		// Quiet, non-interactive, sandboxed.
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=png16m",        // 24-bit color PNG.
		fmt.Sprintf("-r%d", dpi), // Resolution in DPI.
		fmt.Sprintf("-dFirstPage=%d", batch.FirstPage()),
		fmt.Sprintf("-dLastPage=%d", batch.LastPage()),
		"-o", filepath.Join(workDir, "page-%04d.png"),
		"-dTextAlphaBits=4",     // Anti-aliasing for text.
		"-dGraphicsAlphaBits=4", // Anti-aliasing for graphics.
		pdfPath,
	}
}

// collectRenderedPages decodes the engine's output files ordered by their page counter.
func collectRenderedPages(workDir string, want int) ([]image.Image, error) {
	entries, readErr := os.ReadDir(workDir)
	if readErr != nil {
		return nil, fmt.Errorf("could not read engine output: %w", readErr)
	}

	type renderedFile struct {
		path    string
		counter int
	}

	var files []renderedFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		match := renderedPageName.FindStringSubmatch(strings.ToLower(entry.Name()))
		if match == nil {
			continue
		}

		counter, _ := strconv.Atoi(match[1])
		files = append(files, renderedFile{
			path:    filepath.Join(workDir, entry.Name()),
			counter: counter,
		})
	}

	if len(files) != want {
		return nil, fmt.Errorf("engine produced %d page image(s), expected %d", len(files), want)
	}

	slices.SortFunc(files, func(a, b renderedFile) int { return a.counter - b.counter })

	images := make([]image.Image, 0, len(files))
	for _, file := range files {
		img, decodeErr := imaging.Open(file.path)
		if decodeErr != nil {
			return nil, fmt.Errorf(
				"could not decode %s: %w",
				filepath.Base(file.path),
				decodeErr,
			)
		}

		images = append(images, img)
	}

	return images, nil
}
