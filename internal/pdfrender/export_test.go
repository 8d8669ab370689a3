package pdfrender

import (
	"context"
	"image"
	"time"
)

// Exported test-only accessors for unexported functions and fields.
// This file is compiled only during tests and does not affect the public API.

// ParsePdfInfoOutputForTest exposes parsePdfInfoOutput for tests in external package.
func ParsePdfInfoOutputForTest(s string) (int, error) { return parsePdfInfoOutput(s) }

// ParsePdfInfoPageSizesForTest exposes parsePdfInfoPageSizes.
func ParsePdfInfoPageSizesForTest(s string, pageCount int) ([]PageSize, error) {
	return parsePdfInfoPageSizes(s, pageCount)
}

// ResolveBinaryForTest exposes resolveBinary.
func ResolveBinaryForTest(engineDir, name string) string { return resolveBinary(engineDir, name) }

// IsBlankForTest runs the blank detector with the given settings.
func IsBlankForTest(img image.Image, fuzzPercent int, nonWhiteRatio float64) bool {
	return newBlankDetector(fuzzPercent, nonWhiteRatio).isBlank(img)
}

// PersistForTest writes one page the way Convert does.
func PersistForTest(req Request, img image.Image, page int) (string, PageStatus, error) {
	return newPersister(&req, nil).persist(img, page)
}

// EngineArgsForTest returns the arguments the named engine would be invoked with.
func EngineArgsForTest(engine, pdfPath string, batch Batch, dpi int, workDir string) []string {
	if engine == EngineGhostscript {
		return buildGhostscriptArgs(pdfPath, batch, dpi, workDir)
	}

	return buildPdftoppmArgs(pdfPath, batch, dpi, workDir)
}

// RenderBatchForTest drives the processor's engine renderer directly.
func (processor *Processor) RenderBatchForTest(
	ctx context.Context,
	pdfPath string,
	batch Batch,
	dpi int,
	timeout time.Duration,
) ([]image.Image, error) {
	return processor.renderer.RenderBatch(ctx, pdfPath, batch, dpi, timeout)
}

// PageSizesForTest drives the processor's geometry reader directly.
func (processor *Processor) PageSizesForTest(
	ctx context.Context,
	pdfPath string,
) ([]PageSize, error) {
	return processor.geometry.PageSizes(ctx, pdfPath)
}

// ConfigForTest returns a copy of the processor configuration for assertions in tests.
func (processor *Processor) ConfigForTest() Options { return processor.config }

// ValidateConfigForTest exposes validateConfig.
func (processor *Processor) ValidateConfigForTest() error { return processor.validateConfig() }

// Allow tests to inject a fake executor. The engine renderer and pdfinfo reader are
// rebuilt on top of it.
func (processor *Processor) SetExecutorForTest(
	exec CommandExecutor,
) {
	processor.wire(exec)
}

// SetRendererForTest replaces the engine renderer.
func (processor *Processor) SetRendererForTest(renderer Renderer) {
	processor.renderer = renderer
}

// SetGeometryForTest replaces the geometry reader.
func (processor *Processor) SetGeometryForTest(geometry GeometryReader) {
	processor.geometry = geometry
}
