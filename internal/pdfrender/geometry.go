package pdfrender

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// pointsPerInch is the PDF user-space unit: one point is 1/72 inch.
const pointsPerInch = 72.0

// Geometry backends accepted in Options.Geometry.
const (
	GeometryPdfcpu  = "pdfcpu"
	GeometryPdfinfo = "pdfinfo"
)

// PageSize is the physical size of one page in points.
type PageSize struct {
	Width  float64
	Height float64
}

// GeometryReader returns the size of every page of a document, in page order, without
// rasterizing anything.
type GeometryReader interface {
	PageSizes(ctx context.Context, pdfPath string) ([]PageSize, error)
}

// pdfcpuGeometry reads the page boxes in-process with pdfcpu.
type pdfcpuGeometry struct{}

func (pdfcpuGeometry) PageSizes(ctx context.Context, pdfPath string) ([]PageSize, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	dims, dimsErr := api.PageDimsFile(pdfPath)
	if dimsErr != nil {
		return nil, fmt.Errorf("pdfcpu could not read page dimensions: %w", dimsErr)
	}

	sizes := make([]PageSize, 0, len(dims))
	for _, dim := range dims {
		sizes = append(sizes, PageSize{Width: dim.Width, Height: dim.Height})
	}

	return sizes, nil
}

// pdfinfoGeometry shells out to poppler's pdfinfo, which ships next to pdftoppm.
type pdfinfoGeometry struct {
	executor  CommandExecutor
	engineDir string
}

func (reader *pdfinfoGeometry) PageSizes(
	ctx context.Context,
	pdfPath string,
) ([]PageSize, error) {
	binary := resolveBinary(reader.engineDir, "pdfinfo")

	summary, summaryErr := reader.executor.Run(ctx, binary, pdfPath)
	if summaryErr != nil {
		return nil, commandError("pdfinfo", summaryErr, summary)
	}

	pageCount, countErr := parsePdfInfoOutput(string(summary))
	if countErr != nil {
		return nil, countErr
	}

	if pageCount == 0 {
		return []PageSize{}, nil
	}

	perPage, perPageErr := reader.executor.Run(
		ctx,
		binary,
		"-f", "1",
		"-l", strconv.Itoa(pageCount),
		pdfPath,
	)
	if perPageErr != nil {
		return nil, commandError("pdfinfo", perPageErr, perPage)
	}

	return parsePdfInfoPageSizes(string(perPage), pageCount)
}

// Project converts a page size into the pixel size the engine will produce at dpi.
// The result is informational only.
func Project(size PageSize, dpi int) (int, int) {
	if size.Width <= 0 || size.Height <= 0 || dpi <= 0 {
		panic(fmt.Sprintf(
			"pdfrender: Project requires positive input, got %.2fx%.2f pt at %d DPI",
			size.Width, size.Height, dpi,
		))
	}

	widthPx := int(math.Floor(size.Width / pointsPerInch * float64(dpi)))
	heightPx := int(math.Floor(size.Height / pointsPerInch * float64(dpi)))

	return widthPx, heightPx
}

// Describe formats the informational line shown before a conversion for a 1-based page.
func Describe(page int, size PageSize, dpi int) string {
	if size.Width <= 0 || size.Height <= 0 || dpi <= 0 {
		return fmt.Sprintf("Page %d: size unknown", page)
	}

	widthPx, heightPx := Project(size, dpi)

	return fmt.Sprintf(
		"Page %d: %.2f\" x %.2f\" -> %d x %d pixels at %d DPI",
		page,
		size.Width/pointsPerInch,
		size.Height/pointsPerInch,
		widthPx,
		heightPx,
		dpi,
	)
}
