package pdfrender_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

func TestRequest_WithDefaults(t *testing.T) {
	t.Parallel()

	req := pdfrender.Request{PDFPath: filepath.Join("books", "novel.pdf")}.WithDefaults()

	assert.Equal(t, "books", req.OutputDir)
	assert.Equal(t, pdfrender.FormatJPG, req.Format)
	assert.Equal(t, 150, req.DPI)
	assert.Equal(t, 5, req.BatchSize)
	assert.Equal(t, 300*time.Second, req.Timeout)
	assert.False(t, req.Overwrite)
	require.NoError(t, req.Validate())

	custom := pdfrender.Request{
		PDFPath:   "novel.pdf",
		OutputDir: "out",
		Format:    pdfrender.FormatPNG,
		DPI:       3000,
		BatchSize: 9,
		Timeout:   time.Minute,
	}.WithDefaults()
	assert.Equal(t, "out", custom.OutputDir)
	assert.Equal(t, 3000, custom.DPI, "out-of-range values are left for Validate")
}

func TestRequest_ValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	err := pdfrender.Request{
		DPI:       49,
		BatchSize: 51,
		Timeout:   29 * time.Second,
		Format:    "gif",
	}.Validate()
	require.ErrorIs(t, err, pdfrender.ErrInvalidParameter)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 6)

	message := err.Error()
	for _, fragment := range []string{"PDF file", "output directory", "DPI", "batch size", "timeout", "format"} {
		assert.Contains(t, message, fragment)
	}
}

func TestRequest_ValidateBounds(t *testing.T) {
	t.Parallel()

	base := pdfrender.Request{PDFPath: "a.pdf"}.WithDefaults()

	valid := []func(*pdfrender.Request){
		func(r *pdfrender.Request) { r.DPI = 50 },
		func(r *pdfrender.Request) { r.DPI = 2400 },
		func(r *pdfrender.Request) { r.BatchSize = 1 },
		func(r *pdfrender.Request) { r.BatchSize = 50 },
		func(r *pdfrender.Request) { r.Timeout = 30 * time.Second },
		func(r *pdfrender.Request) { r.Timeout = time.Hour },
	}
	for _, mutate := range valid {
		req := base
		mutate(&req)
		require.NoError(t, req.Validate())
	}

	invalid := []func(*pdfrender.Request){
		func(r *pdfrender.Request) { r.DPI = 2401 },
		func(r *pdfrender.Request) { r.BatchSize = -1 },
		func(r *pdfrender.Request) { r.Timeout = time.Hour + time.Second },
	}
	for _, mutate := range invalid {
		req := base
		mutate(&req)
		require.ErrorIs(t, req.Validate(), pdfrender.ErrInvalidParameter)
	}
}
