package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

func scriptedLines(lines ...string) <-chan string {
	return readLines(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func fixedPane(out *bytes.Buffer) *logPane {
	pane := newLogPane(out)
	pane.now = func() time.Time { return time.Date(2024, 5, 1, 14, 3, 9, 0, time.UTC) }

	return pane
}

func TestPrompter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := &prompter{lines: scriptedLines("", "custom", "", "yes", "n", "2", "9", "x"), out: &out}

	value, err := p.PromptWithDefault("DPI", "150")
	require.NoError(t, err)
	assert.Equal(t, "150", value)

	value, err = p.PromptWithDefault("DPI", "150")
	require.NoError(t, err)
	assert.Equal(t, "custom", value)

	confirmed, err := p.Confirm("Overwrite?", true)
	require.NoError(t, err)
	assert.True(t, confirmed)

	confirmed, err = p.Confirm("Overwrite?", false)
	require.NoError(t, err)
	assert.True(t, confirmed)

	confirmed, err = p.Confirm("Overwrite?", true)
	require.NoError(t, err)
	assert.False(t, confirmed)

	choice, err := p.PromptChoice("Menu", menuChoices)
	require.NoError(t, err)
	assert.Equal(t, menuShowLog, choice)

	_, err = p.PromptChoice("Menu", menuChoices)
	require.Error(t, err)

	_, err = p.PromptChoice("Menu", menuChoices)
	require.Error(t, err)

	_, err = p.Prompt("After EOF")
	require.ErrorIs(t, err, errInputClosed)

	assert.Contains(t, out.String(), "DPI [150]: ")
	assert.Contains(t, out.String(), "Overwrite? [Y/n]: ")
	assert.Contains(t, out.String(), "  4. Exit")
}

func TestFormToRequest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pdfPath := filepath.Join(dir, "book.pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("%PDF-1.4"), 0o600))

	t.Run("Defaults next to the PDF", func(t *testing.T) {
		t.Parallel()

		values := defaultForm()
		values.pdfPath = pdfPath

		req, problems := values.toRequest()
		assert.Empty(t, problems)
		assert.Equal(t, pdfrender.Request{
			PDFPath:   pdfPath,
			OutputDir: dir,
			Format:    pdfrender.FormatJPG,
			Timeout:   300 * time.Second,
			DPI:       150,
			BatchSize: 5,
			Overwrite: false,
			SkipBlank: false,
		}, req)
	})

	t.Run("Every problem is reported", func(t *testing.T) {
		t.Parallel()

		values := formValues{
			pdfPath:   "",
			outputDir: "",
			dpi:       "10",
			format:    "gif",
			batchSize: "many",
			timeout:   "5",
			sameDir:   false,
			overwrite: false,
			skipBlank: false,
		}

		_, problems := values.toRequest()
		assert.Equal(t, []string{
			"Please select a PDF file",
			"Please specify an output directory or use same directory as PDF",
			"DPI must be between 50 and 2400",
			"Batch size must be a valid number",
			"Timeout must be between 30 and 3600 seconds",
			"Format must be jpg or png",
		}, problems)
	})

	t.Run("Missing file", func(t *testing.T) {
		t.Parallel()

		values := defaultForm()
		values.pdfPath = filepath.Join(dir, "absent.pdf")

		_, problems := values.toRequest()
		assert.Equal(t, []string{"Selected PDF file does not exist"}, problems)
	})

	t.Run("Explicit output directory", func(t *testing.T) {
		t.Parallel()

		values := defaultForm()
		values.pdfPath = pdfPath
		values.sameDir = false
		values.outputDir = "/srv/pages"
		values.format = "PNG"

		req, problems := values.toRequest()
		assert.Empty(t, problems)
		assert.Equal(t, "/srv/pages", req.OutputDir)
		assert.Equal(t, pdfrender.FormatPNG, req.Format)
	})
}

func TestLogPane(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	pane := fixedPane(&out)
	pane.replay()
	assert.Equal(t, "(log is empty)\n", out.String())

	out.Reset()
	pane.info("PDF has %d pages", 3)
	pane.fail("Error processing %s", "pages 1-3")
	assert.Contains(t, out.String(), "[14:03:09] PDF has 3 pages\n")
	assert.Contains(t, out.String(), "[14:03:09] Error processing pages 1-3")

	out.Reset()
	pane.replay()
	assert.Contains(t, out.String(), "[14:03:09] PDF has 3 pages")

	pane.clear()
	out.Reset()
	pane.replay()
	assert.Equal(t, "(log is empty)\n", out.String())
}

func TestProgressViewDescribesFirstPages(t *testing.T) {
	t.Parallel()

	var out, bar bytes.Buffer

	pages := make([]pdfrender.PageSize, 8)
	for index := range pages {
		pages[index] = pdfrender.PageSize{Width: 612, Height: 792}
	}

	view := newProgressView(fixedPane(&out), &bar, 150)
	view.handle(pdfrender.Event{Kind: pdfrender.EventStarted, Pages: pages, Total: len(pages)})
	view.handle(pdfrender.Event{
		Kind:      pdfrender.EventPageDone,
		Page:      1,
		Path:      "/out/book_1.jpg",
		Processed: 1,
		Total:     len(pages),
	})
	view.handle(pdfrender.Event{
		Kind:  pdfrender.EventBatchFailed,
		Batch: pdfrender.Batch{Start: 5, End: 8},
		Err:   errors.New("engine crashed"),
		Total: len(pages),
	})
	view.handle(pdfrender.Event{
		Kind:    pdfrender.EventCompleted,
		Outcome: &pdfrender.Outcome{Written: 5, Failed: 3, Total: 8},
		Total:   len(pages),
	})

	printed := out.String()
	assert.Contains(t, printed, "PDF has 8 pages")
	assert.Contains(t, printed, `Page 5: 8.50" x 11.00" -> 1275 x 1650 pixels at 150 DPI`)
	assert.NotContains(t, printed, "Page 6:")
	assert.Contains(t, printed, "... and 3 more pages")
	assert.NotContains(t, printed, "book_1.jpg")
	assert.NotContains(t, printed, "engine crashed")
	assert.Contains(t, printed, "Conversion completed with errors: 5 pages converted, 3 failed.")
	assert.NotEmpty(t, bar.String())
}

func TestProgressViewLeavesPageResultsToLogger(t *testing.T) {
	t.Parallel()

	var out, bar bytes.Buffer

	pane := fixedPane(&out)
	view := newProgressView(pane, &bar, 150)
	view.handle(pdfrender.Event{Kind: pdfrender.EventStarted, Total: 4})
	out.Reset()

	pageEvents := []pdfrender.Event{
		{Kind: pdfrender.EventPageDone, Page: 1, Path: "/out/book_1.png", Processed: 1, Total: 4},
		{Kind: pdfrender.EventPageSkipped, Page: 2, Path: "/out/book_2.png", Processed: 2, Total: 4},
		{Kind: pdfrender.EventPageBlank, Page: 3, Processed: 3, Total: 4},
		{Kind: pdfrender.EventPageFailed, Page: 4, Err: errors.New("disk full"), Total: 4},
		{
			Kind:  pdfrender.EventBatchFailed,
			Batch: pdfrender.Batch{Start: 0, End: 4},
			Err:   errors.New("engine crashed"),
			Total: 4,
		},
	}
	for _, event := range pageEvents {
		view.handle(event)
	}

	assert.Empty(t, out.String())
	assert.NotEmpty(t, bar.String())
}

func TestProgressViewCompleted(t *testing.T) {
	t.Parallel()

	var out, bar bytes.Buffer

	view := newProgressView(fixedPane(&out), &bar, 150)
	view.handle(pdfrender.Event{
		Kind:    pdfrender.EventCompleted,
		Outcome: &pdfrender.Outcome{Written: 12, Total: 12},
	})
	view.handle(pdfrender.Event{Kind: pdfrender.EventCancelled})

	assert.Contains(t, out.String(), "Conversion completed! 12 pages converted.")
	assert.Contains(t, out.String(), "Conversion cancelled by user")
}

func TestAppLoop(t *testing.T) {
	t.Parallel()

	var out, bar bytes.Buffer

	lines := scriptedLines(
		"1", "", "", "10", "", "", "", "", "",
		"2",
		"3",
		"7",
		"4",
	)

	console := newApp(pdfrender.NewProcessor(&pdfrender.Options{}, nil), lines, &out, &bar)
	console.announceEngine("", nil)

	require.NoError(t, console.loop(context.Background()))

	printed := out.String()
	assert.Contains(t, printed, "Using system Poppler")
	assert.Contains(t, printed, "Input Errors:")
	assert.Contains(t, printed, "  - Please select a PDF file")
	assert.Contains(t, printed, "  - DPI must be between 50 and 2400")
	assert.Contains(t, printed, "Log cleared.")
	assert.Contains(t, printed, "Invalid choice: choice must be between 1 and 4")
	assert.Equal(t, "10", console.form.dpi)
}

func TestAppLoopEndsWithInput(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	console := newApp(pdfrender.NewProcessor(&pdfrender.Options{}, nil), scriptedLines("1"), &out, &out)

	require.NoError(t, console.loop(context.Background()))
}
