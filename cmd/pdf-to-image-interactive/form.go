package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

// formValues holds the raw answers of the conversion form. They are kept between runs
// so the next conversion offers them as defaults.
type formValues struct {
	pdfPath   string
	outputDir string
	dpi       string
	format    string
	batchSize string
	timeout   string
	sameDir   bool
	overwrite bool
	skipBlank bool
}

func defaultForm() formValues {
	return formValues{
		pdfPath:   "",
		outputDir: "",
		dpi:       strconv.Itoa(pdfrender.DefaultDPI),
		format:    string(pdfrender.DefaultFormat),
		batchSize: strconv.Itoa(pdfrender.DefaultBatchSize),
		timeout:   strconv.Itoa(int(pdfrender.DefaultTimeout.Seconds())),
		sameDir:   true,
		overwrite: false,
		skipBlank: false,
	}
}

// collectForm prompts for every field, offering the previous answers as defaults.
func (p *prompter) collectForm(previous formValues) (formValues, error) {
	values := previous

	var err error

	if values.pdfPath, err = p.PromptWithDefault("PDF file", previous.pdfPath); err != nil {
		return previous, err
	}

	values.pdfPath = expandHome(values.pdfPath)

	if values.sameDir, err = p.Confirm("Save images next to the PDF?", previous.sameDir); err != nil {
		return previous, err
	}

	values.outputDir = ""
	if !values.sameDir {
		if values.outputDir, err = p.PromptWithDefault("Output directory", previous.outputDir); err != nil {
			return previous, err
		}

		values.outputDir = expandHome(values.outputDir)
	}

	if values.dpi, err = p.PromptWithDefault("DPI", previous.dpi); err != nil {
		return previous, err
	}

	if values.format, err = p.PromptWithDefault("Format (jpg/png)", previous.format); err != nil {
		return previous, err
	}

	if values.batchSize, err = p.PromptWithDefault("Batch size", previous.batchSize); err != nil {
		return previous, err
	}

	if values.timeout, err = p.PromptWithDefault("Timeout per batch (seconds)", previous.timeout); err != nil {
		return previous, err
	}

	if values.overwrite, err = p.Confirm("Overwrite existing files?", previous.overwrite); err != nil {
		return previous, err
	}

	if values.skipBlank, err = p.Confirm("Skip blank pages?", previous.skipBlank); err != nil {
		return previous, err
	}

	return values, nil
}

// toRequest checks every field and returns all problems at once.
func (values formValues) toRequest() (pdfrender.Request, []string) {
	var problems []string

	switch info, statErr := os.Stat(values.pdfPath); {
	case values.pdfPath == "":
		problems = append(problems, "Please select a PDF file")
	case statErr != nil || info.IsDir():
		problems = append(problems, "Selected PDF file does not exist")
	}

	if !values.sameDir && values.outputDir == "" {
		problems = append(
			problems,
			"Please specify an output directory or use same directory as PDF",
		)
	}

	dpi, dpiProblem := parseBounded(values.dpi, "DPI", pdfrender.MinDPI, pdfrender.MaxDPI, "")
	batchSize, batchProblem := parseBounded(
		values.batchSize, "Batch size", pdfrender.MinBatchSize, pdfrender.MaxBatchSize, "",
	)
	timeout, timeoutProblem := parseBounded(
		values.timeout,
		"Timeout",
		int(pdfrender.MinTimeout.Seconds()),
		int(pdfrender.MaxTimeout.Seconds()),
		" seconds",
	)

	for _, problem := range []string{dpiProblem, batchProblem, timeoutProblem} {
		if problem != "" {
			problems = append(problems, problem)
		}
	}

	format, formatErr := pdfrender.ParseFormat(values.format)
	if formatErr != nil {
		problems = append(problems, "Format must be jpg or png")
	}

	outputDir := values.outputDir
	if values.sameDir {
		outputDir = filepath.Dir(values.pdfPath)
	}

	req := pdfrender.Request{
		PDFPath:   values.pdfPath,
		OutputDir: outputDir,
		Format:    format,
		Timeout:   time.Duration(timeout) * time.Second,
		DPI:       dpi,
		BatchSize: batchSize,
		Overwrite: values.overwrite,
		SkipBlank: values.skipBlank,
	}

	if len(problems) == 0 {
		if validateErr := req.Validate(); validateErr != nil {
			problems = append(problems, strings.Split(validateErr.Error(), "\n")...)
		}
	}

	return req, problems
}

// parseBounded parses an integer field and checks it against [low, high].
func parseBounded(raw, label string, low, high int, unit string) (int, string) {
	value, convErr := strconv.Atoi(strings.TrimSpace(raw))
	if convErr != nil {
		return 0, label + " must be a valid number"
	}

	if value < low || value > high {
		return value, fmt.Sprintf("%s must be between %d and %d%s", label, low, high, unit)
	}

	return value, ""
}

// expandHome expands a leading ~/ to the home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, homeErr := os.UserHomeDir()
	if homeErr != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
