// Command pdf-to-image-interactive is a terminal front end for converting a single PDF
// into page images. It collects the settings through prompts, streams the conversion
// log and keeps it for review until it is cleared.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/fatih/color"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

const (
	menuConvert = iota
	menuShowLog
	menuClearLog
	menuExit
)

var menuChoices = []string{"Convert PDF", "Show log", "Clear log", "Exit"}

func main() {
	err := run(context.Background(), os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out, barOut io.Writer) error {
	projectRoot, _, rootErr := configurator.FindProjectRoot(".")
	if rootErr != nil {
		projectRoot = "."
	}

	log, err := setupLogger(projectRoot)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	defer func() {
		cerr := log.Close()
		if cerr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", cerr)
		}
	}()

	engineDir := pdfrender.BundledEngineDir()
	processor := pdfrender.NewProcessor(&pdfrender.Options{EngineDir: engineDir}, log)

	console := newApp(processor, readLines(in), out, barOut)
	console.announceEngine(engineDir, processor.CheckTools())

	return console.loop(ctx)
}

// setupLogger opens a timestamped log file under logs/pdf_to_image.
func setupLogger(projectRoot string) (*logger.Logger, error) {
	logDir := filepath.Join(projectRoot, "logs", "pdf_to_image")
	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// app is the menu loop. The form answers survive between conversions.
type app struct {
	prompter *prompter
	session  *session
	pane     *logPane
	out      io.Writer
	form     formValues
}

func newApp(processor *pdfrender.Processor, lines <-chan string, out, barOut io.Writer) *app {
	pane := newLogPane(out)

	return &app{
		prompter: &prompter{lines: lines, out: out},
		session: &session{
			processor: processor,
			lines:     lines,
			pane:      pane,
			barOut:    barOut,
			machine:   pdfrender.Machine{},
		},
		pane: pane,
		out:  out,
		form: defaultForm(),
	}
}

// announceEngine reports which Poppler installation will be used.
func (a *app) announceEngine(engineDir string, toolsErr error) {
	if engineDir != "" {
		a.pane.success("✓ Bundled Poppler detected at %s", engineDir)
	} else {
		a.pane.info("ℹ Using system Poppler (bundled version not found)")
	}

	if toolsErr != nil {
		a.pane.fail("Rendering engine not available: %v", toolsErr)
	}
}

func (a *app) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		_, _ = fmt.Fprintln(a.out)

		choice, err := a.prompter.PromptChoice(
			color.New(color.Bold).Sprint("PDF to Image Converter"),
			menuChoices,
		)
		if errors.Is(err, errInputClosed) {
			return nil
		}

		if err != nil {
			_, _ = fmt.Fprintf(a.out, "Invalid choice: %v\n", err)

			continue
		}

		switch choice {
		case menuConvert:
			convertErr := a.convert(ctx)
			if errors.Is(convertErr, errInputClosed) {
				return nil
			}
		case menuShowLog:
			a.pane.replay()
		case menuClearLog:
			a.pane.clear()
			_, _ = fmt.Fprintln(a.out, "Log cleared.")
		case menuExit:
			return nil
		}
	}

	return nil
}

// convert collects the form, validates it and runs the conversion. Validation problems
// are listed together and the user is returned to the menu with the answers kept.
func (a *app) convert(ctx context.Context) error {
	values, err := a.prompter.collectForm(a.form)
	if err != nil {
		return err
	}

	a.form = values

	req, problems := values.toRequest()
	if len(problems) > 0 {
		_, _ = color.New(color.FgRed).Fprintln(a.out, "Input Errors:")
		for _, problem := range problems {
			_, _ = fmt.Fprintf(a.out, "  - %s\n", problem)
		}

		return nil
	}

	_, convertErr := a.session.convert(ctx, req)
	if errors.Is(convertErr, pdfrender.ErrInvalidTransition) {
		a.pane.warn("A conversion is already in progress")
	}

	return nil
}
