// Command pdf-to-image converts a PDF, or every PDF in a directory, into page images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/cheggaaa/pb/v3"

	"github.com/book-expert/pdf-to-image/internal/pdfrender"
)

const defaultConfigName = "pdf-to-image.toml"

type configPaths struct {
	OutputDir string `toml:"output_dir"`
	EngineDir string `toml:"engine_dir"`
	TempDir   string `toml:"temp_dir"`
}

type configLogsDir struct {
	PDFToImage string `toml:"pdf_to_image"`
}

type configSettings struct {
	Format         string `toml:"format"`
	Engine         string `toml:"engine"`
	Geometry       string `toml:"geometry"`
	DPI            int    `toml:"dpi"`
	BatchSize      int    `toml:"batch_size"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Overwrite      bool   `toml:"overwrite"`
	SkipBlank      bool   `toml:"skip_blank"`
}

type configBlankDetection struct {
	FuzzPercent       int     `toml:"fast_fuzz_percent"`
	NonWhiteThreshold float64 `toml:"fast_non_white_threshold"`
}

// config represents the structure of pdf-to-image.toml.
type config struct {
	Paths          configPaths          `toml:"paths"`
	LogsDir        configLogsDir        `toml:"logs_dir"`
	Settings       configSettings       `toml:"settings"`
	BlankDetection configBlankDetection `toml:"blank_detection"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// The `run` function contains the core application logic.
	// We call it and then os.Exit to ensure deferred functions are run correctly.
	err := run(ctx, os.Args[1:], os.Stdout)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main logic function, separated from main to allow for easier testing and
// clean exit handling.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flgs, parseErr := parseFlags(args)
	if parseErr != nil {
		return parseErr
	}

	projectRoot, configPath := locateConfig(flgs.configPath)

	cfg, err := safeLoadConfig(configPath)
	if err != nil {
		return err
	}

	settings, mergeErr := mergeConfigAndFlags(&cfg, flgs, pdfrender.BundledEngineDir())
	if mergeErr != nil {
		return mergeErr
	}

	return processWithLogger(ctx, settings, projectRoot, cfg.LogsDir.PDFToImage, stdout)
}

// locateConfig picks the explicit -config file, or pdf-to-image.toml at the project root,
// or the working directory when no project root can be found.
func locateConfig(explicit string) (string, string) {
	if explicit != "" {
		absolute, absErr := filepath.Abs(explicit)
		if absErr != nil {
			absolute = filepath.Clean(explicit)
		}

		return filepath.Dir(absolute), absolute
	}

	projectRoot, _, rootErr := configurator.FindProjectRoot(".")
	if rootErr != nil {
		projectRoot = "."
	}

	return projectRoot, filepath.Join(projectRoot, defaultConfigName)
}

// safeLoadConfig loads the TOML config, allowing missing file without error.
func safeLoadConfig(path string) (config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var emptyCfg config

			return emptyCfg, nil
		}

		return config{}, fmt.Errorf("error loading config file: %w", err)
	}

	return cfg, nil
}

// loadConfig reads and parses the TOML config file.
func loadConfig(path string) (config, error) {
	var cfg config

	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		var zero config

		return zero, fmt.Errorf("failed to decode config file: %w", err)
	}

	return cfg, nil
}

// flags represents the command-line arguments.
type flags struct {
	inputPath  string
	outputDir  string
	format     string
	engine     string
	geometry   string
	configPath string
	dpi        int
	batchSize  int
	timeout    int
	overwrite  bool
	skipBlank  bool
}

// errUsage is returned when the positional PDF argument is missing.
var errUsage = errors.New("usage: pdf-to-image [flags] <pdf file or directory>")

// parseFlags defines and parses command-line flags.
func parseFlags(args []string) (flags, error) {
	var flagsVar flags

	flagSet := flag.NewFlagSet("pdf-to-image", flag.ContinueOnError)
	flagSet.StringVar(
		&flagsVar.outputDir,
		"output-dir",
		"",
		"Output directory for the images (default: the PDF's directory).",
	)
	flagSet.IntVar(&flagsVar.dpi, "dpi", 0, "Image resolution in DPI (default: 150).")
	flagSet.StringVar(&flagsVar.format, "format", "", "Image format, jpg or png (default: jpg).")
	flagSet.BoolVar(&flagsVar.overwrite, "overwrite", false, "Overwrite existing files.")
	flagSet.IntVar(
		&flagsVar.batchSize,
		"batch-size",
		0,
		"Number of pages to process at once (default: 5).",
	)
	flagSet.IntVar(
		&flagsVar.timeout,
		"timeout",
		0,
		"Timeout per batch in seconds (default: 300).",
	)
	flagSet.StringVar(&flagsVar.engine, "engine", "", "Rendering engine: pdftoppm or ghostscript.")
	flagSet.StringVar(&flagsVar.geometry, "geometry", "", "Page size reader: pdfcpu or pdfinfo.")
	flagSet.BoolVar(&flagsVar.skipBlank, "skip-blank", false, "Do not save blank pages.")
	flagSet.StringVar(&flagsVar.configPath, "config", "", "Path to a TOML config file.")

	parseErr := flagSet.Parse(args)
	if parseErr != nil {
		return flags{}, fmt.Errorf("invalid arguments: %w", parseErr)
	}

	if flagSet.NArg() != 1 {
		return flags{}, errUsage
	}

	flagsVar.inputPath = flagSet.Arg(0)

	return flagsVar, nil
}

// runSettings is the merged configuration of one invocation.
type runSettings struct {
	options   pdfrender.Options
	request   pdfrender.Request
	inputPath string
}

// mergeConfigAndFlags combines settings from the config file and command-line flags.
// Flags take precedence over the config file settings.
func mergeConfigAndFlags(cfg *config, flgs flags, engineDir string) (runSettings, error) {
	settings := runSettings{
		inputPath: flgs.inputPath,
		options: pdfrender.Options{
			Engine:                 cfg.Settings.Engine,
			EngineBinary:           "",
			EngineDir:              cfg.Paths.EngineDir,
			Geometry:               cfg.Settings.Geometry,
			TempDir:                cfg.Paths.TempDir,
			BlankFuzzPercent:       cfg.BlankDetection.FuzzPercent,
			BlankNonWhiteThreshold: cfg.BlankDetection.NonWhiteThreshold,
		},
		request: pdfrender.Request{
			PDFPath:   "",
			OutputDir: cfg.Paths.OutputDir,
			Format:    "",
			Timeout:   time.Duration(cfg.Settings.TimeoutSeconds) * time.Second,
			DPI:       cfg.Settings.DPI,
			BatchSize: cfg.Settings.BatchSize,
			Overwrite: cfg.Settings.Overwrite,
			SkipBlank: cfg.Settings.SkipBlank,
		},
	}

	if settings.options.EngineDir == "" {
		settings.options.EngineDir = engineDir
	}

	format := cfg.Settings.Format

	// Command-line flags override config file values.
	if flgs.outputDir != "" {
		settings.request.OutputDir = flgs.outputDir
	}

	if flgs.format != "" {
		format = flgs.format
	}

	if flgs.dpi > 0 {
		settings.request.DPI = flgs.dpi
	}

	if flgs.batchSize > 0 {
		settings.request.BatchSize = flgs.batchSize
	}

	if flgs.timeout > 0 {
		settings.request.Timeout = time.Duration(flgs.timeout) * time.Second
	}

	if flgs.overwrite {
		settings.request.Overwrite = true
	}

	if flgs.skipBlank {
		settings.request.SkipBlank = true
	}

	if flgs.engine != "" {
		settings.options.Engine = flgs.engine
	}

	if flgs.geometry != "" {
		settings.options.Geometry = flgs.geometry
	}

	if format != "" {
		parsed, formatErr := pdfrender.ParseFormat(format)
		if formatErr != nil {
			return runSettings{}, formatErr
		}

		settings.request.Format = parsed
	}

	return settings, nil
}

// processWithLogger sets up the logger and runs the processor.
func processWithLogger(
	ctx context.Context,
	settings runSettings,
	projectRoot, logDir string,
	stdout io.Writer,
) error {
	log, err := setupLogger(projectRoot, logDir)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	defer func() {
		cerr := log.Close()
		if cerr != nil {
			_, _ = fmt.Fprintf(
				os.Stderr,
				"failed to close logger: %v\n",
				cerr,
			)
		}
	}()

	processor := pdfrender.NewProcessor(&settings.options, log)

	pdfPaths, discoverErr := inputPDFs(settings.inputPath)
	if discoverErr != nil {
		return discoverErr
	}

	return convertWithProgress(ctx, processor, pdfPaths, settings.request, stdout)
}

// inputPDFs expands a directory argument into the PDFs it contains.
func inputPDFs(inputPath string) ([]string, error) {
	info, statErr := os.Stat(inputPath)
	if statErr != nil || !info.IsDir() {
		return []string{inputPath}, nil
	}

	pdfPaths, discoverErr := pdfrender.DiscoverPDFs(inputPath)
	if discoverErr != nil {
		return nil, fmt.Errorf("failed to discover PDFs: %w", discoverErr)
	}

	if len(pdfPaths) == 0 {
		return nil, fmt.Errorf("%w in %s", pdfrender.ErrNoPDFsFound, inputPath)
	}

	return pdfPaths, nil
}

// convertWithProgress runs ConvertAll and renders its events on stdout.
func convertWithProgress(
	ctx context.Context,
	processor *pdfrender.Processor,
	pdfPaths []string,
	template pdfrender.Request,
	stdout io.Writer,
) error {
	events := make(chan pdfrender.Event)
	done := make(chan struct{})

	var outcomes []pdfrender.Outcome

	var convertErr error

	go func() {
		defer close(done)
		defer close(events)

		outcomes, convertErr = processor.ConvertAll(ctx, pdfPaths, template, events)
	}()

	view := newConsoleView(stdout, template.WithDefaults())
	for event := range events {
		view.handle(event)
	}

	<-done

	return summarize(outcomes, convertErr)
}

// summarize turns the per-document outcomes into the process result.
func summarize(outcomes []pdfrender.Outcome, convertErr error) error {
	if convertErr != nil {
		return fmt.Errorf("PDF processing failed: %w", convertErr)
	}

	for _, outcome := range outcomes {
		if outcome.Status == pdfrender.StateCancelled {
			return fmt.Errorf("conversion of %s was cancelled", filepath.Base(outcome.PDFPath))
		}
	}

	return nil
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(projectRoot, logDirConfig string) (*logger.Logger, error) {
	logDir := logDirConfig
	if logDir == "" {
		logDir = filepath.Join(projectRoot, "logs", "pdf_to_image")
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// consoleView prints page information and drives a progress bar per document.
type consoleView struct {
	out      io.Writer
	bar      *pb.ProgressBar
	problems []string
	request  pdfrender.Request
}

func newConsoleView(out io.Writer, request pdfrender.Request) *consoleView {
	return &consoleView{out: out, bar: nil, problems: nil, request: request}
}

func (view *consoleView) handle(event pdfrender.Event) {
	switch event.Kind {
	case pdfrender.EventStarted:
		view.start(event)
	case pdfrender.EventPageDone, pdfrender.EventPageSkipped, pdfrender.EventPageBlank:
		view.advance(event)
	case pdfrender.EventPageFailed:
		view.problems = append(view.problems, fmt.Sprintf("  Page %d: %v", event.Page, event.Err))
	case pdfrender.EventBatchFailed:
		view.problems = append(
			view.problems,
			fmt.Sprintf("Error processing %s: %v", event.Batch, event.Err),
		)
	case pdfrender.EventCompleted, pdfrender.EventCancelled, pdfrender.EventFailed:
		view.finish(event)
	case pdfrender.EventBatchStarted:
	}
}

func (view *consoleView) start(event pdfrender.Event) {
	dpi := view.request.DPI

	_, _ = fmt.Fprintln(view.out, "\nPDF Page Information:")
	_, _ = fmt.Fprintln(view.out, "---------------------")

	for index, size := range event.Pages {
		_, _ = fmt.Fprintln(view.out, pdfrender.Describe(index+1, size, dpi))
	}

	outputDir := view.request.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(event.PDFPath)
	}

	_, _ = fmt.Fprintf(view.out, "\nConverting PDF: %s\n", event.PDFPath)
	_, _ = fmt.Fprintf(view.out, "Total pages: %d\n", event.Total)
	_, _ = fmt.Fprintf(view.out, "Format: %s, DPI: %d\n", view.request.Format, dpi)
	_, _ = fmt.Fprintf(view.out, "Output directory: %s\n", outputDir)
	_, _ = fmt.Fprintf(view.out, "Processing in batches of %d pages\n\n", view.request.BatchSize)

	view.bar = pb.New(event.Total).
		SetTemplateString(`{{ bar . " " "━" "━" " " " "}} {{counters .}} {{percent .}} {{etime .}}`).
		SetWriter(view.out).
		Start()
}

func (view *consoleView) advance(event pdfrender.Event) {
	if view.bar != nil {
		view.bar.SetCurrent(int64(event.Processed))
	}
}

func (view *consoleView) finish(event pdfrender.Event) {
	if view.bar != nil {
		view.bar.Finish()
		view.bar = nil
	}

	for _, problem := range view.problems {
		_, _ = fmt.Fprintln(view.out, problem)
	}

	view.problems = nil

	if event.Outcome == nil {
		return
	}

	outcome := event.Outcome

	switch event.Kind {
	case pdfrender.EventCompleted:
		_, _ = fmt.Fprintf(
			view.out,
			"\nConversion completed in %.1f seconds: %d saved, %d skipped, %d blank, %d failed\n",
			outcome.Elapsed.Seconds(),
			outcome.Written,
			outcome.Skipped,
			outcome.Blank,
			outcome.Failed,
		)
	case pdfrender.EventCancelled:
		_, _ = fmt.Fprintf(
			view.out,
			"\nConversion cancelled after %d of %d pages\n",
			outcome.Processed(),
			outcome.Total,
		)
	default:
		_, _ = fmt.Fprintf(view.out, "\nFailed to convert %s: %v\n", event.PDFPath, event.Err)
	}
}
