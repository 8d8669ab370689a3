package pdfrender

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// CommandExecutor defines an interface for running external commands.
// Tests replace it to simulate the rendering engine and pdfinfo.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// RunCombined executes a command and returns its combined standard output and
	// standard error.
	RunCombined(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookPath resolves an executable name the way the executor will run it.
	LookPath(name string) (string, error)
}

// defaultExecutor implements the CommandExecutor interface using os/exec.
type defaultExecutor struct{}

// Run is the production implementation for executing a command.
func (executor *defaultExecutor) Run(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// RunCombined is the production implementation for executing a command and capturing all
// output.
func (executor *defaultExecutor) RunCombined(
	ctx context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// LookPath is the production implementation backed by exec.LookPath.
func (executor *defaultExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// pdfinfoPageSizeLine matches the per-page lines printed by `pdfinfo -f 1 -l N`, e.g.
// "Page    3 size: 612 x 792 pts (letter)".
var pdfinfoPageSizeLine = regexp.MustCompile(
	`^Page\s+(\d+)\s+size:\s+([0-9.]+)\s+x\s+([0-9.]+)\s+pts`,
)

// parsePdfInfoOutput scans the text output from the `pdfinfo` command to find and parse
// the page count.
func parsePdfInfoOutput(output string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Pages:") {
			parts := strings.Fields(line) // e.g., ["Pages:", "123"]
			if len(parts) >= 2 {
				pageCount, convErr := strconv.Atoi(parts[1])
				if convErr == nil {
					return pageCount, nil
				}
			}
		}
	}

	return 0, errors.New("could not parse 'Pages:' line from pdfinfo output")
}

// parsePdfInfoPageSizes extracts the page sizes from `pdfinfo -f 1 -l N` output.
// Every page from 1 to pageCount must be present exactly once.
func parsePdfInfoPageSizes(output string, pageCount int) ([]PageSize, error) {
	sizes := make([]PageSize, pageCount)
	seen := make([]bool, pageCount)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		match := pdfinfoPageSizeLine.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}

		page, _ := strconv.Atoi(match[1])
		if page < 1 || page > pageCount {
			return nil, fmt.Errorf("pdfinfo reported page %d of %d", page, pageCount)
		}

		width, widthErr := strconv.ParseFloat(match[2], 64)
		height, heightErr := strconv.ParseFloat(match[3], 64)
		if widthErr != nil || heightErr != nil {
			return nil, fmt.Errorf("invalid size on pdfinfo line %q", match[0])
		}

		sizes[page-1] = PageSize{Width: width, Height: height}
		seen[page-1] = true
	}

	for index, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("pdfinfo output has no size for page %d", index+1)
		}
	}

	return sizes, nil
}

// resolveBinary returns the path used to invoke an engine tool. When a bundled engine
// directory is configured the tool is expected there, otherwise it is looked up on PATH.
func resolveBinary(engineDir, name string) string {
	if engineDir == "" {
		return name
	}

	return filepath.Join(engineDir, name)
}

// commandError folds the command's output into the error for easier debugging.
func commandError(tool string, execErr error, output []byte) error {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return fmt.Errorf("%s execution failed: %w", tool, execErr)
	}

	return fmt.Errorf("%s execution failed: %w. Output: %s", tool, execErr, trimmed)
}

// BundledEngineDir returns <executable dir>/poppler/bin when a bundled poppler ships with
// the binary, or "" when the engine should come from PATH.
func BundledEngineDir() string {
	exePath, exeErr := os.Executable()
	if exeErr != nil {
		return ""
	}

	candidate := filepath.Join(filepath.Dir(exePath), "poppler", "bin")

	info, statErr := os.Stat(candidate)
	if statErr != nil || !info.IsDir() {
		return ""
	}

	return candidate
}
