package pdfrender

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	// defaultDirMode is the default permissions for created directories.
	defaultDirMode = 0o750
)

// DiscoverPDFs finds all PDF files in a given directory, sorted by name.
// It performs a case-insensitive search and does not recurse into subdirectories.
func DiscoverPDFs(dirPath string) ([]string, error) {
	dirEntries, readErr := os.ReadDir(dirPath)
	if readErr != nil {
		return nil, fmt.Errorf(
			"could not read directory %s: %w",
			dirPath,
			readErr,
		)
	}

	var pdfPaths []string

	for _, entry := range dirEntries {
		// Ensure we only process files, not directories.
		if !entry.IsDir() &&
			strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {

			pdfPaths = append(pdfPaths, filepath.Join(dirPath, entry.Name()))
		}
	}

	slices.Sort(pdfPaths)

	return pdfPaths, nil
}

// ensureOutputDirectory creates the output directory and any missing parents.
func ensureOutputDirectory(outputDir string) error {
	mkdirErr := os.MkdirAll(outputDir, defaultDirMode)
	if mkdirErr != nil {
		return fmt.Errorf(
			"failed to create output directory %s: %w",
			outputDir,
			mkdirErr,
		)
	}

	return nil
}
