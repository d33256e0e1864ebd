package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when an explicitly requested scenario
// file does not exist.
type ScenarioNotFoundError struct {
	File         string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario file not found: %s (resolved to: %s)", e.File, e.ResolvedPath)
}

// Selection chooses scenario files under a scenarios directory.
type Selection struct {
	// Suite restricts discovery to one subdirectory (contracts, integration).
	Suite string
	// File selects a single file relative to the scenarios directory.
	File string
	// Filter is a filepath.Match pattern applied to the file's base name
	// without extension.
	Filter string
}

// FindScenarioFiles returns the scenario files under scenariosDir chosen by
// sel, sorted by path.
func FindScenarioFiles(scenariosDir string, sel Selection) ([]string, error) {
	if sel.File != "" {
		path := sel.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(scenariosDir, filepath.FromSlash(sel.File))
		}
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return nil, &ScenarioNotFoundError{File: sel.File, ResolvedPath: path}
		}
		return []string{path}, nil
	}

	root := scenariosDir
	if sel.Suite != "" {
		root = filepath.Join(scenariosDir, sel.Suite)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("scenarios directory not found: %s", root)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		// Only process .yaml and .yml files
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if sel.Filter != "" {
			name := strings.TrimSuffix(d.Name(), ext)
			matched, err := filepath.Match(sel.Filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
