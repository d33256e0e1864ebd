// Package fixture materializes isolated working copies of named fixtures and
// diffs their text content across an agent run.
//
// Every working directory issued by Setup is tracked until Teardown or
// CleanupAll removes it. Shared project assets (skill and command
// definitions, root configuration) are linked into each copy through an
// AssetStrategy so they resolve without being duplicated per fixture and
// without exposing the source tree to mutation.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrFixtureNotFound is returned by Setup when the named fixture does not exist.
var ErrFixtureNotFound = errors.New("fixture not found")

// TempPrefix prefixes every working directory name.
const TempPrefix = "skillcheck-"

// gitConfig is the minimal marker written when a fixture has no .git dir.
const gitConfig = "[core]\n\tbare = false\n"

// DefaultAssets are the project entries linked into every working copy.
var DefaultAssets = []string{".claude", "CLAUDE.md", "skills", "commands"}

// Isolator issues and reclaims working directories.
//
// Thread-safety: all methods are safe for concurrent use.
type Isolator struct {
	fixturesRoot string
	projectRoot  string
	assets       []string
	strategy     AssetStrategy
	tempRoot     string
	logger       *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}
}

// Option configures an Isolator.
type Option func(*Isolator)

// WithProjectAssets links the named entries of projectRoot into every
// working copy. Entries missing from projectRoot are skipped.
func WithProjectAssets(projectRoot string, assets ...string) Option {
	return func(i *Isolator) {
		i.projectRoot = projectRoot
		if len(assets) > 0 {
			i.assets = append([]string(nil), assets...)
		}
	}
}

// WithStrategy overrides the asset materialization strategy.
//
// Default: FallbackStrategy{Primary: LinkStrategy{}, Fallback: CopyStrategy{}}
func WithStrategy(s AssetStrategy) Option {
	return func(i *Isolator) {
		i.strategy = s
	}
}

// WithTempRoot creates working directories under root instead of os.TempDir.
func WithTempRoot(root string) Option {
	return func(i *Isolator) {
		i.tempRoot = root
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(i *Isolator) {
		i.logger = l
	}
}

// NewIsolator creates an Isolator over fixtures stored under fixturesRoot.
func NewIsolator(fixturesRoot string, opts ...Option) *Isolator {
	i := &Isolator{
		fixturesRoot: fixturesRoot,
		assets:       append([]string(nil), DefaultAssets...),
		strategy:     FallbackStrategy{Primary: LinkStrategy{}, Fallback: CopyStrategy{}},
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		dirs:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// FixturesRoot returns the directory fixtures are resolved against.
func (i *Isolator) FixturesRoot() string {
	return i.fixturesRoot
}

// Resolve returns the source directory of fixtureID, or an error wrapping
// ErrFixtureNotFound.
func (i *Isolator) Resolve(fixtureID string) (string, error) {
	src := filepath.Join(i.fixturesRoot, filepath.FromSlash(fixtureID))
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrFixtureNotFound, fixtureID)
	}
	return src, nil
}

// Setup creates a fresh working directory holding a copy of fixtureID with
// the project assets materialized and a version-control marker present.
func (i *Isolator) Setup(ctx context.Context, fixtureID string) (string, error) {
	src, err := i.Resolve(fixtureID)
	if err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp(i.tempRoot, TempPrefix)
	if err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	i.track(workDir)

	if err := i.populate(ctx, src, workDir); err != nil {
		_ = i.Teardown(workDir)
		return "", err
	}

	i.logger.Debug("fixture ready", "fixture", fixtureID, "dir", workDir)
	return workDir, nil
}

func (i *Isolator) populate(ctx context.Context, src, workDir string) error {
	if err := os.CopyFS(workDir, os.DirFS(src)); err != nil {
		return fmt.Errorf("copy fixture: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if i.projectRoot != "" {
		for _, name := range i.assets {
			from := filepath.Join(i.projectRoot, name)
			to := filepath.Join(workDir, name)
			if _, err := os.Lstat(from); err != nil {
				continue
			}
			if _, err := os.Lstat(to); err == nil {
				// Fixture ships its own copy.
				continue
			}
			if err := i.strategy.Materialize(from, to); err != nil {
				return fmt.Errorf("materialize asset %s: %w", name, err)
			}
		}
	}

	gitDir := filepath.Join(workDir, ".git")
	if _, err := os.Stat(gitDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(gitDir, 0o755); err != nil {
			return fmt.Errorf("create git marker: %w", err)
		}
		if err := os.WriteFile(filepath.Join(gitDir, "config"), []byte(gitConfig), 0o644); err != nil {
			return fmt.Errorf("create git marker: %w", err)
		}
	}
	return nil
}

// Teardown deletes a directory previously issued by Setup.
// Unknown directories are ignored.
func (i *Isolator) Teardown(workDir string) error {
	i.mu.Lock()
	_, ok := i.dirs[workDir]
	delete(i.dirs, workDir)
	i.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.RemoveAll(workDir); err != nil {
		return fmt.Errorf("remove working directory: %w", err)
	}
	i.logger.Debug("fixture removed", "dir", workDir)
	return nil
}

// CleanupAll removes every outstanding working directory, ignoring failures.
func (i *Isolator) CleanupAll() {
	i.mu.Lock()
	dirs := make([]string, 0, len(i.dirs))
	for d := range i.dirs {
		dirs = append(dirs, d)
	}
	i.dirs = make(map[string]struct{})
	i.mu.Unlock()

	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			i.logger.Warn("cleanup failed", "dir", d, "error", err)
		}
	}
}

// Outstanding returns the number of issued directories not yet removed.
func (i *Isolator) Outstanding() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.dirs)
}

func (i *Isolator) track(dir string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dirs[dir] = struct{}{}
}
