package fixture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// AssetStrategy materializes a shared project asset at a destination path.
// Implementations must leave the source untouched.
type AssetStrategy interface {
	Materialize(src, dst string) error
}

// LinkStrategy creates a symlink to the absolute source path.
type LinkStrategy struct{}

// Materialize implements AssetStrategy.
func (LinkStrategy) Materialize(src, dst string) error {
	abs, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	return os.Symlink(abs, dst)
}

// CopyStrategy deep-copies a file or directory tree.
type CopyStrategy struct{}

// Materialize implements AssetStrategy.
func (CopyStrategy) Materialize(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return err
		}
		return os.CopyFS(dst, os.DirFS(src))
	}
	return copyFile(src, dst, info.Mode().Perm())
}

// FallbackStrategy tries Primary and, if it fails, Fallback.
type FallbackStrategy struct {
	Primary  AssetStrategy
	Fallback AssetStrategy
}

// Materialize implements AssetStrategy.
func (f FallbackStrategy) Materialize(src, dst string) error {
	err := f.Primary.Materialize(src, dst)
	if err == nil {
		return nil
	}
	// A failed primary may leave a partial entry behind.
	_ = os.RemoveAll(dst)
	if ferr := f.Fallback.Materialize(src, dst); ferr != nil {
		return errors.Join(fmt.Errorf("primary: %w", err), fmt.Errorf("fallback: %w", ferr))
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
