// Package filesystem writes small data files so that readers never observe
// a partially written file.
package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by CreateFileAtomic when the target already exists.
var ErrExists = errors.New("file already exists")

// WriteFileAtomic replaces target with data. The data is written and synced
// to a temporary file in the target's directory, which is then renamed over
// target. Missing parent directories are created with mode 0750.
func WriteFileAtomic(target string, data []byte, perm os.FileMode) error {
	tmp, err := writeTemp(target, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp to target: %w", err)
	}
	return nil
}

// CreateFileAtomic is WriteFileAtomic that refuses to replace an existing
// file. When two processes race, exactly one succeeds and the other gets
// ErrExists.
func CreateFileAtomic(target string, data []byte, perm os.FileMode) error {
	tmp, err := writeTemp(target, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmp) //nolint:errcheck

	// link(2) fails when the new name exists, unlike rename(2).
	if err := os.Link(tmp, target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, target)
		}
		return fmt.Errorf("linking temp to target: %w", err)
	}
	return nil
}

func writeTemp(target string, data []byte, perm os.FileMode) (string, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	fail := func(step string, err error) (string, error) {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("%s: %w", step, err)
	}

	if _, err := f.Write(data); err != nil {
		return fail("writing temp file", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fail("setting temp file mode", err)
	}
	if err := f.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return name, nil
}
