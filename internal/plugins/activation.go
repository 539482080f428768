package plugins

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdellaert/fbw-installer/internal/util"
)

// activate points currentPath at the version directory named version.
//
// The new pointer is created beside currentPath and renamed over it, so
// readers observe either the old or the new target, never a missing one.
// The pointer is a relative symlink; where symlinks cannot be created it
// is a regular file holding the version name.
func activate(currentPath, version string) error {
	tmpPath := fmt.Sprintf("%s.tmp-%d", currentPath, time.Now().UnixNano())

	if err := os.Symlink(version, tmpPath); err != nil {
		log.Printf("Symlink unavailable for %s (%v), using pointer file", currentPath, err)
		if err := os.WriteFile(tmpPath, []byte(version+"\n"), 0644); err != nil {
			return fmt.Errorf("failed to write current pointer: %w", err)
		}
	}

	if err := os.Rename(tmpPath, currentPath); err != nil {
		// A directory-like pointer (e.g. a junction) cannot be replaced by
		// rename; remove it and retry once.
		if removeErr := os.Remove(currentPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to remove previous current pointer: %w", removeErr)
		}
		if err := os.Rename(tmpPath, currentPath); err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("failed to replace current pointer: %w", err)
		}
	}
	return nil
}

// resolveCurrent returns the version name currentPath points at.
func resolveCurrent(currentPath string) (string, error) {
	info, err := os.Lstat(currentPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoCurrentVersion
		}
		return "", err
	}

	var version string
	switch {
	case info.Mode()&os.ModeSymlink != 0 || info.IsDir():
		target, err := os.Readlink(currentPath)
		if err != nil {
			return "", fmt.Errorf("failed to read current pointer: %w", err)
		}
		version = filepath.Base(target)
	case info.Mode().IsRegular():
		data, err := os.ReadFile(currentPath)
		if err != nil {
			return "", fmt.Errorf("failed to read current pointer: %w", err)
		}
		version = strings.TrimSpace(string(data))
	default:
		return "", fmt.Errorf("unexpected current pointer type %s", info.Mode().Type())
	}

	if err := util.ValidatePathComponent(version); err != nil {
		return "", fmt.Errorf("%w: current pointer: %v", ErrInvalidPath, err)
	}
	return version, nil
}
