package plugins

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedStatus is returned when a plugin server answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrInvalidPath is returned when an id, version or asset file would escape its directory.
	ErrInvalidPath = errors.New("invalid plugin path")
	// ErrNoCurrentVersion is returned when a plugin has no current pointer.
	ErrNoCurrentVersion = errors.New("plugin has no current version")
	// ErrUnverified is returned when signatures are required and a payload is not verified.
	ErrUnverified = errors.New("plugin signature is not verified")
	// ErrVersionConflict is returned when a version directory already holds different content.
	ErrVersionConflict = errors.New("version directory already exists with different content")
)

// Install pipeline stages, used in StageError and log lines.
const (
	StageFetch         = "fetch"
	StageVerify        = "verify"
	StageStage         = "stage"
	StageWriteManifest = "write-manifest"
	StageActivate      = "activate"
	StageDelete        = "delete"
)

// StageError records which step of the install pipeline failed for a plugin.
type StageError struct {
	PluginID string
	Stage    string
	Cause    error
}

func (e *StageError) Error() string {
	if e.PluginID == "" {
		return fmt.Sprintf("plugin install: stage %s: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("plugin %s: stage %s: %v", e.PluginID, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}
