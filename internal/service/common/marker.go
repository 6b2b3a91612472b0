//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/manifest-packager/internal/logger"
)

// markerFileMode is the permission of a freshly created marker.
const markerFileMode = 0o644

// ErrAlreadyRunning is returned when a live process holds the marker.
var ErrAlreadyRunning = errors.New("another packager is already running in this directory")

// Marker is a PID file that prevents two runs in the same directory.
type Marker struct {
	// path is the marker file location.
	path string
}

// AcquireMarker creates the marker file in dir holding the current PID.
// A marker left by a process that no longer exists is treated as stale and replaced.
func AcquireMarker(ctx context.Context, dir, name string) (*Marker, error) {
	path := filepath.Join(dir, name)

	created, err := createMarker(path)
	if err != nil {
		return nil, err
	}

	if created {
		return &Marker{path: path}, nil
	}

	pid, alive := markerOwner(path)
	if alive {
		return nil, fmt.Errorf("%w (pid %d, marker %s)", ErrAlreadyRunning, pid, path)
	}

	logger.WarnKV(ctx, "Removing stale run marker", "path", path, "pid", pid)

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale marker: %w", err)
	}

	if created, err = createMarker(path); err != nil {
		return nil, err
	}

	if !created {
		return nil, fmt.Errorf("%w (marker %s)", ErrAlreadyRunning, path)
	}

	return &Marker{path: path}, nil
}

// Path returns the marker file location.
func (m *Marker) Path() string {
	return m.path
}

// Release removes the marker. Releasing twice is not an error.
func (m *Marker) Release() error {
	if m == nil {
		return nil
	}

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker: %w", err)
	}

	return nil
}

// createMarker writes the current PID into a new file and reports false when the file already exists.
func createMarker(path string) (bool, error) {
	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, markerFileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("create marker: %w", err)
	}

	_, err = file.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)

		return false, fmt.Errorf("write marker: %w", err)
	}

	return true, nil
}

// markerOwner returns the PID stored in the marker and whether that process is alive.
// Unreadable or malformed markers are reported as not alive.
func markerOwner(path string) (int, bool) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	if pid == os.Getpid() {
		return pid, true
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return pid, false
	}

	return pid, true
}
