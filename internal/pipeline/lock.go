package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrDeviceBusy is returned when another droidship run holds the
// device lock.
var ErrDeviceBusy = errors.New("device is busy with another droidship run")

// lockDevice takes an exclusive, non-blocking lock for serial. The
// returned func releases it.
func (e *Engine) lockDevice(serial string) (string, func(), error) {
	dir := e.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := filepath.Join(dir, "droidship-"+lockName(serial)+".lock")

	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return "", nil, fmt.Errorf("acquiring device lock: %w", err)
	}
	if !locked {
		return "", nil, fmt.Errorf("%w (lock %s is held)", ErrDeviceBusy, path)
	}
	return path, func() { _ = fileLock.Unlock() }, nil
}

// lockName makes a serial safe for use in a file name. Network
// devices have serials like "192.168.1.20:5555".
func lockName(serial string) string {
	if serial == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, serial)
}
