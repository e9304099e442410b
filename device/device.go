// ABOUTME: Stable per-installation device identity
// ABOUTME: Generates a ULID once and persists it under the XDG data directory
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/oklog/ulid/v2"
)

// ErrCorruptIdentity is returned when the identity file exists but holds no usable id.
var ErrCorruptIdentity = errors.New("device identity file is corrupt")

// Identity is the identifier used to attribute queued actions to this installation.
type Identity struct {
	ID   string
	Path string
	// New is true when the identifier was generated by this call.
	New bool
}

// DefaultPath returns the XDG-compliant location of the device identity file.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "fieldsync", "device-id")
}

// Generate returns a fresh time+random identifier.
func Generate() string {
	return ulid.Make().String()
}

// LoadOrCreate reads the identity at path, generating and persisting one if absent.
// An existing but unreadable identity is an error; regenerating would re-attribute history.
func LoadOrCreate(path string) (Identity, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, perr := ulid.ParseStrict(id); perr != nil {
			return Identity{}, fmt.Errorf("%w: %s: %v", ErrCorruptIdentity, path, perr)
		}
		return Identity{ID: id, Path: path}, nil
	case !os.IsNotExist(err):
		return Identity{}, fmt.Errorf("failed to read device identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return Identity{}, fmt.Errorf("failed to create device identity directory: %w", err)
	}

	id := Generate()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			// Another process won the race; use its identifier.
			return LoadOrCreate(path)
		}
		return Identity{}, fmt.Errorf("failed to create device identity file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(id + "\n"); err != nil {
		return Identity{}, fmt.Errorf("failed to write device identity: %w", err)
	}

	return Identity{ID: id, Path: path, New: true}, nil
}
