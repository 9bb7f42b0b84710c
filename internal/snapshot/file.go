package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"github.com/google/renameio/v2"
)

var ErrIO = errors.New("snapshot i/o failure")
var ErrInvalidPath = errors.New("snapshot path must be a relative name inside the snapshot directory")

type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("snapshot %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error { return []error{ErrIO, e.Err} }

// WriteFile replaces path atomically; readers see the old blob or the new
// one, never a partial write.
func WriteFile(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ResolvePath places name inside dir. Names must be relative and may not
// contain ".." segments, so a request can never reach outside dir.
func ResolvePath(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
		}
	}
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.Clean(name)), nil
}

func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// Save encodes st and writes it to path.
func (c *Codec) Save(path string, st engine.State) (Meta, error) {
	data, meta, err := c.Encode(st)
	if err != nil {
		return Meta{}, err
	}
	if err := WriteFile(path, data); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Load reads and decodes the snapshot at path.
func (c *Codec) Load(path string) (engine.State, Meta, error) {
	data, err := ReadFile(path)
	if err != nil {
		return engine.State{}, Meta{}, err
	}
	return c.Decode(data)
}
