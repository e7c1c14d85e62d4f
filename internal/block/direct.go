package block

import (
	"fmt"
	"os"
)

// DirectBackend forwards every operation straight to the host file. It is
// the simplest backend and the one every other backend eventually bottoms
// out on.
type DirectBackend struct {
	file   *os.File
	locked bool
}

// DirectConfig configures a DirectBackend.
type DirectConfig struct {
	Path     string
	ReadOnly bool
}

// OpenDirect opens (creating if necessary, unless ReadOnly) the host file
// at cfg.Path. When the file is opened read-write, an advisory exclusive
// lock is taken to enforce the single-writer assumption the rest of the
// engine relies on (spec §5): a second process opening the same file
// read-write will fail fast here instead of silently corrupting state.
func OpenDirect(cfg DirectConfig) (*DirectBackend, error) {
	flags := os.O_RDWR | os.O_CREATE
	if cfg.ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(cfg.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", cfg.Path, err)
	}
	d := &DirectBackend{file: f}
	if !cfg.ReadOnly {
		if err := lockExclusive(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("block: lock %s: %w", cfg.Path, err)
		}
		d.locked = true
	}
	return d, nil
}

func (d *DirectBackend) ReadAt(p []byte, off int64) error {
	n, err := d.file.ReadAt(p, off)
	if n < len(p) {
		if err == nil {
			err = ErrShortIO
		} else {
			err = fmt.Errorf("%w: %v", ErrShortIO, err)
		}
		return err
	}
	return nil
}

func (d *DirectBackend) WriteAt(p []byte, off int64) error {
	n, err := d.file.WriteAt(p, off)
	if n < len(p) {
		if err == nil {
			err = ErrShortIO
		} else {
			err = fmt.Errorf("%w: %v", ErrShortIO, err)
		}
		return err
	}
	return nil
}

func (d *DirectBackend) Size() int64 {
	info, err := d.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (d *DirectBackend) Sync() error { return d.file.Sync() }

func (d *DirectBackend) Close() error {
	if d.locked {
		unlock(d.file)
	}
	return d.file.Close()
}
