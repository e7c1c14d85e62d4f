//go:build unix

package block

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive takes a non-blocking advisory exclusive lock on f. It
// returns an error immediately if another process already holds the lock,
// rather than blocking — a second writer is a configuration mistake, not a
// transient condition worth waiting out.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
