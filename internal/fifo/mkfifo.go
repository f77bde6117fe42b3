//go:build unix

// SPDX-License-Identifier: MIT
package fifo

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Ensure creates the named pipe at path if it does not exist. The mode is
// 0666 filtered by the process umask. An existing pipe is left alone; any
// other existing file is an error. Pipes are never removed.
func Ensure(path string) error {
	err := unix.Mkfifo(path, 0o666)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("failed to create fifo %s: %w", path, err)
	}
	return checkFIFO(path)
}

func checkFIFO(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFIFO {
		return fmt.Errorf("%w: %s", ErrNotFIFO, path)
	}
	return nil
}

// Ensure creates the channel's pipe.
func (c Channel) Ensure() error {
	return Ensure(c.path)
}
