//go:build linux

package modbus

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

type flock struct{ fd int }

func (l *flock) Close() error {
	unix.Flock(l.fd, unix.LOCK_UN)
	return unix.Close(l.fd)
}

// lockDevice takes an exclusive advisory lock on the device node.
func lockDevice(path string) (io.Closer, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open for lock: %w", err)
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("%s is in use by another process", path)
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &flock{fd: fd}, nil
}
