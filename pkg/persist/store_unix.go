//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly
// +build linux darwin freebsd openbsd netbsd dragonfly

package persist

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileLocker abstracts the advisory lock held on the persist file for the
// lifetime of the process, so the store package logic above stays
// platform-independent.
type fileLocker interface {
	Unlock() error
}

type flock struct {
	fd int
}

func (f *flock) Unlock() error {
	return unix.Flock(f.fd, unix.LOCK_UN)
}

// lockFile takes a non-blocking exclusive advisory lock via flock(2),
// matching the single-writer contract documented for the persist store:
// only one process may hold the file open for writing at a time.
func lockFile(f *os.File) (fileLocker, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return &flock{fd: fd}, nil
}

// mmapHeader maps the fixed-size header region read-only, used to validate
// the on-disk CRC without an extra ReadAt syscall on platforms where mmap
// is cheap. Errors fall back to the caller's regular ReadAt path.
func mmapHeader(f *os.File) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, headerSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func munmapHeader(data []byte) error {
	return unix.Munmap(data)
}
