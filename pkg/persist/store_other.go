//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)
// +build !linux,!darwin,!freebsd,!openbsd,!netbsd,!dragonfly

package persist

import (
	"fmt"
	"os"
	"runtime"
)

// fileLocker is a no-op on platforms without flock(2); the store still
// works, it just loses the cross-process advisory lock.
type fileLocker interface {
	Unlock() error
}

type noopLocker struct{}

func (noopLocker) Unlock() error { return nil }

func lockFile(f *os.File) (fileLocker, error) {
	return noopLocker{}, nil
}

func mmapHeader(f *os.File) ([]byte, error) {
	return nil, fmt.Errorf("persist: mmap unsupported on %s", runtime.GOOS)
}

func munmapHeader(data []byte) error {
	return nil
}
