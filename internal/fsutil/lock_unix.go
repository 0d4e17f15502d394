//go:build unix

package fsutil

import (
	"os"

	"golang.org/x/sys/unix"
)

func lockFile(fd *os.File) error {
	for {
		err := unix.Flock(int(fd.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}
