//go:build !unix

package fsutil

import "os"

// Without flock only the in-process mutex serializes holders.
func lockFile(*os.File) error { return nil }
