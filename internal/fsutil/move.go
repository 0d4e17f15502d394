package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrExists is returned by MoveNoReplace when the destination already exists.
var ErrExists = os.ErrExist

// MoveNoReplace moves src to dst unless dst already exists, in which case src
// is left untouched and ErrExists is returned. dst only ever appears complete:
// the content is first staged in dst's directory, then hard-linked into place,
// which fails atomically if another writer got there first.
func MoveNoReplace(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	staged, err := stageInto(src, dir, filepath.Base(dst))
	if err != nil {
		return err
	}
	defer os.Remove(staged)

	if err := os.Link(staged, dst); err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		// Filesystems without hard links fall back to a rename, which may
		// replace a concurrent identical entry; content addressing keeps that
		// harmless.
		if _, statErr := os.Stat(dst); statErr == nil {
			return ErrExists
		}
		if err := os.Rename(staged, dst); err != nil {
			return errors.Wrapf(err, "commit %s", dst)
		}
	}
	_ = os.Remove(src)
	_ = SyncDir(dir)
	return nil
}

// stageInto places src in dir under a temp name, hard-linked when possible
// and copied when crossing devices.
func stageInto(src, dir, base string) (string, error) {
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	// Keep src in place until the commit succeeds: link, not rename.
	_ = os.Remove(tmpName)
	if err := os.Link(src, tmpName); err == nil {
		return tmpName, nil
	}
	if err := copyFile(src, tmpName); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return tmpName, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, "fsync %s", dst)
	}
	return out.Close()
}
