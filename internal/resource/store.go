package resource

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"buildledger/internal/fsutil"
)

// ContentStore is a FileStore addressed by SHA-1:
// <root>/<sha1[0:2]>/<sha1>/<name>. Files are moved in with a no-replace
// link, so concurrent moves of the same content leave one intact copy.
type ContentStore struct {
	root string
}

func NewContentStore(root string) *ContentStore {
	return &ContentStore{root: root}
}

func (s *ContentStore) Root() string { return s.root }

func (s *ContentStore) entryPath(sum, name string) string {
	return filepath.Join(s.root, sum[:2], sum, name)
}

const defaultEntryName = "resource"

// entryName returns name when it is a single plain path element, and
// defaultEntryName otherwise. Names such as ".." would escape the entry
// directory.
func entryName(name string) string {
	switch {
	case name == "", name == ".", name == "..":
		return defaultEntryName
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, filepath.Separator):
		return defaultEntryName
	case strings.ContainsRune(name, 0):
		return defaultEntryName
	}
	return name
}

func (s *ContentStore) MoveIntoCache(d *Downloaded) (*Cached, error) {
	if _, ok := ParseSHA1(d.SHA1()); !ok {
		return nil, errors.Errorf("move into cache: invalid checksum %q", d.SHA1())
	}
	name := entryName(d.Name())
	src, err := d.Take()
	if err != nil {
		return nil, err
	}
	dst := s.entryPath(d.SHA1(), name)

	err = fsutil.MoveNoReplace(src, dst)
	switch {
	case errors.Is(err, fsutil.ErrExists):
		// Same content is already cached.
		_ = os.Remove(src)
	case err != nil:
		_ = os.Remove(src)
		return nil, errors.Wrapf(err, "move %s into cache", name)
	}
	return &Cached{Path: dst, SHA1: d.SHA1(), Size: d.Size()}, nil
}
