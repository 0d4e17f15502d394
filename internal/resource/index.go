package resource

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"buildledger/internal/fsutil"
)

// Index remembers which local file holds each cached URI.
type Index interface {
	// Lookup returns the entry for uri, or nil when there is none or its
	// file no longer matches.
	Lookup(uri string) (*Cached, error)
	Record(entry Cached) error
}

const indexVersion = 1

type indexFile struct {
	Version int               `json:"version"`
	Entries map[string]Cached `json:"entries"`
}

// FileIndex persists the index as a JSON file. Every access holds an
// exclusive lock on <path>.lock so separate processes sharing a cache
// directory see consistent entries.
type FileIndex struct {
	path string
}

func NewFileIndex(path string) *FileIndex {
	return &FileIndex{path: path}
}

func (x *FileIndex) lockPath() string { return x.path + ".lock" }

func (x *FileIndex) Lookup(uri string) (*Cached, error) {
	var found *Cached
	err := fsutil.WithLock(x.lockPath(), func() error {
		f, err := x.read()
		if err != nil {
			return err
		}
		if e, ok := f.Entries[uri]; ok && entryValid(e) {
			found = &e
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "lookup cached resource")
	}
	return found, nil
}

func (x *FileIndex) Record(entry Cached) error {
	if entry.URI == "" {
		return errors.New("record cached resource: empty uri")
	}
	err := fsutil.WithLock(x.lockPath(), func() error {
		f, err := x.read()
		if err != nil {
			return err
		}
		f.Entries[entry.URI] = entry
		data, err := fsutil.MarshalStable(f)
		if err != nil {
			return err
		}
		return fsutil.WriteFileAtomic(x.path, data, 0o644)
	})
	return errors.Wrap(err, "record cached resource")
}

func (x *FileIndex) read() (*indexFile, error) {
	f := &indexFile{Version: indexVersion, Entries: map[string]Cached{}}
	if err := fsutil.ReadJSONStrict(x.path, f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, err
	}
	if f.Version != indexVersion {
		return nil, errors.Errorf("unsupported index version %d", f.Version)
	}
	if f.Entries == nil {
		f.Entries = map[string]Cached{}
	}
	return f, nil
}

// MemoryIndex is an in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Cached
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]Cached)}
}

func (x *MemoryIndex) Lookup(uri string) (*Cached, error) {
	x.mu.RLock()
	e, ok := x.entries[uri]
	x.mu.RUnlock()
	if !ok || !entryValid(e) {
		return nil, nil
	}
	return &e, nil
}

func (x *MemoryIndex) Record(entry Cached) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[entry.URI] = entry
	return nil
}

// entryValid reports whether the cached file still exists with the recorded
// size.
func entryValid(e Cached) bool {
	info, err := os.Stat(e.Path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() == e.Size
}
