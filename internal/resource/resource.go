// Package resource resolves remote resources to verified local files while
// avoiding network transfer: cached entries are reused, matching local
// candidates are adopted, and only otherwise is the resource downloaded.
package resource

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrConsumed is returned when a Downloaded file is used after its ownership
// was transferred.
var ErrConsumed = errors.New("downloaded file already moved into cache")

// Cached is a locally available copy of a remote resource.
type Cached struct {
	URI      string    `json:"uri"`
	Path     string    `json:"path"`
	SHA1     string    `json:"sha1"`
	Size     int64     `json:"size"`
	CachedAt time.Time `json:"cachedAt"`
}

// FileStore places files into a cache it owns.
type FileStore interface {
	// MoveIntoCache consumes d and returns where its content now lives. The
	// original path must not be used afterward.
	MoveIntoCache(d *Downloaded) (*Cached, error)
}

// Downloaded is a local file awaiting transfer into a FileStore. Take hands
// the path out exactly once.
type Downloaded struct {
	name string
	sha1 string
	size int64

	mu   sync.Mutex
	path string
}

// Claim wraps an existing file, computing its checksum and size. name is the
// file name the cache entry should carry.
func Claim(path, name string) (*Downloaded, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "claim downloaded file")
	}
	sum, err := SHA1File(path)
	if err != nil {
		return nil, errors.Wrap(err, "claim downloaded file")
	}
	return &Downloaded{name: name, sha1: sum, size: info.Size(), path: path}, nil
}

func (d *Downloaded) Name() string { return d.name }
func (d *Downloaded) SHA1() string { return d.sha1 }
func (d *Downloaded) Size() int64  { return d.size }

// Take transfers ownership of the file to the caller.
func (d *Downloaded) Take() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path == "" {
		return "", ErrConsumed
	}
	p := d.path
	d.path = ""
	return p, nil
}

// Discard removes the file unless it was already taken.
func (d *Downloaded) Discard() {
	if p, err := d.Take(); err == nil {
		_ = os.Remove(p)
	}
}
