package execution

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"buildledger/internal/fsutil"
)

// CacheEntry describes task outputs stored under a fingerprint.
type CacheEntry struct {
	Fingerprint string       `json:"fingerprint"`
	BuildID     string       `json:"buildId"`
	Outputs     []FileDigest `json:"outputs"`
	StoredAt    time.Time    `json:"storedAt"`
}

// OutputCache stores task outputs by fingerprint:
//
//	{dir}/
//	  {fp[0:2]}/
//	    {fp}/
//	      manifest.json
//	      blobs/{sha256}
//
// Entries are written to a temporary directory and renamed into place, so a
// reader never sees a partial entry. When two builds store the same
// fingerprint, the first one wins.
type OutputCache struct {
	dir string
}

func NewOutputCache(dir string) *OutputCache {
	return &OutputCache{dir: dir}
}

func (c *OutputCache) entryDir(fp string) string {
	return filepath.Join(c.dir, fp[:2], fp)
}

// Load returns the entry for fp, or nil when absent.
func (c *OutputCache) Load(fp string) (*CacheEntry, error) {
	var e CacheEntry
	err := fsutil.ReadJSONStrict(filepath.Join(c.entryDir(fp), "manifest.json"), &e)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read output cache manifest")
	}
	return &e, nil
}

// Store copies the given outputs from baseDir into the cache.
func (c *OutputCache) Store(fp, buildID, baseDir string, outputs []FileDigest) error {
	final := c.entryDir(fp)
	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(err, "create output cache directory")
	}
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	tmp, err := os.MkdirTemp(parent, "tmp-entry-"+fp+"-")
	if err != nil {
		return errors.Wrap(err, "create temp cache entry")
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	blobs := filepath.Join(tmp, "blobs")
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		return errors.Wrap(err, "create blob directory")
	}
	for _, out := range outputs {
		src := filepath.Join(baseDir, filepath.FromSlash(out.Path))
		if err := copyInto(src, filepath.Join(blobs, out.SHA256)); err != nil {
			return errors.Wrapf(err, "cache output %q", out.Path)
		}
	}
	data, err := fsutil.MarshalStable(CacheEntry{
		Fingerprint: fp,
		BuildID:     buildID,
		Outputs:     outputs,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(tmp, "manifest.json"), data, 0o644); err != nil {
		return err
	}

	if err := os.Rename(tmp, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			return nil
		}
		return errors.Wrap(err, "commit output cache entry")
	}
	committed = true
	_ = fsutil.SyncDir(parent)
	return nil
}

// Restore writes the entry's outputs back under baseDir, verifying each blob
// against its recorded digest.
func (c *OutputCache) Restore(e *CacheEntry, baseDir string) error {
	blobs := filepath.Join(c.entryDir(e.Fingerprint), "blobs")
	for _, out := range e.Outputs {
		blob := filepath.Join(blobs, out.SHA256)
		sum, err := sha256File(blob)
		if err != nil {
			return errors.Wrapf(err, "read cached output %q", out.Path)
		}
		if sum != out.SHA256 {
			return errors.Errorf("cached output %q is corrupt", out.Path)
		}
		dst := filepath.Join(baseDir, filepath.FromSlash(out.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "restore output %q", out.Path)
		}
		if err := copyInto(blob, dst); err != nil {
			return errors.Wrapf(err, "restore output %q", out.Path)
		}
	}
	return nil
}

// copyInto atomically replaces dst with the content of src.
func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return fsutil.WriteAtomic(dst, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
