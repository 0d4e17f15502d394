package resource

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"buildledger/internal/logging"
	"buildledger/internal/operation"
)

// Operation names emitted by the Accessor.
const (
	OpDownload = "Download resource"
	OpAdopt    = "Adopt local candidate"
)

// ResourceDetails is the details payload of accessor operations.
type ResourceDetails struct {
	URI       string `json:"uri"`
	Candidate string `json:"candidate,omitempty"`
}

// Options configures an Accessor. Zero values are usable.
type Options struct {
	// TempDir receives in-flight downloads. It should be on the same
	// filesystem as the stores so moves are renames.
	TempDir  string
	Listener operation.Listener
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

// Accessor resolves URIs to cached local files.
type Accessor struct {
	transport Transport
	index     Index
	tempDir   string
	listener  operation.Listener
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewAccessor(transport Transport, index Index, opts Options) *Accessor {
	a := &Accessor{
		transport: transport,
		index:     index,
		tempDir:   opts.TempDir,
		listener:  opts.Listener,
		log:       logging.OrDiscard(opts.Logger),
		now:       opts.Now,
	}
	if a.listener == nil {
		a.listener = operation.Nop{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// GetResource returns a local copy of uri, preferring in order: an existing
// cache entry, a candidate whose SHA-1 matches the remote checksum, and a
// fresh download moved into store. A resource that does not exist yields
// (nil, nil). candidates may be nil.
func (a *Accessor) GetResource(ctx context.Context, uri string, store FileStore, candidates Candidates) (*Cached, error) {
	log := a.log.WithField("uri", uri)

	cached, err := a.index.Lookup(uri)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		log.WithField("sha1", cached.SHA1).Debug("using cached resource")
		return cached, nil
	}

	if candidates != nil && !candidates.IsNone() {
		meta, err := a.transport.Metadata(ctx, uri)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			log.Debug("resource not found")
			return nil, nil
		}
		if meta.SHA1 == "" {
			log.Debug("no remote checksum; candidates skipped")
		} else if p, ok := candidates.FindBySHA1(meta.SHA1); ok {
			log.WithField("candidate", p).Info("found matching local candidate")
			return a.adopt(ctx, uri, p, store)
		}
	}

	return a.download(ctx, uri, store)
}

func (a *Accessor) adopt(ctx context.Context, uri, candidate string, store FileStore) (res *Cached, err error) {
	finish := a.begin(ctx, OpAdopt, "Adopt "+candidate+" for "+uri, ResourceDetails{URI: uri, Candidate: candidate})
	defer func() { finish(res, err) }()

	tmp, err := a.createTemp("candidate-*.part")
	if err != nil {
		return nil, errors.Wrap(err, "stage candidate")
	}
	tmpName := tmp.Name()
	src, err := os.Open(candidate)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "open candidate")
	}
	_, err = io.Copy(tmp, src)
	src.Close()
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "copy candidate")
	}
	d, err := Claim(tmpName, fileName(uri))
	if err != nil {
		os.Remove(tmpName)
		return nil, err
	}
	return a.store(uri, d, store)
}

func (a *Accessor) download(ctx context.Context, uri string, store FileStore) (res *Cached, err error) {
	finish := a.begin(ctx, OpDownload, "Download "+uri, ResourceDetails{URI: uri})
	defer func() { finish(res, err) }()

	tmp, err := a.createTemp("download-*.part")
	if err != nil {
		return nil, errors.Wrap(err, "create download file")
	}
	tmpName := tmp.Name()
	h := sha1.New()
	counter := &countingWriter{}
	found, err := a.transport.Download(ctx, uri, io.MultiWriter(tmp, h, counter))
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = &TransportError{URI: uri, Op: "write", Err: cerr}
	}
	if err != nil || !found {
		os.Remove(tmpName)
		if err == nil {
			a.log.WithField("uri", uri).Debug("resource not found")
		}
		return nil, err
	}
	d := &Downloaded{
		name: fileName(uri),
		sha1: hex.EncodeToString(h.Sum(nil)),
		size: counter.n,
		path: tmpName,
	}
	a.log.WithFields(logrus.Fields{"uri": uri, "sha1": d.sha1, "size": d.size}).Info("downloaded resource")
	return a.store(uri, d, store)
}

func (a *Accessor) store(uri string, d *Downloaded, store FileStore) (*Cached, error) {
	cached, err := store.MoveIntoCache(d)
	if err != nil {
		d.Discard()
		return nil, err
	}
	cached.URI = uri
	cached.CachedAt = a.now().UTC()
	if err := a.index.Record(*cached); err != nil {
		return nil, err
	}
	return cached, nil
}

func (a *Accessor) createTemp(pattern string) (*os.File, error) {
	if a.tempDir != "" {
		if err := os.MkdirAll(a.tempDir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.CreateTemp(a.tempDir, pattern)
}

// begin emits the start of an operation and returns the matching finish.
func (a *Accessor) begin(ctx context.Context, name, display string, details any) func(*Cached, error) {
	d := operation.Descriptor{
		ID:          operation.ID(uuid.NewString()),
		ParentID:    operation.ParentFrom(ctx),
		Name:        name,
		DisplayName: display,
		Details:     details,
	}
	a.listener.OnStart(d, operation.StartEvent{StartTime: operation.Now()})
	return func(res *Cached, err error) {
		var result any
		if res != nil {
			result = res
		}
		a.listener.OnFinish(d, operation.FinishEvent{EndTime: operation.Now(), Result: result, Failure: err})
	}
}

// fileName derives the cache file name from the last path segment of uri.
func fileName(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		return entryName(path.Base(u.Path))
	}
	return defaultEntryName
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}
