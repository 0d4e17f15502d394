package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ErrTransport classifies network and I/O failures while contacting a
// resource's origin.
var ErrTransport = errors.New("resource transport failure")

// TransportError wraps a transfer failure. errors.Is(err, ErrTransport)
// holds for every TransportError.
type TransportError struct {
	URI string
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Metadata describes a remote resource. SHA1 is empty when the origin does
// not publish a usable checksum.
type Metadata struct {
	SHA1 string
	Size int64
}

// Transport talks to a resource's origin. Both methods report a missing
// resource as a nil result with a nil error.
type Transport interface {
	Metadata(ctx context.Context, uri string) (*Metadata, error)
	// Download streams the resource into dst and reports whether it exists.
	Download(ctx context.Context, uri string, dst io.Writer) (bool, error)
}

// Schemes dispatches to a Transport by URI scheme.
type Schemes map[string]Transport

// DefaultTransport serves http, https and file URIs.
func DefaultTransport(timeout time.Duration) Schemes {
	h := NewHTTPTransport(timeout)
	return Schemes{"http": h, "https": h, "file": FileTransport{}}
}

func (s Schemes) pick(uri string) (Transport, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &TransportError{URI: uri, Op: "parse", Err: err}
	}
	t, ok := s[u.Scheme]
	if !ok {
		return nil, &TransportError{URI: uri, Op: "resolve", Err: errors.Errorf("unsupported scheme %q", u.Scheme)}
	}
	return t, nil
}

func (s Schemes) Metadata(ctx context.Context, uri string) (*Metadata, error) {
	t, err := s.pick(uri)
	if err != nil {
		return nil, err
	}
	return t.Metadata(ctx, uri)
}

func (s Schemes) Download(ctx context.Context, uri string, dst io.Writer) (bool, error) {
	t, err := s.pick(uri)
	if err != nil {
		return false, err
	}
	return t.Download(ctx, uri, dst)
}

// HTTPTransport fetches over HTTP. The checksum of <uri> is read from the
// sidecar <uri>.sha1. Metadata reports an empty SHA1 when the sidecar cannot
// be read for any reason, and an empty Metadata when the origin rejects HEAD
// with a status other than 404, so callers fall back to downloading.
type HTTPTransport struct {
	Client *http.Client
}

func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) client() *http.Client {
	if t.Client == nil {
		return http.DefaultClient
	}
	return t.Client
}

func (t *HTTPTransport) Metadata(ctx context.Context, uri string) (*Metadata, error) {
	resp, err := t.do(ctx, http.MethodHead, uri)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode/100 != 2 {
		return &Metadata{}, nil
	}
	meta := &Metadata{Size: resp.ContentLength}

	sidecar, err := t.do(ctx, http.MethodGet, uri+".sha1")
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return meta, nil
	}
	defer sidecar.Body.Close()
	if sidecar.StatusCode/100 != 2 {
		return meta, nil
	}
	body, err := io.ReadAll(io.LimitReader(sidecar.Body, 1024))
	if err != nil {
		return meta, nil
	}
	if sum, ok := ParseSHA1(string(body)); ok {
		meta.SHA1 = sum
	}
	return meta, nil
}

func (t *HTTPTransport) Download(ctx context.Context, uri string, dst io.Writer) (bool, error) {
	resp, err := t.do(ctx, http.MethodGet, uri)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode/100 != 2 {
		return false, &TransportError{URI: uri, Op: "GET", Err: errors.Errorf("unexpected status %s", resp.Status)}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return false, &TransportError{URI: uri, Op: "GET", Err: err}
	}
	return true, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, &TransportError{URI: uri, Op: method, Err: err}
	}
	resp, err := t.client().Do(req)
	if err != nil {
		return nil, &TransportError{URI: uri, Op: method, Err: err}
	}
	return resp, nil
}

// FileTransport reads file:// URIs. A sibling <path>.sha1 supplies the
// checksum when present.
type FileTransport struct{}

func filePath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme != "file" {
		return "", errors.Errorf("not a file uri: %s", uri)
	}
	return u.Path, nil
}

func (FileTransport) Metadata(ctx context.Context, uri string) (*Metadata, error) {
	p, err := filePath(uri)
	if err != nil {
		return nil, &TransportError{URI: uri, Op: "stat", Err: err}
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &TransportError{URI: uri, Op: "stat", Err: err}
	}
	meta := &Metadata{Size: info.Size()}
	if text, err := os.ReadFile(p + ".sha1"); err == nil {
		if sum, ok := ParseSHA1(string(text)); ok {
			meta.SHA1 = sum
		}
	}
	return meta, nil
}

func (FileTransport) Download(ctx context.Context, uri string, dst io.Writer) (bool, error) {
	p, err := filePath(uri)
	if err != nil {
		return false, &TransportError{URI: uri, Op: "open", Err: err}
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &TransportError{URI: uri, Op: "open", Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(dst, f); err != nil {
		return false, &TransportError{URI: uri, Op: "read", Err: err}
	}
	return true, nil
}
