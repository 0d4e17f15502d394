package resource

import "sync"

// Candidates are local files that may substitute for a download when their
// checksum matches the remote resource.
type Candidates interface {
	IsNone() bool
	// FindBySHA1 returns the first candidate whose checksum equals sum.
	// Candidates whose checksum cannot be computed never match.
	FindBySHA1(sum string) (path string, ok bool)
}

// FileCandidates checks a fixed list of paths, hashing each lazily and at
// most once.
type FileCandidates struct {
	paths []string

	mu   sync.Mutex
	sums map[string]string
}

func NewFileCandidates(paths ...string) *FileCandidates {
	return &FileCandidates{
		paths: append([]string(nil), paths...),
		sums:  make(map[string]string),
	}
}

func (c *FileCandidates) IsNone() bool { return c == nil || len(c.paths) == 0 }

func (c *FileCandidates) FindBySHA1(sum string) (string, bool) {
	if c == nil {
		return "", false
	}
	want, ok := ParseSHA1(sum)
	if !ok {
		return "", false
	}
	for _, p := range c.paths {
		if c.sum(p) == want {
			return p, true
		}
	}
	return "", false
}

func (c *FileCandidates) sum(path string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sums[path]; ok {
		return s
	}
	s, err := SHA1File(path)
	if err != nil {
		s = ""
	}
	c.sums[path] = s
	return s
}
