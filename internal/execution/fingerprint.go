package execution

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// FileDigest is a file path relative to the work directory, in slash form,
// with the SHA-256 of its content.
type FileDigest struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// ResolveInputs expands patterns relative to baseDir into a sorted,
// de-duplicated list of files. Directories are skipped; a literal path that
// does not exist matches nothing.
func ResolveInputs(baseDir string, patterns []string) ([]FileDigest, error) {
	set := make(map[string]struct{})
	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, errors.Wrapf(err, "expand input pattern %q", pattern)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, errors.Wrapf(err, "stat input %q", m)
			}
			if info.IsDir() {
				continue
			}
			set[m] = struct{}{}
		}
	}

	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return digestFiles(baseDir, paths)
}

// SnapshotOutputs digests the declared outputs. Directories contribute every
// regular file beneath them. A missing output is an error.
func SnapshotOutputs(baseDir string, outputs []string) ([]FileDigest, error) {
	var paths []string
	for _, out := range outputs {
		full := out
		if !filepath.IsAbs(full) {
			full = filepath.Join(baseDir, out)
		}
		info, err := os.Stat(full)
		if err != nil {
			return nil, errors.Wrapf(err, "output %q", out)
		}
		if !info.IsDir() {
			paths = append(paths, full)
			continue
		}
		err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "walk output %q", out)
		}
	}
	sort.Strings(paths)
	return digestFiles(baseDir, dedupSorted(paths))
}

func dedupSorted(in []string) []string {
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

func digestFiles(baseDir string, paths []string) ([]FileDigest, error) {
	out := make([]FileDigest, 0, len(paths))
	for _, p := range paths {
		sum, err := sha256File(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read %q", p)
		}
		out = append(out, FileDigest{Path: relSlash(baseDir, p), SHA256: sum})
	}
	return out, nil
}

func relSlash(baseDir, p string) string {
	if rel, err := filepath.Rel(baseDir, p); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(p)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint identifies one execution of a task: its path, actions,
// environment, declared outputs and input contents. Every field is length
// prefixed, so distinct definitions never collide by concatenation.
func Fingerprint(def Definition, inputs []FileDigest) string {
	h := sha256.New()
	w := fieldWriter{h: h}

	w.str(def.Path)

	w.count(len(def.Actions))
	for _, a := range def.Actions {
		w.str(string(a.Kind))
		w.str(a.Command)
		w.str(a.URI)
		w.str(a.Dest)
	}

	keys := make([]string, 0, len(def.Env))
	for k := range def.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.count(len(keys))
	for _, k := range keys {
		w.str(k)
		w.str(def.Env[k])
	}

	outs := append([]string(nil), def.Outputs...)
	sort.Strings(outs)
	w.count(len(outs))
	for _, o := range outs {
		w.str(o)
	}

	w.count(len(inputs))
	for _, in := range inputs {
		w.str(in.Path)
		w.str(in.SHA256)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type fieldWriter struct {
	h hash.Hash
}

func (w fieldWriter) str(s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	w.h.Write(n[:])
	w.h.Write([]byte(s))
}

func (w fieldWriter) count(c int) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(c))
	w.h.Write(n[:])
}
