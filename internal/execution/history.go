package execution

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"buildledger/internal/fsutil"
)

const historyVersion = 1

// HistoryEntry is what the last successful execution of a task left behind.
type HistoryEntry struct {
	Fingerprint string       `json:"fingerprint"`
	BuildID     string       `json:"buildId"`
	Outputs     []FileDigest `json:"outputs"`
	RecordedAt  time.Time    `json:"recordedAt"`
}

type historyFile struct {
	Version int                     `json:"version"`
	Tasks   map[string]HistoryEntry `json:"tasks"`
}

// HistoryStore persists task history under a state directory. Access is
// serialized across processes with a lock file.
type HistoryStore struct {
	path string
}

func NewHistoryStore(stateDir string) *HistoryStore {
	return &HistoryStore{path: filepath.Join(stateDir, "history.json")}
}

func (s *HistoryStore) lockPath() string { return s.path + ".lock" }

// Get returns the entry for taskPath, or nil.
func (s *HistoryStore) Get(taskPath string) (*HistoryEntry, error) {
	var found *HistoryEntry
	err := fsutil.WithLock(s.lockPath(), func() error {
		f, err := s.read()
		if err != nil {
			return err
		}
		if e, ok := f.Tasks[taskPath]; ok {
			found = &e
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read task history")
	}
	return found, nil
}

// Put replaces the entry for taskPath.
func (s *HistoryStore) Put(taskPath string, e HistoryEntry) error {
	err := fsutil.WithLock(s.lockPath(), func() error {
		f, err := s.read()
		if err != nil {
			return err
		}
		f.Tasks[taskPath] = e
		data, err := fsutil.MarshalStable(f)
		if err != nil {
			return err
		}
		return fsutil.WriteFileAtomic(s.path, data, 0o644)
	})
	return errors.Wrap(err, "write task history")
}

func (s *HistoryStore) read() (*historyFile, error) {
	f := &historyFile{Version: historyVersion, Tasks: map[string]HistoryEntry{}}
	if err := fsutil.ReadJSONStrict(s.path, f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, err
	}
	if f.Version != historyVersion {
		return nil, errors.Errorf("unsupported history version %d", f.Version)
	}
	if f.Tasks == nil {
		f.Tasks = map[string]HistoryEntry{}
	}
	return f, nil
}

// outputsMatch reports whether the outputs on disk are exactly the recorded
// ones.
func outputsMatch(baseDir string, declared []string, recorded []FileDigest) bool {
	current, err := SnapshotOutputs(baseDir, declared)
	if err != nil || len(current) != len(recorded) {
		return false
	}
	for i := range current {
		if current[i] != recorded[i] {
			return false
		}
	}
	return true
}
