package storage

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"marketplace_go/internal/ledger"
)

// Snapshot is a point-in-time capture of the ledger. Recovery loads the
// latest one and replays the WAL from Seq+1.
type Snapshot struct {
	Seq    uint64      `json:"seq"`
	TsUnix int64       `json:"ts"`
	State  ledger.Dump `json:"state"`
}

// SnapshotManager saves and loads snapshot files in one directory.
type SnapshotManager struct {
	dir string
}

func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// CreateSnapshot captures the state as of seq.
func CreateSnapshot(seq uint64, state *ledger.State) *Snapshot {
	return &Snapshot{
		Seq:    seq,
		TsUnix: time.Now().Unix(),
		State:  state.Dump(),
	}
}

// Save writes a snapshot to disk. The file is written under a temporary
// name and renamed, so a crash never leaves a truncated snapshot behind.
func (sm *SnapshotManager) Save(snap *Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	path := filepath.Join(sm.dir, fmt.Sprintf("snapshot_%d_%d.json", snap.Seq, snap.TsUnix))

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	slog.Info("Snapshot saved",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", path))
	return nil
}

type snapFile struct {
	path string
	seq  uint64
}

// list returns the snapshot files in the directory, newest first.
func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		return nil, err
	}

	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err != nil {
			continue
		}
		if filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq})
	}

	slices.SortFunc(files, func(a, b snapFile) int { return cmp.Compare(b.seq, a.seq) })
	return files, nil
}

// LoadLatest loads the most recent snapshot, or nil if there is none.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	files, err := sm.list()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Snapshot loaded",
		slog.Uint64("seq", snap.Seq),
		slog.String("path", files[0].path))
	return &snap, nil
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	if len(files) <= keepCount {
		return nil
	}

	for _, f := range files[keepCount:] {
		if err := os.Remove(f.path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", f.path))
		} else {
			slog.Info("Removed old snapshot", slog.String("path", f.path))
		}
	}
	return nil
}
