package storage

import (
	"os"
	"path/filepath"
	"testing"

	"marketplace_go/internal/domain"
	"marketplace_go/internal/ledger"
)

func TestSnapshot_SaveAndLoad(t *testing.T) {
	sm := NewSnapshotManager(filepath.Join(t.TempDir(), "snapshots"))

	var alice, asset domain.Pubkey
	alice[0], asset[0] = 1, 2

	state := ledger.NewState()
	tx := state.Begin()
	tx.Deposit(alice, 1234)
	tx.MintAsset(domain.Asset{ID: asset, Name: "a", Creator: alice}, alice)
	tx.Commit()
	state.AdvanceNonce(alice)

	if err := sm.Save(CreateSnapshot(100, state)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected snapshot, got nil")
	}
	if loaded.Seq != 100 {
		t.Errorf("Expected seq 100, got %d", loaded.Seq)
	}

	restored := ledger.Restore(loaded.State)
	if restored.Lamports(alice) != 1234 {
		t.Errorf("lamports mismatch: %d", restored.Lamports(alice))
	}
	if restored.Holding(alice, asset) != 1 {
		t.Error("holding lost")
	}
	if restored.Nonce(alice) != 1 {
		t.Errorf("nonce mismatch: %d", restored.Nonce(alice))
	}
}

func TestSnapshot_LoadLatest_MultipleSnapshots(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)

	for _, seq := range []uint64{10, 50, 30} {
		if err := sm.Save(&Snapshot{Seq: seq, TsUnix: int64(seq)}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	// Leftover from an interrupted write; must be ignored.
	os.WriteFile(filepath.Join(dir, "snapshot_99_99.json.tmp"), []byte("{"), 0644)

	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if loaded.Seq != 50 {
		t.Errorf("Expected latest seq 50, got %d", loaded.Seq)
	}
}

func TestSnapshot_LoadLatest_Empty(t *testing.T) {
	sm := NewSnapshotManager(filepath.Join(t.TempDir(), "missing"))
	loaded, err := sm.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest on missing dir failed: %v", err)
	}
	if loaded != nil {
		t.Error("expected nil snapshot")
	}
}

func TestSnapshot_Cleanup(t *testing.T) {
	dir := t.TempDir()
	sm := NewSnapshotManager(dir)

	for _, seq := range []uint64{10, 20, 30, 40, 50} {
		sm.Save(&Snapshot{Seq: seq, TsUnix: 1})
	}
	if err := sm.Cleanup(2); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	files, _ := sm.list()
	if len(files) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(files))
	}
	if files[0].seq != 50 || files[1].seq != 40 {
		t.Errorf("wrong snapshots kept: %d, %d", files[0].seq, files[1].seq)
	}
}
