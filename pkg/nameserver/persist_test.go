package nameserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDataFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nm_data.dat")
}

func TestSnapshotRoundTrip(t *testing.T) {
	dataFile := tempDataFile(t)

	r := NewRegistry(dataFile)
	eps := seedServers(t, r, 2)
	r.RegisterClient("alice", "127.0.0.1")
	r.RegisterClient("bob", "127.0.0.1")
	if err := r.CreateFile("doc.txt", "alice", eps[0], &eps[1]); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := r.AddAccess("doc.txt", "alice", "bob", AccessRead); err != nil {
		t.Fatalf("AddAccess: %v", err)
	}
	if err := r.RequestAccess("doc.txt", "bob", AccessWrite); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	r.UpdateCounters("doc.txt", 12, 2, 12)
	r.Touch("doc.txt", "bob")

	loaded := NewRegistry(dataFile)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	view, ok := loaded.GetFile("doc.txt")
	if !ok {
		t.Fatal("file record lost across restart")
	}
	if view.Owner != "alice" {
		t.Fatalf("owner = %q; want alice", view.Owner)
	}
	if view.AccessFor("bob") != AccessRead {
		t.Fatalf("bob access = %v; want READ", view.AccessFor("bob"))
	}
	if view.Pending["bob"] != AccessWrite {
		t.Fatalf("pending = %v; want bob WRITE", view.Pending)
	}
	if view.Size != 12 || view.WordCount != 2 || view.CharCount != 12 {
		t.Fatalf("counters = %d/%d/%d", view.Size, view.WordCount, view.CharCount)
	}
	if view.LastAccessedBy != "bob" {
		t.Fatalf("last accessed by = %q; want bob", view.LastAccessedBy)
	}
	if !view.HasPrimary || view.Primary.ID != eps[0].ID {
		t.Fatalf("primary = %+v", view.Primary)
	}
	if !view.HasReplica || view.Replica.ID != eps[1].ID {
		t.Fatalf("replica = %+v", view.Replica)
	}

	// Liveness is never trusted from disk.
	for _, ss := range loaded.Servers() {
		if ss.Active {
			t.Fatalf("loaded server %d must start inactive", ss.ID)
		}
	}
	// Claimed lists are rebuilt from placements.
	for _, id := range []int{eps[0].ID, eps[1].ID} {
		claimed := loaded.ClaimedFiles(id)
		if len(claimed) != 1 || claimed[0] != "doc.txt" {
			t.Fatalf("ss%d claimed = %v", id, claimed)
		}
	}
	checkConsistency(t, loaded)
}

func TestLoadMissingSnapshotIsNoop(t *testing.T) {
	r := NewRegistry(tempDataFile(t))
	if err := r.Load(); err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if r.FileCount() != 0 {
		t.Fatal("registry should start empty")
	}
}

func TestLoadCorruptSnapshotResets(t *testing.T) {
	dataFile := tempDataFile(t)
	if err := os.WriteFile(dataFile, []byte("not a snapshot"), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	r := NewRegistry(dataFile)
	if err := r.Load(); err != nil {
		t.Fatalf("Load of corrupt file: %v", err)
	}
	if r.FileCount() != 0 || len(r.Servers()) != 0 {
		t.Fatal("corrupt snapshot must reset to empty")
	}

	// The reset is written back, so the next start loads cleanly.
	again := NewRegistry(dataFile)
	if err := again.Load(); err != nil {
		t.Fatalf("Load of rewritten file: %v", err)
	}
}

func TestLoadTruncatedSnapshotResets(t *testing.T) {
	dataFile := tempDataFile(t)
	r := NewRegistry(dataFile)
	eps := seedServers(t, r, 1)
	if err := r.CreateFile("doc.txt", "alice", eps[0], nil); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	data, err := os.ReadFile(dataFile)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if err := os.WriteFile(dataFile, data[:len(data)/2], 0644); err != nil {
		t.Fatalf("truncate snapshot: %v", err)
	}

	loaded := NewRegistry(dataFile)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FileCount() != 0 {
		t.Fatal("truncated snapshot must reset to empty")
	}
}

func TestLoadCollapsesDuplicateFilenames(t *testing.T) {
	dataFile := tempDataFile(t)
	r := NewRegistry(dataFile)
	eps := seedServers(t, r, 1)
	if err := r.CreateFile("doc.txt", "alice", eps[0], nil); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Force a duplicate record into the snapshot; the API cannot produce
	// one, but a hand-edited or merged data file can.
	r.mu.Lock()
	dup := *r.files[0]
	dup.Owner = "bob"
	r.files = append(r.files, &dup)
	if err := r.saveLocked(); err != nil {
		r.mu.Unlock()
		t.Fatalf("saveLocked: %v", err)
	}
	r.mu.Unlock()

	loaded := NewRegistry(dataFile)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.FileCount() != 1 {
		t.Fatalf("FileCount = %d; want 1", loaded.FileCount())
	}
	view, _ := loaded.GetFile("doc.txt")
	if view.Owner != "alice" {
		t.Fatalf("owner = %q; first record must win", view.Owner)
	}
	checkConsistency(t, loaded)
}

func TestLoadClampsBadPlacements(t *testing.T) {
	dataFile := tempDataFile(t)
	r := NewRegistry(dataFile)
	eps := seedServers(t, r, 1)
	if err := r.CreateFile("doc.txt", "alice", eps[0], nil); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	r.mu.Lock()
	r.files[0].PrimaryID = 42
	r.files[0].ReplicaID = 42
	if err := r.saveLocked(); err != nil {
		r.mu.Unlock()
		t.Fatalf("saveLocked: %v", err)
	}
	r.mu.Unlock()

	loaded := NewRegistry(dataFile)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	view, ok := loaded.GetFile("doc.txt")
	if !ok {
		t.Fatal("file record lost")
	}
	if view.HasPrimary || view.HasReplica {
		t.Fatalf("out-of-range placements must clamp to unset: %+v", view)
	}
}

func TestLoadRepairsZeroTimestamps(t *testing.T) {
	dataFile := tempDataFile(t)
	r := NewRegistry(dataFile)
	eps := seedServers(t, r, 1)
	if err := r.CreateFile("doc.txt", "alice", eps[0], nil); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	r.mu.Lock()
	r.files[0].Created = time.Unix(0, 0)
	r.files[0].Modified = time.Unix(-1, 0)
	if err := r.saveLocked(); err != nil {
		r.mu.Unlock()
		t.Fatalf("saveLocked: %v", err)
	}
	r.mu.Unlock()

	before := time.Now().Add(-time.Minute)
	loaded := NewRegistry(dataFile)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	view, _ := loaded.GetFile("doc.txt")
	if view.Created.Before(before) || view.Modified.Before(before) {
		t.Fatalf("zero timestamps must repair to load time: created=%v modified=%v", view.Created, view.Modified)
	}
}

func TestSnapshotIsAtomic(t *testing.T) {
	dataFile := tempDataFile(t)
	r := NewRegistry(dataFile)
	seedServers(t, r, 2)

	entries, err := os.ReadDir(filepath.Dir(dataFile))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(dataFile) {
			t.Fatalf("unexpected leftover %q", e.Name())
		}
	}
}
