package nameserver

import (
	"testing"
	"time"
)

func seedServers(t *testing.T, r *Registry, n int) []SSEndpoint {
	t.Helper()
	eps := make([]SSEndpoint, 0, n)
	for i := 0; i < n; i++ {
		ep, _, err := r.RegisterSS("127.0.0.1", 9000+i*2, 9001+i*2)
		if err != nil {
			t.Fatalf("RegisterSS: %v", err)
		}
		eps = append(eps, ep)
	}
	return eps
}

func TestRegisterSSStableID(t *testing.T) {
	r := NewRegistry("")
	ep1, wasInactive, err := r.RegisterSS("127.0.0.1", 9000, 9001)
	if err != nil || wasInactive {
		t.Fatalf("first registration: ep=%v wasInactive=%v err=%v", ep1, wasInactive, err)
	}

	r.SetSSActive(ep1.ID, false)
	ep2, wasInactive, err := r.RegisterSS("127.0.0.1", 9000, 9001)
	if err != nil {
		t.Fatalf("re-registration: %v", err)
	}
	if ep2.ID != ep1.ID {
		t.Fatalf("id changed on re-registration: %d != %d", ep2.ID, ep1.ID)
	}
	if !wasInactive {
		t.Fatal("re-registration of an inactive server must report wasInactive")
	}

	ep3, _, err := r.RegisterSS("127.0.0.1", 9100, 9101)
	if err != nil {
		t.Fatalf("second server: %v", err)
	}
	if ep3.ID == ep1.ID {
		t.Fatal("distinct triples must get distinct ids")
	}
}

// checkConsistency verifies that the trie, the files slice, and the
// claimed-file lists all name the same set.
func checkConsistency(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, f := range r.files {
		idx, ok := r.index.Lookup(f.Filename)
		if !ok || idx != i {
			t.Fatalf("trie out of sync for %q: idx=%d ok=%v want %d", f.Filename, idx, ok, i)
		}
		for _, id := range []int{f.PrimaryID, f.ReplicaID} {
			if id < 0 {
				continue
			}
			found := false
			for _, claimed := range r.servers[id].Claimed {
				if claimed == f.Filename {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("ss%d claimed list missing %q", id, f.Filename)
			}
		}
	}
	for _, ss := range r.servers {
		for _, claimed := range ss.Claimed {
			if _, ok := r.index.Lookup(claimed); !ok {
				t.Fatalf("ss%d claims unknown file %q", ss.ID, claimed)
			}
		}
	}
}

func TestCreatePurgeConsistency(t *testing.T) {
	r := NewRegistry("")
	eps := seedServers(t, r, 3)

	names := []string{"a.txt", "b.txt", "c.txt", "d.txt"}
	for i, name := range names {
		primary := eps[i%3]
		replica := eps[(i+1)%3]
		if err := r.CreateFile(name, "alice", primary, &replica); err != nil {
			t.Fatalf("CreateFile(%q): %v", name, err)
		}
	}
	checkConsistency(t, r)

	if err := r.CreateFile("a.txt", "bob", eps[0], nil); err != ErrFileExists {
		t.Fatalf("duplicate create: %v, want ErrFileExists", err)
	}

	// Purge from the middle exercises swap-with-last and trie reindex.
	r.PurgeFile("b.txt")
	checkConsistency(t, r)
	if _, ok := r.GetFile("b.txt"); ok {
		t.Fatal("purged file still resolves")
	}
	if r.FileCount() != 3 {
		t.Fatalf("FileCount = %d; want 3", r.FileCount())
	}
	if r.cacheLen() != 0 {
		t.Fatal("purge must flush the cache")
	}

	r.PurgeFile("a.txt")
	r.PurgeFile("c.txt")
	r.PurgeFile("d.txt")
	checkConsistency(t, r)
	if r.FileCount() != 0 {
		t.Fatalf("FileCount = %d; want 0", r.FileCount())
	}
}

func TestRenameFile(t *testing.T) {
	r := NewRegistry("")
	eps := seedServers(t, r, 2)
	if err := r.CreateFile("doc.txt", "alice", eps[0], &eps[1]); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	if err := r.RenameFile("doc.txt", "archive/doc.txt"); err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	checkConsistency(t, r)
	if _, ok := r.GetFile("doc.txt"); ok {
		t.Fatal("old name still resolves")
	}
	view, ok := r.GetFile("archive/doc.txt")
	if !ok || view.Owner != "alice" {
		t.Fatalf("renamed record lost: ok=%v view=%+v", ok, view)
	}

	if err := r.RenameFile("missing.txt", "x"); err != ErrFileNotFound {
		t.Fatalf("rename missing: %v, want ErrFileNotFound", err)
	}
}

func TestAccessWorkflow(t *testing.T) {
	r := NewRegistry("")
	eps := seedServers(t, r, 1)
	r.RegisterClient("alice", "127.0.0.1")
	r.RegisterClient("bob", "127.0.0.1")
	if err := r.CreateFile("doc.txt", "alice", eps[0], nil); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	// Owner-only enforcement.
	if err := r.AddAccess("doc.txt", "bob", "bob", AccessRead); err != ErrNotOwner {
		t.Fatalf("AddAccess by non-owner: %v, want ErrNotOwner", err)
	}
	if err := r.AddAccess("doc.txt", "alice", "ghost", AccessRead); err != ErrUserNotFound {
		t.Fatalf("AddAccess unknown user: %v, want ErrUserNotFound", err)
	}

	if err := r.AddAccess("doc.txt", "alice", "bob", AccessRead); err != nil {
		t.Fatalf("AddAccess: %v", err)
	}
	view, _ := r.GetFile("doc.txt")
	if view.AccessFor("bob") != AccessRead {
		t.Fatalf("bob access = %v; want READ", view.AccessFor("bob"))
	}
	if view.AccessFor("alice") != AccessWrite {
		t.Fatal("owner access must derive to WRITE")
	}

	// Requesting a level already held is rejected, keeping pending
	// disjoint from granted.
	if err := r.RequestAccess("doc.txt", "bob", AccessRead); err != ErrAlreadyGranted {
		t.Fatalf("RequestAccess for held level: %v, want ErrAlreadyGranted", err)
	}
	if err := r.RequestAccess("doc.txt", "bob", AccessWrite); err != nil {
		t.Fatalf("RequestAccess WRITE: %v", err)
	}

	pending, err := r.PendingRequests("doc.txt", "alice")
	if err != nil || pending["bob"] != AccessWrite {
		t.Fatalf("PendingRequests = %v, %v", pending, err)
	}

	level, err := r.ResolveRequest("doc.txt", "alice", "bob", true)
	if err != nil || level != AccessWrite {
		t.Fatalf("ResolveRequest = %v, %v", level, err)
	}
	view, _ = r.GetFile("doc.txt")
	if view.AccessFor("bob") != AccessWrite {
		t.Fatal("approval must grant the requested level")
	}
	if len(view.Pending) != 0 {
		t.Fatal("approved request must leave the pending set")
	}

	if _, err := r.ResolveRequest("doc.txt", "alice", "bob", true); err != ErrNoPending {
		t.Fatalf("resolve without request: %v, want ErrNoPending", err)
	}

	if err := r.RemoveAccess("doc.txt", "alice", "bob"); err != nil {
		t.Fatalf("RemoveAccess: %v", err)
	}
	view, _ = r.GetFile("doc.txt")
	if view.AccessFor("bob") != AccessNone {
		t.Fatal("revoked access must resolve to NONE")
	}
}

func TestRecents(t *testing.T) {
	r := NewRegistry("")
	eps := seedServers(t, r, 1)
	r.RegisterClient("alice", "127.0.0.1")
	r.RegisterClient("bob", "127.0.0.1")

	base := time.Now()
	step := 0
	r.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	for _, name := range []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt", "g.txt"} {
		if err := r.CreateFile(name, "alice", eps[0], nil); err != nil {
			t.Fatalf("CreateFile(%q): %v", name, err)
		}
	}
	r.Touch("b.txt", "alice")

	recents := r.Recents("alice", 5)
	if len(recents) != 5 {
		t.Fatalf("Recents returned %d names; want 5", len(recents))
	}
	if recents[0] != "b.txt" {
		t.Fatalf("most recent = %q; want b.txt", recents[0])
	}

	// bob reads nothing, so nothing is recent for bob.
	if got := r.Recents("bob", 5); len(got) != 0 {
		t.Fatalf("Recents for bob = %v; want empty", got)
	}
}

func TestClientRoster(t *testing.T) {
	r := NewRegistry("")
	r.RegisterClient("alice", "10.0.0.1")
	r.RegisterClient("alice", "10.0.0.2")
	r.RegisterClient("bob", "10.0.0.3")

	clients := r.Clients()
	if len(clients) != 2 {
		t.Fatalf("Clients = %v; usernames must be singletons", clients)
	}

	r.SetClientActive("alice", false)
	for _, c := range r.Clients() {
		if c.Username == "alice" && c.Active {
			t.Fatal("alice should be inactive")
		}
	}
}
