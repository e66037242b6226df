package storage

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribefs/scribefs/pkg/wire"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	engine, err := NewEngine(store, NewReplicator(time.Second, nil))
	require.NoError(t, err)
	return engine
}

func opStatus(t *testing.T, err error) wire.Status {
	t.Helper()
	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	return opErr.Status
}

func TestCreateWriteReadFlow(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))

	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	content, err := e.Write("doc.txt", 0, "alice", "1 Hello world.")
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", content)
	require.NoError(t, e.Unlock("doc.txt", 0, "alice"))

	got, err := e.Read("doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", got)
}

func TestWriteMultiWordPhraseInserts(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	_, err := e.Write("doc.txt", 0, "alice", "1 Hello world.")
	require.NoError(t, err)

	content, err := e.Write("doc.txt", 0, "alice", "2 cruel\n3 happy")
	require.NoError(t, err)
	assert.Equal(t, "Hello cruel happy world.", content)
}

func TestLockNewSentenceRequiresTerminator(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))

	// Empty file counts as terminated, so index 0 locks.
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	_, err := e.Write("doc.txt", 0, "alice", "1 Hi")
	require.NoError(t, err)

	// "Hi" has no terminator: a new sentence cannot be started.
	err = e.Lock("doc.txt", 1, "alice", 1)
	require.Error(t, err)
	assert.Equal(t, wire.StatusInvalidIndex, opStatus(t, err))
	assert.Contains(t, err.Error(), "0-0 allowed")

	// Terminate sentence 0, then index 1 becomes lockable.
	_, err = e.Write("doc.txt", 0, "alice", "2 .")
	require.NoError(t, err)
	require.NoError(t, e.Lock("doc.txt", 1, "alice", 1))
}

func TestLockContention(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))

	var mu sync.Mutex
	granted := 0
	var wg sync.WaitGroup
	users := []string{"alice", "bob"}
	for i, user := range users {
		wg.Add(1)
		go func(user string, connID uint64) {
			defer wg.Done()
			if err := e.Lock("doc.txt", 0, user, connID); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(user, uint64(i+1))
	}
	wg.Wait()
	assert.Equal(t, 1, granted, "exactly one lock winner")

	owner, held := e.LockOwner("doc.txt", 0)
	require.True(t, held)

	loser := "alice"
	if owner == "alice" {
		loser = "bob"
	}
	_, err := e.Write("doc.txt", 0, loser, "1 hijack")
	require.Error(t, err)
	assert.Equal(t, wire.StatusSentenceLocked, opStatus(t, err))
}

func TestLockIdempotentForSameUser(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 2))
}

func TestUnlockOwnerOnly(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))

	err := e.Unlock("doc.txt", 0, "bob")
	require.Error(t, err)
	assert.Equal(t, wire.StatusAccessDenied, opStatus(t, err))

	err = e.Unlock("doc.txt", 5, "alice")
	require.Error(t, err)
	assert.Equal(t, wire.StatusAccessDenied, opStatus(t, err))

	require.NoError(t, e.Unlock("doc.txt", 0, "alice"))
}

func TestUndoRestoresPreWriteContent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	_, err := e.Write("doc.txt", 0, "alice", "1 First version.")
	require.NoError(t, err)
	_, err = e.Write("doc.txt", 0, "alice", "2 extra")
	require.NoError(t, err)

	restored, err := e.Undo("doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "First version.", restored)

	// Second undo with no intervening write reports NO_UNDO.
	_, err = e.Undo("doc.txt")
	require.Error(t, err)
	assert.Equal(t, wire.StatusNoUndo, opStatus(t, err))
}

func TestFailedWriteKeepsUndoSnapshot(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	_, err := e.Write("doc.txt", 0, "alice", "1 Original.")
	require.NoError(t, err)

	// The bad index aborts before save, but the snapshot taken at entry
	// stays populated.
	_, err = e.Write("doc.txt", 0, "alice", "99 nope")
	require.Error(t, err)
	assert.Equal(t, wire.StatusInvalidIndex, opStatus(t, err))

	restored, err := e.Undo("doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "Original.", restored)
}

func TestWriteWithoutLockRejected(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	_, err := e.Write("doc.txt", 0, "alice", "1 sneaky")
	require.Error(t, err)
	assert.Equal(t, wire.StatusSentenceLocked, opStatus(t, err))
}

func TestCheckpointRevert(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 1))
	_, err := e.Write("doc.txt", 0, "alice", "1 Before changes.")
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint("doc.txt", "v1"))
	_, err = e.Write("doc.txt", 0, "alice", "2 unwanted")
	require.NoError(t, err)

	content, err := e.Revert("doc.txt", "v1")
	require.NoError(t, err)
	assert.Equal(t, "Before changes.", content)

	got, err := e.Read("doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "Before changes.", got)

	_, err = e.Revert("doc.txt", "missing")
	require.Error(t, err)
	assert.Equal(t, wire.StatusFileNotFound, opStatus(t, err))
}

func TestMoveRenamesEntry(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	newPath, err := e.Move("doc.txt", "archive/doc.txt", true)
	require.NoError(t, err)
	assert.Equal(t, "archive/doc.txt", newPath)

	require.NoError(t, e.Lock("archive/doc.txt", 0, "alice", 1))
	_, err = e.Read("doc.txt")
	require.Error(t, err)
}

func TestReleaseConnectionDropsLocks(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Create("doc.txt", false))
	require.NoError(t, e.Create("other.txt", false))
	require.NoError(t, e.Lock("doc.txt", 0, "alice", 7))
	require.NoError(t, e.Lock("other.txt", 0, "alice", 7))

	e.ReleaseConnection(7)

	_, held := e.LockOwner("doc.txt", 0)
	assert.False(t, held)
	_, held = e.LockOwner("other.txt", 0)
	assert.False(t, held)

	// Freed index is immediately lockable by someone else.
	require.NoError(t, e.Lock("doc.txt", 0, "bob", 8))
}

// fakePartner captures replication frames on a real listener.
type fakePartner struct {
	addr   string
	frames chan *wire.Message
}

func startFakePartner(t *testing.T) *fakePartner {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	p := &fakePartner{addr: ln.Addr().String(), frames: make(chan *wire.Message, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				msg, err := wire.ReadMessage(conn)
				if err != nil {
					return
				}
				p.frames <- msg
				_ = wire.WriteMessage(conn, msg.Reply(wire.StatusOK, ""))
			}(conn)
		}
	}()
	return p
}

func TestReplicationFanOut(t *testing.T) {
	partner := startFakePartner(t)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	repl := NewReplicator(time.Second, nil)
	repl.SetPartner(partner.addr)
	e, err := NewEngine(store, repl)
	require.NoError(t, err)

	require.NoError(t, e.Create("doc.txt", false))
	select {
	case frame := <-partner.frames:
		assert.Equal(t, wire.OpReplCreate, frame.Op)
		assert.Equal(t, "doc.txt", frame.Filename)
		assert.True(t, frame.IsReplication())
	case <-time.After(2 * time.Second):
		t.Fatal("expected a replication frame")
	}
}

func TestReplicatedMutationsNeverReFan(t *testing.T) {
	partner := startFakePartner(t)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	repl := NewReplicator(time.Second, nil)
	repl.SetPartner(partner.addr)
	e, err := NewEngine(store, repl)
	require.NoError(t, err)

	// Mutations arriving as replication must not fan out again.
	require.NoError(t, e.Create("doc.txt", true))
	require.NoError(t, e.ApplyReplicatedWrite("doc.txt", "mirrored."))
	require.NoError(t, e.Delete("doc.txt", true))

	select {
	case frame := <-partner.frames:
		t.Fatalf("unexpected replication frame %s", frame.Op)
	case <-time.After(300 * time.Millisecond):
	}
}
