package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/scribefs/scribefs/pkg/sentence"
	"github.com/scribefs/scribefs/pkg/wire"
)

const maxLocksPerFile = 100

// OpError carries the protocol status for a failed operation alongside the
// human-readable message sent back on the wire.
type OpError struct {
	Status wire.Status
	Msg    string
}

func (e *OpError) Error() string { return e.Msg }

func failf(status wire.Status, format string, args ...any) *OpError {
	return &OpError{Status: status, Msg: fmt.Sprintf(format, args...)}
}

type sentenceLock struct {
	Index  int
	Owner  string
	ConnID uint64
}

// fileEntry is the in-memory state for one stored file. The entry mutex
// serializes every content mutation and lock-table change for the file.
type fileEntry struct {
	mu      sync.Mutex
	locks   []sentenceLock
	undo    string
	hasUndo bool
}

// Engine is the storage server's state table: filename to entry. The
// engine mutex guards only entry allocation and lookup; per-file work runs
// under the entry mutex.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*fileEntry
	store   *Store
	repl    *Replicator
}

// NewEngine scans the store and repopulates the state table so existing
// files accept locks immediately after a restart.
func NewEngine(store *Store, repl *Replicator) (*Engine, error) {
	e := &Engine{entries: make(map[string]*fileEntry), store: store, repl: repl}
	names, err := store.ScanFiles()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		e.entries[name] = &fileEntry{}
	}
	return e, nil
}

// FileCount returns the number of tracked files.
func (e *Engine) FileCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) entry(name string, create bool) (*fileEntry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[name]
	if !ok && create {
		entry = &fileEntry{}
		e.entries[name] = entry
		ok = true
	}
	return entry, ok
}

func (e *Engine) dropEntry(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, name)
}

func (e *Engine) renameEntry(oldName, newName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[oldName]; ok {
		delete(e.entries, oldName)
		e.entries[newName] = entry
	}
}

func mapStoreErr(name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return failf(wire.StatusFileNotFound, "%s not found", name)
	case errors.Is(err, fs.ErrExist):
		return failf(wire.StatusFileExists, "%s already exists", name)
	case errors.Is(err, errBadPath):
		return failf(wire.StatusInvalidCommand, "%v", err)
	default:
		return failf(wire.StatusServerError, "%v", err)
	}
}

// Create makes an empty file. replicated suppresses the partner fan-out.
func (e *Engine) Create(name string, replicated bool) error {
	if err := e.store.Create(name); err != nil {
		return mapStoreErr(name, err)
	}
	e.entry(name, true)
	if !replicated {
		e.repl.Replicate(wire.OpReplCreate, name, "")
	}
	return nil
}

// Delete removes a file, its entry, and any locks with it.
func (e *Engine) Delete(name string, replicated bool) error {
	if err := e.store.Delete(name); err != nil {
		return mapStoreErr(name, err)
	}
	e.dropEntry(name)
	if !replicated {
		e.repl.Replicate(wire.OpReplDelete, name, "")
	}
	return nil
}

// Read returns the current content.
func (e *Engine) Read(name string) (string, error) {
	content, err := e.store.Read(name)
	if err != nil {
		return "", mapStoreErr(name, err)
	}
	return content, nil
}

// lockBoundsMsg renders the INVALID_INDEX message for the current content:
// the highest lockable index is the sentence count only when a new sentence
// may be started.
func lockBoundsMsg(content string) string {
	n := sentence.Count(content)
	max := n - 1
	if sentence.EndsTerminated(content) {
		max = n
	}
	if max < 0 {
		max = 0
	}
	return fmt.Sprintf("sentence index out of range (0-%d allowed)", max)
}

// Lock reserves a sentence for user. Index N (one past the last sentence)
// is valid only when the content ends with a terminator or is empty.
// Re-locking one's own index is idempotent.
func (e *Engine) Lock(name string, idx int, user string, connID uint64) error {
	entry, ok := e.entry(name, false)
	if !ok {
		return failf(wire.StatusFileNotFound, "%s not found", name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	content, err := e.store.Read(name)
	if err != nil {
		return mapStoreErr(name, err)
	}
	n := sentence.Count(content)
	if idx < 0 || idx > n || (idx == n && !sentence.EndsTerminated(content)) {
		return failf(wire.StatusInvalidIndex, "%s", lockBoundsMsg(content))
	}

	for _, l := range entry.locks {
		if l.Index == idx {
			if l.Owner == user {
				return nil
			}
			return failf(wire.StatusSentenceLocked, "sentence %d is locked by %s", idx, l.Owner)
		}
	}
	if len(entry.locks) >= maxLocksPerFile {
		return failf(wire.StatusServerError, "lock table for %s is full", name)
	}
	entry.locks = append(entry.locks, sentenceLock{Index: idx, Owner: user, ConnID: connID})
	return nil
}

// Unlock releases a reservation. Only the owner may release it.
func (e *Engine) Unlock(name string, idx int, user string) error {
	entry, ok := e.entry(name, false)
	if !ok {
		return failf(wire.StatusFileNotFound, "%s not found", name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for i, l := range entry.locks {
		if l.Index != idx {
			continue
		}
		if l.Owner != user {
			return failf(wire.StatusAccessDenied, "sentence %d is locked by %s", idx, l.Owner)
		}
		entry.locks = append(entry.locks[:i], entry.locks[i+1:]...)
		return nil
	}
	return failf(wire.StatusAccessDenied, "no lock held on sentence %d", idx)
}

// Write applies edit lines to the locked sentence and returns the new
// content. The pre-write content is snapshotted into the undo slot before
// any validation, so the slot stays populated even when the write aborts.
func (e *Engine) Write(name string, idx int, user, data string) (string, error) {
	entry, ok := e.entry(name, false)
	if !ok {
		return "", failf(wire.StatusFileNotFound, "%s not found", name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	held := false
	for _, l := range entry.locks {
		if l.Index == idx && l.Owner == user {
			held = true
			break
		}
	}
	if !held {
		return "", failf(wire.StatusSentenceLocked, "sentence %d is not locked by %s", idx, user)
	}

	content, err := e.store.Read(name)
	if err != nil {
		return "", mapStoreErr(name, err)
	}
	entry.undo = content
	entry.hasUndo = true

	sentences := sentence.Parse(content)
	if idx == len(sentences) {
		sentences = append(sentences, "")
	}
	if idx < 0 || idx >= len(sentences) {
		return "", failf(wire.StatusInvalidIndex, "%s", lockBoundsMsg(content))
	}

	edits, err := sentence.ParseEdits(data)
	if err != nil {
		return "", failf(wire.StatusInvalidCommand, "%v", err)
	}
	updated, err := sentence.ApplyAll(sentences[idx], edits)
	if err != nil {
		var idxErr *sentence.IndexError
		if errors.As(err, &idxErr) {
			return "", failf(wire.StatusInvalidIndex, "%s", idxErr.Error())
		}
		return "", failf(wire.StatusServerError, "%v", err)
	}
	sentences[idx] = updated

	newContent := sentence.Join(sentences)
	if err := e.store.Save(name, newContent); err != nil {
		return "", mapStoreErr(name, err)
	}
	e.repl.Replicate(wire.OpReplWrite, name, newContent)
	return newContent, nil
}

// ApplyReplicatedWrite overwrites content wholesale. Used for REPL_WRITE
// and resync pushes; never fans out.
func (e *Engine) ApplyReplicatedWrite(name, content string) error {
	entry, _ := e.entry(name, true)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := e.store.Save(name, content); err != nil {
		return mapStoreErr(name, err)
	}
	return nil
}

// Undo restores the snapshot and clears the slot; the restored content is
// replicated like a write.
func (e *Engine) Undo(name string) (string, error) {
	entry, ok := e.entry(name, false)
	if !ok {
		return "", failf(wire.StatusFileNotFound, "%s not found", name)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.hasUndo {
		return "", failf(wire.StatusNoUndo, "nothing to undo for %s", name)
	}
	restored := entry.undo
	if err := e.store.Save(name, restored); err != nil {
		return "", mapStoreErr(name, err)
	}
	entry.hasUndo = false
	entry.undo = ""
	e.repl.Replicate(wire.OpReplWrite, name, restored)
	return restored, nil
}

// Checkpoint snapshots current content under the tag.
func (e *Engine) Checkpoint(name, tag string) error {
	content, err := e.store.Read(name)
	if err != nil {
		return mapStoreErr(name, err)
	}
	if err := e.store.SaveCheckpoint(name, tag, content); err != nil {
		return mapStoreErr(name, err)
	}
	return nil
}

// ViewCheckpoint returns a snapshot's content.
func (e *Engine) ViewCheckpoint(name, tag string) (string, error) {
	content, err := e.store.ReadCheckpoint(name, tag)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", failf(wire.StatusFileNotFound, "no checkpoint %q for %s", tag, name)
		}
		return "", mapStoreErr(name, err)
	}
	return content, nil
}

// Revert overwrites current content from the tagged snapshot and
// replicates the restored content.
func (e *Engine) Revert(name, tag string) (string, error) {
	entry, ok := e.entry(name, false)
	if !ok {
		return "", failf(wire.StatusFileNotFound, "%s not found", name)
	}
	content, err := e.store.ReadCheckpoint(name, tag)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", failf(wire.StatusFileNotFound, "no checkpoint %q for %s", tag, name)
		}
		return "", mapStoreErr(name, err)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := e.store.Save(name, content); err != nil {
		return "", mapStoreErr(name, err)
	}
	e.repl.Replicate(wire.OpReplWrite, name, content)
	return content, nil
}

// ListCheckpoints enumerates saved tags.
func (e *Engine) ListCheckpoints(name string) ([]string, error) {
	if !e.store.Exists(name) {
		return nil, failf(wire.StatusFileNotFound, "%s not found", name)
	}
	tags, err := e.store.ListCheckpoints(name)
	if err != nil {
		return nil, mapStoreErr(name, err)
	}
	return tags, nil
}

// Move renames the file on disk and in the state table, returning the new
// path. replicated suppresses the partner fan-out.
func (e *Engine) Move(oldName, newName string, replicated bool) (string, error) {
	entry, ok := e.entry(oldName, false)
	if !ok {
		return "", failf(wire.StatusFileNotFound, "%s not found", oldName)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := e.store.Rename(oldName, newName); err != nil {
		return "", mapStoreErr(oldName, err)
	}
	e.renameEntry(oldName, newName)
	if !replicated {
		e.repl.Replicate(wire.OpReplMove, oldName, newName)
	}
	return newName, nil
}

// CreateFolder makes a folder under the root. replicated suppresses the
// partner fan-out.
func (e *Engine) CreateFolder(folder string, replicated bool) error {
	if err := e.store.Mkdir(folder); err != nil {
		return mapStoreErr(folder, err)
	}
	if !replicated {
		e.repl.Replicate(wire.OpReplCreateFolder, folder, "")
	}
	return nil
}

// ReleaseConnection drops every lock acquired by the given connection.
// Called when a client connection terminates abnormally mid-session.
func (e *Engine) ReleaseConnection(connID uint64) {
	e.mu.Lock()
	entries := make([]*fileEntry, 0, len(e.entries))
	for _, entry := range e.entries {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		kept := entry.locks[:0]
		for _, l := range entry.locks {
			if l.ConnID != connID {
				kept = append(kept, l)
			}
		}
		entry.locks = kept
		entry.mu.Unlock()
	}
}

// LockOwner reports who holds the lock on (name, idx), for tests and
// diagnostics.
func (e *Engine) LockOwner(name string, idx int) (string, bool) {
	entry, ok := e.entry(name, false)
	if !ok {
		return "", false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	for _, l := range entry.locks {
		if l.Index == idx {
			return l.Owner, true
		}
	}
	return "", false
}
