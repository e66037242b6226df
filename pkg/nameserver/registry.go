// Package nameserver implements the coordinator: the global file-metadata
// table, storage server and client rosters, routing, liveness, and
// persistence.
package nameserver

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Hard caps shared with the on-disk snapshot format.
const (
	maxFiles      = 10000
	maxServers    = 50
	maxACLEntries = 50
)

// Access is the level a user holds on a file. The owner always resolves to
// AccessWrite without an ACL entry.
type Access uint8

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "READ"
	case AccessWrite:
		return "WRITE"
	}
	return "NONE"
}

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrFileExists     = errors.New("file already exists")
	ErrNotOwner       = errors.New("requester is not the owner")
	ErrUserNotFound   = errors.New("user not registered")
	ErrACLFull        = errors.New("access list is full")
	ErrAlreadyGranted = errors.New("access already granted")
	ErrNoPending      = errors.New("no pending request")
)

type fileRecord struct {
	Filename       string
	Owner          string
	PrimaryID      int // -1 when unset
	ReplicaID      int // -1 when unset
	ACL            map[string]Access
	Pending        map[string]Access
	Created        time.Time
	Modified       time.Time
	Accessed       time.Time
	LastAccessedBy string
	Size           int64
	WordCount      int64
	CharCount      int64
}

func (f *fileRecord) accessFor(user string) Access {
	if user != "" && user == f.Owner {
		return AccessWrite
	}
	return f.ACL[user]
}

type ssRecord struct {
	ID          int
	IP          string
	ControlPort int
	ClientPort  int
	Active      bool
	Claimed     []string
}

type clientRecord struct {
	Username string
	IP       string
	Active   bool
}

// SSEndpoint is a copyable view of one storage server roster entry.
type SSEndpoint struct {
	ID          int    `json:"id"`
	IP          string `json:"ip"`
	ControlPort int    `json:"control_port"`
	ClientPort  int    `json:"client_port"`
	Active      bool   `json:"active"`
}

// ControlAddr is the endpoint serving the name server and peer servers.
func (e SSEndpoint) ControlAddr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.ControlPort))
}

// ClientAddr is the endpoint serving end-user clients.
func (e SSEndpoint) ClientAddr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.ClientPort))
}

// FileView is a copyable snapshot of one file record with its placements
// resolved against the roster.
type FileView struct {
	Filename       string            `json:"filename"`
	Owner          string            `json:"owner"`
	HasPrimary     bool              `json:"has_primary"`
	Primary        SSEndpoint        `json:"primary,omitempty"`
	HasReplica     bool              `json:"has_replica"`
	Replica        SSEndpoint        `json:"replica,omitempty"`
	ACL            map[string]Access `json:"acl,omitempty"`
	Pending        map[string]Access `json:"-"`
	Created        time.Time         `json:"created"`
	Modified       time.Time         `json:"modified"`
	Accessed       time.Time         `json:"accessed"`
	LastAccessedBy string            `json:"last_accessed_by,omitempty"`
	Size           int64             `json:"size"`
	WordCount      int64             `json:"word_count"`
	CharCount      int64             `json:"char_count"`
}

// AccessFor resolves the effective access level for user.
func (v FileView) AccessFor(user string) Access {
	if user != "" && user == v.Owner {
		return AccessWrite
	}
	return v.ACL[user]
}

// ClientInfo is a copyable view of one registered client.
type ClientInfo struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

// Registry holds all name server metadata: the file table with its trie
// index and search cache, the storage server roster, and the client roster.
// One mutex guards in-memory state; network calls never run under it.
type Registry struct {
	mu       sync.Mutex
	files    []*fileRecord
	index    *trie
	cache    *searchCache
	servers  []*ssRecord
	clients  map[string]*clientRecord
	dataFile string
	now      func() time.Time
}

// NewRegistry creates an empty registry persisting to dataFile. An empty
// dataFile disables persistence.
func NewRegistry(dataFile string) *Registry {
	return &Registry{
		index:    newTrie(),
		cache:    newSearchCache(),
		clients:  make(map[string]*clientRecord),
		dataFile: dataFile,
		now:      time.Now,
	}
}

func (r *Registry) lookupLocked(name string) (*fileRecord, bool) {
	now := r.now()
	if idx, ok := r.cache.Get(name, now); ok && idx < len(r.files) && r.files[idx].Filename == name {
		return r.files[idx], true
	}
	idx, ok := r.index.Lookup(name)
	if !ok {
		return nil, false
	}
	r.cache.Put(name, idx, now)
	return r.files[idx], true
}

func (r *Registry) serverByIDLocked(id int) *ssRecord {
	if id < 0 || id >= len(r.servers) {
		return nil
	}
	return r.servers[id]
}

func ssEndpoint(ss *ssRecord) SSEndpoint {
	return SSEndpoint{ID: ss.ID, IP: ss.IP, ControlPort: ss.ControlPort, ClientPort: ss.ClientPort, Active: ss.Active}
}

func (r *Registry) fileViewLocked(f *fileRecord) FileView {
	v := FileView{
		Filename:       f.Filename,
		Owner:          f.Owner,
		ACL:            make(map[string]Access, len(f.ACL)),
		Pending:        make(map[string]Access, len(f.Pending)),
		Created:        f.Created,
		Modified:       f.Modified,
		Accessed:       f.Accessed,
		LastAccessedBy: f.LastAccessedBy,
		Size:           f.Size,
		WordCount:      f.WordCount,
		CharCount:      f.CharCount,
	}
	for u, a := range f.ACL {
		v.ACL[u] = a
	}
	for u, a := range f.Pending {
		v.Pending[u] = a
	}
	if ss := r.serverByIDLocked(f.PrimaryID); ss != nil {
		v.HasPrimary, v.Primary = true, ssEndpoint(ss)
	}
	if ss := r.serverByIDLocked(f.ReplicaID); ss != nil {
		v.HasReplica, v.Replica = true, ssEndpoint(ss)
	}
	return v
}

// RegisterSS registers or reactivates a storage server. The id is stable
// per (ip, control port, client port) triple for the registry's lifetime.
// wasInactive reports a reactivation of a previously-down server, which is
// the trigger for primary resync.
func (r *Registry) RegisterSS(ip string, controlPort, clientPort int) (ep SSEndpoint, wasInactive bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ss := range r.servers {
		if ss.IP == ip && ss.ControlPort == controlPort && ss.ClientPort == clientPort {
			wasInactive = !ss.Active
			ss.Active = true
			r.persistLocked()
			return ssEndpoint(ss), wasInactive, nil
		}
	}
	if len(r.servers) >= maxServers {
		return SSEndpoint{}, false, fmt.Errorf("storage server roster is full (%d)", maxServers)
	}
	ss := &ssRecord{ID: len(r.servers), IP: ip, ControlPort: controlPort, ClientPort: clientPort, Active: true}
	r.servers = append(r.servers, ss)
	r.persistLocked()
	return ssEndpoint(ss), false, nil
}

// SetSSActive flips the active flag and reports whether it changed.
func (r *Registry) SetSSActive(id int, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss := r.serverByIDLocked(id)
	if ss == nil || ss.Active == active {
		return false
	}
	ss.Active = active
	return true
}

// Servers returns a snapshot of the whole roster.
func (r *Registry) Servers() []SSEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SSEndpoint, 0, len(r.servers))
	for _, ss := range r.servers {
		out = append(out, ssEndpoint(ss))
	}
	return out
}

// ActiveServers returns a snapshot of active roster entries in id order.
func (r *Registry) ActiveServers() []SSEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SSEndpoint
	for _, ss := range r.servers {
		if ss.Active {
			out = append(out, ssEndpoint(ss))
		}
	}
	return out
}

// ClaimedFiles returns the filenames placed on the given server.
func (r *Registry) ClaimedFiles(id int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ss := r.serverByIDLocked(id)
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss.Claimed))
	copy(out, ss.Claimed)
	return out
}

// RegisterClient registers a username or refreshes its endpoint. Usernames
// are singletons; re-registering reactivates the existing record.
func (r *Registry) RegisterClient(username, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[username]; ok {
		c.IP = ip
		c.Active = true
		return
	}
	r.clients[username] = &clientRecord{Username: username, IP: ip, Active: true}
}

// SetClientActive flips a client's active flag.
func (r *Registry) SetClientActive(username string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[username]; ok {
		c.Active = active
	}
}

// ClientExists reports whether the username has ever registered.
func (r *Registry) ClientExists(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[username]
	return ok
}

// Clients returns the client roster sorted by username.
func (r *Registry) Clients() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, ClientInfo{Username: c.Username, Active: c.Active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// FileCount returns the number of file records.
func (r *Registry) FileCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

// GetFile returns a snapshot of the named file record.
func (r *Registry) GetFile(name string) (FileView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return FileView{}, false
	}
	return r.fileViewLocked(f), true
}

// ListFiles returns a snapshot of every file record.
func (r *Registry) ListFiles() []FileView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileView, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, r.fileViewLocked(f))
	}
	return out
}

// CreateFile commits metadata for a file already created on its primary.
// replica may be nil when fewer than two servers are active.
func (r *Registry) CreateFile(name, owner string, primary SSEndpoint, replica *SSEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookupLocked(name); ok {
		return ErrFileExists
	}
	if len(r.files) >= maxFiles {
		return fmt.Errorf("file table is full (%d)", maxFiles)
	}
	now := r.now()
	f := &fileRecord{
		Filename:  name,
		Owner:     owner,
		PrimaryID: primary.ID,
		ReplicaID: -1,
		ACL:       make(map[string]Access),
		Pending:   make(map[string]Access),
		Created:   now,
		Modified:  now,
		Accessed:  now,
	}
	if replica != nil && replica.ID != primary.ID {
		f.ReplicaID = replica.ID
	}
	r.files = append(r.files, f)
	r.index.Insert(name, len(r.files)-1)
	r.claimLocked(f.PrimaryID, name)
	r.claimLocked(f.ReplicaID, name)
	r.persistLocked()
	return nil
}

func (r *Registry) claimLocked(id int, name string) {
	if ss := r.serverByIDLocked(id); ss != nil {
		ss.Claimed = append(ss.Claimed, name)
	}
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, e := range s {
		if e != v {
			out = append(out, e)
		}
	}
	return out
}

// PurgeFile removes every trace of a filename: trie entry, file slot
// (swap-with-last with trie reindex of the swapped record), all claimed-file
// entries, and the whole search cache. Persisted immediately.
func (r *Registry) PurgeFile(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked(name)
}

func (r *Registry) purgeLocked(name string) {
	idx, ok := r.index.Lookup(name)
	if !ok {
		return
	}
	r.index.Delete(name)
	last := len(r.files) - 1
	if idx != last {
		r.files[idx] = r.files[last]
		r.index.Insert(r.files[idx].Filename, idx)
	}
	r.files[last] = nil
	r.files = r.files[:last]
	for _, ss := range r.servers {
		ss.Claimed = removeString(ss.Claimed, name)
	}
	r.cache.Flush()
	r.persistLocked()
}

// RenameFile updates the filename across the record, trie, and claimed
// lists after the storage servers confirmed the move.
func (r *Registry) RenameFile(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lookupLocked(newName); ok {
		return ErrFileExists
	}
	idx, ok := r.index.Lookup(oldName)
	if !ok {
		return ErrFileNotFound
	}
	f := r.files[idx]
	r.index.Delete(oldName)
	f.Filename = newName
	f.Modified = r.now()
	r.index.Insert(newName, idx)
	for _, ss := range r.servers {
		for i, claimed := range ss.Claimed {
			if claimed == oldName {
				ss.Claimed[i] = newName
			}
		}
	}
	r.cache.Flush()
	r.persistLocked()
	return nil
}

// Touch records an access by user.
func (r *Registry) Touch(name, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return
	}
	f.Accessed = r.now()
	f.LastAccessedBy = user
	r.persistLocked()
}

// MarkModified records a mutation timestamp.
func (r *Registry) MarkModified(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return
	}
	f.Modified = r.now()
	r.persistLocked()
}

// UpdateCounters refreshes the approximate size counters from a storage
// server response.
func (r *Registry) UpdateCounters(name string, size, words, chars int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return
	}
	f.Size, f.WordCount, f.CharCount = size, words, chars
	r.persistLocked()
}

// AddAccess grants level to target. Owner-only; the owner never appears in
// the ACL because owner access is derived.
func (r *Registry) AddAccess(name, requester, target string, level Access) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return ErrFileNotFound
	}
	if requester != f.Owner {
		return ErrNotOwner
	}
	if _, ok := r.clients[target]; !ok {
		return ErrUserNotFound
	}
	if target == f.Owner {
		return ErrAlreadyGranted
	}
	if _, present := f.ACL[target]; !present && len(f.ACL) >= maxACLEntries {
		return ErrACLFull
	}
	f.ACL[target] = level
	if pending, ok := f.Pending[target]; ok && pending <= level {
		delete(f.Pending, target)
	}
	r.persistLocked()
	return nil
}

// RemoveAccess revokes target's ACL entry. Owner-only.
func (r *Registry) RemoveAccess(name, requester, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return ErrFileNotFound
	}
	if requester != f.Owner {
		return ErrNotOwner
	}
	if _, ok := f.ACL[target]; !ok {
		return ErrUserNotFound
	}
	delete(f.ACL, target)
	r.persistLocked()
	return nil
}

// RequestAccess records a pending request for level. Requests from users
// who already hold the level are rejected, keeping the pending set disjoint
// from granted access.
func (r *Registry) RequestAccess(name, requester string, level Access) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return ErrFileNotFound
	}
	if f.accessFor(requester) >= level {
		return ErrAlreadyGranted
	}
	if _, present := f.Pending[requester]; !present && len(f.Pending) >= maxACLEntries {
		return ErrACLFull
	}
	f.Pending[requester] = level
	r.persistLocked()
	return nil
}

// PendingRequests returns the pending set for a file. Owner-only.
func (r *Registry) PendingRequests(name, requester string) (map[string]Access, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return nil, ErrFileNotFound
	}
	if requester != f.Owner {
		return nil, ErrNotOwner
	}
	out := make(map[string]Access, len(f.Pending))
	for u, a := range f.Pending {
		out[u] = a
	}
	return out, nil
}

// ResolveRequest approves or denies target's pending request. Owner-only.
// Approval moves the requested level into the ACL.
func (r *Registry) ResolveRequest(name, requester, target string, approve bool) (Access, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.lookupLocked(name)
	if !ok {
		return AccessNone, ErrFileNotFound
	}
	if requester != f.Owner {
		return AccessNone, ErrNotOwner
	}
	level, ok := f.Pending[target]
	if !ok {
		return AccessNone, ErrNoPending
	}
	if approve {
		if _, present := f.ACL[target]; !present && len(f.ACL) >= maxACLEntries {
			return AccessNone, ErrACLFull
		}
		f.ACL[target] = level
	}
	delete(f.Pending, target)
	r.persistLocked()
	return level, nil
}

// Recents returns the filenames of the n most recently accessed files the
// user can read, most recent first.
func (r *Registry) Recents(user string, n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var readable []*fileRecord
	for _, f := range r.files {
		if f.accessFor(user) >= AccessRead {
			readable = append(readable, f)
		}
	}
	sort.Slice(readable, func(i, j int) bool {
		return readable[i].Accessed.After(readable[j].Accessed)
	})
	if len(readable) > n {
		readable = readable[:n]
	}
	out := make([]string, len(readable))
	for i, f := range readable {
		out[i] = f.Filename
	}
	return out
}

func (r *Registry) cacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
