package nameserver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/scribefs/scribefs/internal/logger"
)

// Snapshot layout: magic, version, file count, file records, server count,
// server records. Strings are uint16-length-prefixed; integers big-endian.
const (
	snapshotMagic   uint32 = 0x53464e53 // "SFNS"
	snapshotVersion uint16 = 1
)

func (r *Registry) persistLocked() {
	if r.dataFile == "" {
		return
	}
	if err := r.saveLocked(); err != nil {
		logger.Error("failed to persist metadata", "path", r.dataFile, "error", err)
	}
}

// saveLocked snapshots metadata to the data file via temp-then-rename so a
// crash mid-write never leaves a torn snapshot.
func (r *Registry) saveLocked() error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, snapshotMagic)
	binary.Write(&buf, binary.BigEndian, snapshotVersion)

	binary.Write(&buf, binary.BigEndian, uint32(len(r.files)))
	for _, f := range r.files {
		writeSnapStr(&buf, f.Filename)
		writeSnapStr(&buf, f.Owner)
		binary.Write(&buf, binary.BigEndian, int32(f.PrimaryID))
		binary.Write(&buf, binary.BigEndian, int32(f.ReplicaID))
		writeAccessMap(&buf, f.ACL)
		writeAccessMap(&buf, f.Pending)
		binary.Write(&buf, binary.BigEndian, f.Created.Unix())
		binary.Write(&buf, binary.BigEndian, f.Modified.Unix())
		binary.Write(&buf, binary.BigEndian, f.Accessed.Unix())
		writeSnapStr(&buf, f.LastAccessedBy)
		binary.Write(&buf, binary.BigEndian, f.Size)
		binary.Write(&buf, binary.BigEndian, f.WordCount)
		binary.Write(&buf, binary.BigEndian, f.CharCount)
	}

	binary.Write(&buf, binary.BigEndian, uint32(len(r.servers)))
	for _, ss := range r.servers {
		binary.Write(&buf, binary.BigEndian, int32(ss.ID))
		writeSnapStr(&buf, ss.IP)
		binary.Write(&buf, binary.BigEndian, int32(ss.ControlPort))
		binary.Write(&buf, binary.BigEndian, int32(ss.ClientPort))
	}

	tmp := r.dataFile + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.dataFile); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func writeSnapStr(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func writeAccessMap(buf *bytes.Buffer, m map[string]Access) {
	binary.Write(buf, binary.BigEndian, uint16(len(m)))
	for u, a := range m {
		writeSnapStr(buf, u)
		buf.WriteByte(byte(a))
	}
}

// Load restores the snapshot, if any. Corrupt data resets to an empty
// registry and rewrites the file; malformed individual records are skipped.
// All loaded servers start inactive until the heartbeat or a registration
// proves them reachable.
func (r *Registry) Load() error {
	if r.dataFile == "" {
		return nil
	}
	data, err := os.ReadFile(r.dataFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", r.dataFile, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(data); err != nil {
		logger.Warn("metadata snapshot corrupt, resetting", "path", r.dataFile, "error", err)
		r.files = nil
		r.servers = nil
		r.index = newTrie()
		r.cache.Flush()
		r.persistLocked()
	}
	return nil
}

func (r *Registry) loadLocked(data []byte) error {
	rd := bytes.NewReader(data)

	var magic uint32
	var version uint16
	if err := binary.Read(rd, binary.BigEndian, &magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if magic != snapshotMagic {
		return fmt.Errorf("bad magic %#x", magic)
	}
	if err := binary.Read(rd, binary.BigEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}

	var fileCount uint32
	if err := binary.Read(rd, binary.BigEndian, &fileCount); err != nil {
		return fmt.Errorf("read file count: %w", err)
	}
	if fileCount > maxFiles {
		return fmt.Errorf("file count %d exceeds cap %d", fileCount, maxFiles)
	}

	now := r.now()
	var files []*fileRecord
	for i := uint32(0); i < fileCount; i++ {
		f, err := readFileRecord(rd, now)
		if err != nil {
			return fmt.Errorf("file record %d: %w", i, err)
		}
		if f != nil {
			files = append(files, f)
		}
	}

	var ssCount uint32
	if err := binary.Read(rd, binary.BigEndian, &ssCount); err != nil {
		return fmt.Errorf("read server count: %w", err)
	}
	if ssCount > maxServers {
		return fmt.Errorf("server count %d exceeds cap %d", ssCount, maxServers)
	}

	var servers []*ssRecord
	for i := uint32(0); i < ssCount; i++ {
		ss, err := readServerRecord(rd)
		if err != nil {
			return fmt.Errorf("server record %d: %w", i, err)
		}
		ss.ID = len(servers)
		servers = append(servers, ss)
	}

	// Commit: rebuild the trie and claimed lists, collapsing duplicate
	// filenames (first occurrence wins) and dropping out-of-range
	// placements.
	r.files = nil
	r.servers = servers
	r.index = newTrie()
	r.cache.Flush()
	for _, f := range files {
		if _, dup := r.index.Lookup(f.Filename); dup {
			logger.Warn("dropping duplicate file record from snapshot", "filename", f.Filename)
			continue
		}
		if f.PrimaryID >= len(servers) {
			f.PrimaryID = -1
		}
		if f.ReplicaID >= len(servers) || f.ReplicaID == f.PrimaryID {
			f.ReplicaID = -1
		}
		r.files = append(r.files, f)
		r.index.Insert(f.Filename, len(r.files)-1)
		r.claimLocked(f.PrimaryID, f.Filename)
		r.claimLocked(f.ReplicaID, f.Filename)
	}
	logger.Info("metadata snapshot loaded", "files", len(r.files), "servers", len(r.servers))
	return nil
}

// readFileRecord returns (nil, nil) for records that fail per-record
// sanity checks but leave the stream aligned.
func readFileRecord(rd *bytes.Reader, now time.Time) (*fileRecord, error) {
	f := &fileRecord{}
	var err error
	if f.Filename, err = readSnapStr(rd); err != nil {
		return nil, err
	}
	if f.Owner, err = readSnapStr(rd); err != nil {
		return nil, err
	}
	var primary, replica int32
	if err = binary.Read(rd, binary.BigEndian, &primary); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &replica); err != nil {
		return nil, err
	}
	f.PrimaryID, f.ReplicaID = int(primary), int(replica)
	if f.ACL, err = readAccessMap(rd); err != nil {
		return nil, err
	}
	if f.Pending, err = readAccessMap(rd); err != nil {
		return nil, err
	}
	var created, modified, accessed int64
	if err = binary.Read(rd, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &modified); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &accessed); err != nil {
		return nil, err
	}
	if f.LastAccessedBy, err = readSnapStr(rd); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &f.Size); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &f.WordCount); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &f.CharCount); err != nil {
		return nil, err
	}

	if f.Filename == "" || f.Owner == "" {
		logger.Warn("dropping unnamed file record from snapshot")
		return nil, nil
	}
	f.Created = timeOr(created, now)
	f.Modified = timeOr(modified, now)
	f.Accessed = timeOr(accessed, now)
	return f, nil
}

func timeOr(unix int64, fallback time.Time) time.Time {
	if unix <= 0 {
		return fallback
	}
	return time.Unix(unix, 0)
}

func readServerRecord(rd *bytes.Reader) (*ssRecord, error) {
	ss := &ssRecord{}
	var id, controlPort, clientPort int32
	var err error
	if err = binary.Read(rd, binary.BigEndian, &id); err != nil {
		return nil, err
	}
	if ss.IP, err = readSnapStr(rd); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &controlPort); err != nil {
		return nil, err
	}
	if err = binary.Read(rd, binary.BigEndian, &clientPort); err != nil {
		return nil, err
	}
	if ss.IP == "" || controlPort <= 0 || controlPort > 65535 || clientPort <= 0 || clientPort > 65535 {
		return nil, fmt.Errorf("invalid server endpoint %s:%d/%d", ss.IP, controlPort, clientPort)
	}
	ss.ControlPort, ss.ClientPort = int(controlPort), int(clientPort)
	return ss, nil
}

func readSnapStr(rd *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readAccessMap(rd *bytes.Reader) (map[string]Access, error) {
	var n uint16
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int(n) > maxACLEntries {
		return nil, fmt.Errorf("access list size %d exceeds cap %d", n, maxACLEntries)
	}
	m := make(map[string]Access, n)
	for i := uint16(0); i < n; i++ {
		user, err := readSnapStr(rd)
		if err != nil {
			return nil, err
		}
		level, err := rd.ReadByte()
		if err != nil {
			return nil, err
		}
		if user != "" {
			m[user] = Access(level)
		}
	}
	return m, nil
}
