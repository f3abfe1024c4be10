// Package store implements the tracker's metadata store (§3, §4.3's query
// semantics). The reference implementation uses aiosqlite3 against a single
// "filesystem" table; per spec.md §6 ("any durable store providing the §4.3
// query semantics is conforming") we use go.etcd.io/bbolt, the same
// embedded-KV library the teacher repo (dupedog) uses for its hash cache
// (internal/cache, see DESIGN.md). Rows are gob-encoded Records in a single
// bucket; a mutex-guarded in-memory map mirrors the bucket for the
// substring/prefix queries §4.3 needs, which bbolt itself has no query
// language for. Every mutation writes through to bbolt inside the same
// critical section, so the in-memory map and the bucket never diverge, and
// the store survives process restart (§3.3).
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Category is the record's filesystem kind (§3.1).
type Category int

const (
	CategoryDirectory Category = iota
	CategoryFile
	CategoryLink
)

const bucketName = "filesystem"

// TimeFormat is the "YYYY-MM-DD HH:MM:SS" stamp format used for ctime/mtime.
const TimeFormat = "2006-01-02 15:04:05"

// Record is one row of the filesystem table (§3.1). Empty string fields
// stand in for the reference schema's NULL columns.
type Record struct {
	ID           uint64
	LogicalPath  string
	PhysicalPath string
	Category     Category
	CTime        string
	MTime        string
	Size         int64
	HostAddr     string
	HostName     string
}

// HasLogical reports whether the record carries a logical path.
func (r Record) HasLogical() bool { return r.LogicalPath != "" }

// HasHost reports whether the record is owned by a live daemon.
func (r Record) HasHost() bool { return r.HostName != "" }

// Store is the tracker's single-writer metadata table.
type Store struct {
	mu      sync.Mutex
	db      *bolt.DB
	records map[uint64]Record
}

// Open opens (creating if absent) the bbolt-backed store at path, loads all
// existing records into memory, and ensures the root logical directory
// (§3.2 invariant 1) exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{db: db, records: make(map[uint64]Record)}

	if err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			var rec Record
			if err := gobDecode(v, &rec); err != nil {
				return fmt.Errorf("decode record %x: %w", k, err)
			}
			s.records[rec.ID] = rec
			return nil
		})
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !s.existsLocked("/") {
		now := time.Now().UTC().Format(TimeFormat)
		if _, err := s.insertLocked(Record{
			LogicalPath: "/",
			Category:    CategoryLink,
			CTime:       now,
			MTime:       now,
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("seed root: %w", err)
		}
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func gobDecode(data []byte, rec *Record) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(rec)
}

func gobEncode(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// insertLocked assigns an ID, writes through to bbolt, and updates the
// in-memory index. Caller holds s.mu.
func (s *Store) insertLocked(rec Record) (Record, error) {
	var id uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = seq
		rec.ID = id
		data, err := gobEncode(rec)
		if err != nil {
			return err
		}
		return b.Put(idKey(id), data)
	})
	if err != nil {
		return Record{}, fmt.Errorf("insert record: %w", err)
	}
	s.records[id] = rec
	return rec, nil
}

// Insert adds a new record (ln with no logical destination, md, or a newly
// received file). Returns the stored record including its assigned ID.
func (s *Store) Insert(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

// DeleteByHostAddr removes every record owned by hostAddr, with no
// transitive subtree logic (update_db's plain "delete from filesystem
// where host_addr = ?"). Used by the tracker to clear its own prior
// physical rows before re-walking its root on restart, which is a plain
// self-refresh rather than a peer eviction (§3.2 invariant 5 only applies
// to membership-sweeper evictions).
func (s *Store) DeleteByHostAddr(hostAddr string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint64
	for id, rec := range s.records {
		if rec.HostAddr == hostAddr {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if err := s.deleteIDLocked(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (s *Store) deleteIDLocked(id uint64) error {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete(idKey(id))
	}); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) updateLocked(rec Record) error {
	data, err := gobEncode(rec)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put(idKey(rec.ID), data)
	}); err != nil {
		return fmt.Errorf("update record %d: %w", rec.ID, err)
	}
	s.records[rec.ID] = rec
	return nil
}

// Exists reports whether a record with the given logical path exists.
func (s *Store) Exists(logical string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(logical)
}

func (s *Store) existsLocked(logical string) bool {
	for _, rec := range s.records {
		if rec.LogicalPath == logical {
			return true
		}
	}
	return false
}

// ParentExists reports whether logical's parent directory is a known
// logical path (§3.2 invariant 2). The root's parent is always considered
// to exist.
func (s *Store) ParentExists(parent string) bool {
	if parent == "" {
		return false
	}
	return s.Exists(parent)
}

// isDirectChild implements the "LIKE base% AND NOT LIKE base_%/%" filter
// from §4.3: candidate must have base as a prefix, and the remainder must
// not itself contain a "/" (i.e. candidate is exactly one path segment
// below base, not a deeper descendant). An empty base means "the physical
// root" and is treated the same as "/", the logical root: both query for
// candidates that are a single path segment, leading "/" ignored.
func isDirectChild(base, candidate string) bool {
	if base == "" || base == "/" {
		rest := strings.TrimPrefix(candidate, "/")
		return rest != "" && !strings.Contains(rest, "/")
	}
	if !strings.HasPrefix(candidate, base) {
		return false
	}
	rest := candidate[len(base):]
	if rest == "" {
		return false // candidate == base, not a child
	}
	if rest[0] != '/' {
		return false // e.g. base "/a" matching "/ab"
	}
	rest = rest[1:]
	return rest != "" && !strings.Contains(rest, "/")
}

// HostInfo is one entry of the "//" host-roster listing.
type HostInfo struct {
	Name string
	Addr string
}

// ListHosts returns the distinct (host_name, host_addr) pairs of every
// known host.
func (s *Store) ListHosts() []HostInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var out []HostInfo
	for _, rec := range s.records {
		if rec.HostName == "" || rec.HostAddr == "" {
			continue
		}
		if seen[rec.HostName] {
			continue
		}
		seen[rec.HostName] = true
		out = append(out, HostInfo{Name: rec.HostName, Addr: rec.HostAddr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListPhysicalChildren returns direct children of path on the host
// identified by location (an address if isAddr, else a host name).
func (s *Store) ListPhysicalChildren(location string, isAddr bool, path string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.PhysicalPath == "" {
			continue
		}
		hostMatch := rec.HostAddr == location
		if !isAddr {
			hostMatch = rec.HostName == location
		}
		if !hostMatch {
			continue
		}
		if isDirectChild(path, rec.PhysicalPath) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PhysicalPath < out[j].PhysicalPath })
	return out
}

// ListLogicalChildren returns direct children of the logical path dst.
func (s *Store) ListLogicalChildren(dst string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.LogicalPath == "" {
			continue
		}
		if isDirectChild(dst, rec.LogicalPath) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogicalPath < out[j].LogicalPath })
	return out
}

// Lookup returns the record bound to a logical path, if any.
func (s *Store) Lookup(logical string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.LogicalPath == logical {
			return rec, true
		}
	}
	return Record{}, false
}

// RemoveResult reports which branch of §4.3's rm rules fired.
type RemoveResult int

const (
	RemoveNotFound RemoveResult = iota
	RemoveDeleted
	RemoveDetached
)

// RemoveLogical implements the logical half of §4.3's rm: delete the
// subtree if the target's physical path is absent or outside the host
// root, otherwise detach (null the logical_path column, keep the physical
// row).
func (s *Store) RemoveLogical(dst string) (RemoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookupLocked(dst)
	if !ok {
		return RemoveNotFound, nil
	}

	outside := rec.PhysicalPath == "" || isOutsideRootPhysicalPath(rec.PhysicalPath)
	if outside {
		if err := s.deleteSubtreeLocked(dst); err != nil {
			return RemoveNotFound, err
		}
		return RemoveDeleted, nil
	}

	rec.LogicalPath = ""
	if err := s.updateLocked(rec); err != nil {
		return RemoveNotFound, err
	}
	return RemoveDetached, nil
}

// isOutsideRootPhysicalPath mirrors pathspec.Path.OutsideRoot's convention
// on the stored PhysicalPath string: root-relative tails carry no leading
// "/" ("a/b.txt"), while a tail registered from outside the host's default
// root arrives absolute or drive-letter prefixed.
func isOutsideRootPhysicalPath(path string) bool {
	if strings.HasPrefix(path, "/") {
		return true
	}
	segment, _, _ := strings.Cut(path, "/")
	return strings.Contains(segment, ":")
}

func (s *Store) lookupLocked(logical string) (Record, bool) {
	for _, rec := range s.records {
		if rec.LogicalPath == logical {
			return rec, true
		}
	}
	return Record{}, false
}

// deleteSubtreeLocked deletes the record at exactly logical plus every
// record whose logical path is a descendant of it.
func (s *Store) deleteSubtreeLocked(logical string) error {
	var ids []uint64
	prefix := logical + "/"
	for id, rec := range s.records {
		if rec.LogicalPath == "" {
			continue
		}
		if rec.LogicalPath == logical || strings.HasPrefix(rec.LogicalPath, prefix) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if err := s.deleteIDLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// RemovePhysical implements the physical half of §4.3's rm: delete the row
// with the given physical path on the matching host.
func (s *Store) RemovePhysical(location string, isAddr bool, path string) (RemoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id uint64
	found := false
	for rid, rec := range s.records {
		if rec.PhysicalPath != path {
			continue
		}
		hostMatch := rec.HostAddr == location
		if !isAddr {
			hostMatch = rec.HostName == location
		}
		if hostMatch {
			id, found = rid, true
			break
		}
	}
	if !found {
		return RemoveNotFound, nil
	}
	if err := s.deleteIDLocked(id); err != nil {
		return RemoveNotFound, err
	}
	return RemoveDeleted, nil
}

// Evict removes every record owned by hostName. Records that carry a
// logical path are removed as a subtree delete (§3.2 invariant 5: eviction
// is transitive, not a bare detach), so that any descendant logical paths
// disappear along with their now-orphaned ancestor, regardless of which
// host those descendants happen to belong to. Bare physical-only rows
// owned by the host are deleted outright.
func (s *Store) Evict(hostName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.records)

	var logicalRoots []string
	var bareIDs []uint64
	for id, rec := range s.records {
		if rec.HostName != hostName {
			continue
		}
		if rec.LogicalPath != "" {
			logicalRoots = append(logicalRoots, rec.LogicalPath)
		} else {
			bareIDs = append(bareIDs, id)
		}
	}

	for _, root := range logicalRoots {
		if _, stillThere := s.records[idForLogical(s.records, root)]; !stillThere {
			continue // already removed by an earlier, shallower root's subtree delete
		}
		if err := s.deleteSubtreeLocked(root); err != nil {
			return 0, err
		}
	}
	for _, id := range bareIDs {
		if _, ok := s.records[id]; !ok {
			continue
		}
		if err := s.deleteIDLocked(id); err != nil {
			return 0, err
		}
	}

	return before - len(s.records), nil
}

func idForLogical(records map[uint64]Record, logical string) uint64 {
	for id, rec := range records {
		if rec.LogicalPath == logical {
			return id
		}
	}
	return 0
}
