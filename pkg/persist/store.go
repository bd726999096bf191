// Package persist implements the process-wide, crash-consistent key/value
// store used for cursors, receipt counters, and other cross-restart state
// (on-disk layout per the persist-state design ported from
// original_source/persist-tool and tests/unit/test_persist_state_threaded.c).
//
// Entries are visible to Lookup as soon as Alloc/Map/Unmap return; Commit
// only governs on-disk durability, so a reader that opens the file after a
// crash between two Commits sees the directory as of the last completed
// Commit, never a torn one.
package persist

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"logcore/pkg/errors"
)

const (
	magic         = "LGCOREPS"
	formatVersion = uint32(1)
	headerSize    = 32 // magic(8) + version(4) + fileSize(8) + dirOffset(8) + crc(4)
	alignment     = 8
)

// Handle addresses a live entry. Zero is never a valid handle.
type Handle uint64

type record struct {
	handle  Handle
	key     string
	hash    uint32
	data    []byte
	version uint8
	mapped  int32 // concurrent map() count, must return to 0 before purge
	purged  bool
}

// Store is a single process-wide persistent key/value map. All exported
// methods are safe for concurrent use; writers are serialized by mu,
// Lookup/Map/Unmap take the read path where possible.
type Store struct {
	path   string
	logger *logrus.Logger

	mu         sync.RWMutex
	file       *os.File
	locker     fileLocker
	byKey      map[string]*record
	byHandle   map[Handle]*record
	nextHandle uint64
	lastOffset uint64 // next append offset in the data region, monotonic
	dirty      bool
	started    bool
}

// Options configures a Store.
type Options struct {
	Logger *logrus.Logger
}

// New creates a Store bound to path. The file is not opened until Start is
// called, matching persist_state_new/persist_state_start in the original.
func New(path string, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		path:     path,
		logger:   logger,
		byKey:    make(map[string]*record),
		byHandle: make(map[Handle]*record),
	}
}

// Start opens (or creates) the backing file, takes an advisory exclusive
// lock, and loads any existing directory. On a bad magic number or a
// header CRC failure it logs a warning and starts from an empty store;
// the header records only the current directory offset, so there is no
// fallback to an earlier directory.
func (s *Store) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return errors.Persist("persist.Start", "open persist file").Wrap(err)
	}

	locker, err := lockFile(f)
	if err != nil {
		f.Close()
		return errors.Persist("persist.Start", "acquire exclusive lock").Wrap(err)
	}

	s.file = f
	s.locker = locker

	info, err := f.Stat()
	if err != nil {
		return errors.Persist("persist.Start", "stat persist file").Wrap(err)
	}

	if info.Size() >= headerSize {
		if err := s.loadExisting(); err != nil {
			s.logger.WithError(err).Warn("persist: header load failed, starting from empty store")
		}
	} else {
		s.lastOffset = headerSize
	}

	s.started = true
	return nil
}

// Close releases the file lock and closes the backing file. It does not
// implicitly commit; callers that need durability must Commit first.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.locker != nil {
		s.locker.Unlock()
	}
	err := s.file.Close()
	s.started = false
	return err
}

// AllocEntry returns a handle for key, creating it with size zero-filled
// bytes if absent. If key already exists with a matching size its existing
// handle is returned unchanged (idempotent); if the size differs, a new
// record is staged and the old one is queued for removal at the next
// Commit.
func (s *Store) AllocEntry(key string, size int) (Handle, error) {
	if size < 0 {
		return 0, errors.Persist("persist.AllocEntry", "negative size")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[key]; ok && !existing.purged {
		if len(existing.data) == size {
			return existing.handle, nil
		}
		existing.purged = true
		delete(s.byHandle, existing.handle)
	}

	h := Handle(atomic.AddUint64(&s.nextHandle, 1))
	rec := &record{
		handle: h,
		key:    key,
		hash:   uint32(xxhash.Sum64String(key)),
		data:   make([]byte, size),
	}
	s.byKey[key] = rec
	s.byHandle[h] = rec
	s.dirty = true
	return h, nil
}

// LookupEntry resolves key to its current handle, size, and version. It
// reports false if the key does not exist or has been purged.
func (s *Store) LookupEntry(key string) (handle Handle, size int, version uint8, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, found := s.byKey[key]
	if !found || rec.purged {
		return 0, 0, 0, false
	}
	return rec.handle, len(rec.data), rec.version, true
}

// MapEntry pins handle's bytes for direct access and returns them. The
// store tolerates multiple concurrent Map calls against the same handle;
// Unmap must be called once per successful Map.
func (s *Store) MapEntry(h Handle) ([]byte, error) {
	s.mu.RLock()
	rec, ok := s.byHandle[h]
	s.mu.RUnlock()
	if !ok || rec.purged {
		return nil, errors.Persist("persist.MapEntry", fmt.Sprintf("unknown handle %d", h))
	}
	atomic.AddInt32(&rec.mapped, 1)
	return rec.data, nil
}

// UnmapEntry releases one pin taken by MapEntry. Calling it more times
// than MapEntry was called is a programming error and is reported rather
// than silently tolerated, matching the map-count/unmap-count contract.
func (s *Store) UnmapEntry(h Handle) error {
	s.mu.RLock()
	rec, ok := s.byHandle[h]
	s.mu.RUnlock()
	if !ok {
		return errors.Persist("persist.UnmapEntry", fmt.Sprintf("unknown handle %d", h))
	}
	if atomic.AddInt32(&rec.mapped, -1) < 0 {
		atomic.StoreInt32(&rec.mapped, 0)
		return errors.Persist("persist.UnmapEntry", "unmap without matching map")
	}
	return nil
}

// SetVersion updates the stored version tag for handle; used by callers
// that bump the schema of an entry's payload in place.
func (s *Store) SetVersion(h Handle, version uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byHandle[h]
	if !ok || rec.purged {
		return errors.Persist("persist.SetVersion", fmt.Sprintf("unknown handle %d", h))
	}
	rec.version = version
	s.dirty = true
	return nil
}

// MoveEntry renames oldKey to newKey, preserving its handle and data.
// Used for config-version migrations.
func (s *Store) MoveEntry(oldKey, newKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[oldKey]
	if !ok || rec.purged {
		return errors.Persist("persist.MoveEntry", fmt.Sprintf("key %q not found", oldKey))
	}
	if _, clash := s.byKey[newKey]; clash {
		return errors.Persist("persist.MoveEntry", fmt.Sprintf("key %q already exists", newKey))
	}
	delete(s.byKey, oldKey)
	rec.key = newKey
	rec.hash = uint32(xxhash.Sum64String(newKey))
	s.byKey[newKey] = rec
	s.dirty = true
	return nil
}

// PurgeEntry marks key for deletion on the next Commit.
func (s *Store) PurgeEntry(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byKey[key]
	if !ok || rec.purged {
		return errors.Persist("persist.PurgeEntry", fmt.Sprintf("key %q not found", key))
	}
	rec.purged = true
	delete(s.byKey, key)
	delete(s.byHandle, rec.handle)
	s.dirty = true
	return nil
}

// PutEntry is a convenience wrapper around AllocEntry/MapEntry/UnmapEntry
// for the common case of writing a whole value in one shot.
func (s *Store) PutEntry(key string, data []byte) error {
	h, err := s.AllocEntry(key, len(data))
	if err != nil {
		return err
	}
	buf, err := s.MapEntry(h)
	if err != nil {
		return err
	}
	copy(buf, data)
	return s.UnmapEntry(h)
}

// GetEntry is a convenience wrapper returning a copy of key's current
// value.
func (s *Store) GetEntry(key string) ([]byte, bool, error) {
	h, _, _, ok := s.LookupEntry(key)
	if !ok {
		return nil, false, nil
	}
	buf, err := s.MapEntry(h)
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), buf...)
	if err := s.UnmapEntry(h); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Keys returns the live keys with the given prefix, in no particular
// order. Used by callers that maintain their own keyspace convention on
// top of the store (e.g. pkg/queue's persisted backlog replay) rather
// than tracking membership separately.
func (s *Store) Keys(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, rec := range s.byKey {
		if rec.purged {
			continue
		}
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys
}

// Commit serializes the live entries into the on-disk layout: data region
// records appended first, then a fresh directory, fsynced, then the header
// is overwritten with a single word write so a crash mid-commit leaves the
// previous, still-valid directory in place.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return errors.Persist("persist.Commit", "store not started")
	}
	if !s.dirty {
		return nil
	}

	live := make([]*record, 0, len(s.byHandle))
	for _, rec := range s.byHandle {
		if !rec.purged {
			live = append(live, rec)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].key < live[j].key })

	offset := uint64(headerSize)
	buf := make([]byte, 0, 4096)
	entries := make([]dirEntry, 0, len(live))

	for _, rec := range live {
		recOffset := offset
		rb := encodeRecord(rec)
		buf = append(buf, rb...)
		offset += uint64(len(rb))
		entries = append(entries, dirEntry{hash: rec.hash, offset: recOffset})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	if _, err := s.file.WriteAt(buf, headerSize); err != nil {
		return errors.Persist("persist.Commit", "write data region").Wrap(err)
	}

	dirOffset := offset
	dirBytes := encodeDirectory(entries)
	if _, err := s.file.WriteAt(dirBytes, int64(dirOffset)); err != nil {
		return errors.Persist("persist.Commit", "write directory").Wrap(err)
	}

	fileSize := dirOffset + uint64(len(dirBytes))
	if err := s.file.Sync(); err != nil {
		return errors.Persist("persist.Commit", "fsync data+directory").Wrap(err)
	}

	hdr := encodeHeader(fileSize, dirOffset)
	if _, err := s.file.WriteAt(hdr, 0); err != nil {
		return errors.Persist("persist.Commit", "overwrite header").Wrap(err)
	}
	if err := s.file.Sync(); err != nil {
		return errors.Persist("persist.Commit", "fsync header").Wrap(err)
	}

	s.lastOffset = offset
	s.dirty = false
	return nil
}

type dirEntry struct {
	hash   uint32
	offset uint64
}

func encodeHeader(fileSize, dirOffset uint64) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], formatVersion)
	binary.LittleEndian.PutUint64(buf[12:20], fileSize)
	binary.LittleEndian.PutUint64(buf[20:28], dirOffset)
	crc := crc32Of(buf[:28])
	binary.LittleEndian.PutUint32(buf[28:32], crc)
	return buf
}

func encodeRecord(rec *record) []byte {
	keyBytes := []byte(rec.key)
	size := 2 + len(keyBytes) + 4 + 1 + len(rec.data)
	padded := alignUp(size)
	buf := make([]byte, padded)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(keyBytes)))
	copy(buf[2:2+len(keyBytes)], keyBytes)
	o := 2 + len(keyBytes)
	binary.LittleEndian.PutUint32(buf[o:o+4], uint32(len(rec.data)))
	o += 4
	buf[o] = rec.version
	o++
	copy(buf[o:o+len(rec.data)], rec.data)
	return buf
}

func decodeRecord(buf []byte) (key string, version uint8, data []byte, consumed int, err error) {
	if len(buf) < 2 {
		return "", 0, nil, 0, fmt.Errorf("persist: truncated record header")
	}
	keyLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	if len(buf) < 2+keyLen+4+1 {
		return "", 0, nil, 0, fmt.Errorf("persist: truncated record body")
	}
	key = string(buf[2 : 2+keyLen])
	o := 2 + keyLen
	valLen := int(binary.LittleEndian.Uint32(buf[o : o+4]))
	o += 4
	version = buf[o]
	o++
	if len(buf) < o+valLen {
		return "", 0, nil, 0, fmt.Errorf("persist: truncated record value")
	}
	data = append([]byte(nil), buf[o:o+valLen]...)
	consumed = alignUp(2 + keyLen + 4 + 1 + valLen)
	return key, version, data, consumed, nil
}

func encodeDirectory(entries []dirEntry) []byte {
	buf := make([]byte, 4+len(entries)*12)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(entries)))
	o := 4
	for _, e := range entries {
		binary.LittleEndian.PutUint32(buf[o:o+4], e.hash)
		binary.LittleEndian.PutUint64(buf[o+4:o+12], e.offset)
		o += 12
	}
	return buf
}

func alignUp(n int) int {
	if rem := n % alignment; rem != 0 {
		n += alignment - rem
	}
	return n
}

// loadExisting parses the header, validates its CRC, and replays the data
// region named by the directory into the in-memory maps. Called with mu
// held (from Start).
func (s *Store) loadExisting() error {
	hdr := make([]byte, headerSize)
	if mapped, err := mmapHeader(s.file); err == nil {
		copy(hdr, mapped)
		munmapHeader(mapped)
	} else if _, err := s.file.ReadAt(hdr, 0); err != nil {
		return err
	}
	if string(hdr[0:8]) != magic {
		s.lastOffset = headerSize
		return fmt.Errorf("persist: bad magic")
	}
	wantCRC := binary.LittleEndian.Uint32(hdr[28:32])
	if crc32Of(hdr[:28]) != wantCRC {
		return fmt.Errorf("persist: header CRC mismatch")
	}

	fileSize := binary.LittleEndian.Uint64(hdr[12:20])
	dirOffset := binary.LittleEndian.Uint64(hdr[20:28])

	dirHdr := make([]byte, 4)
	if _, err := s.file.ReadAt(dirHdr, int64(dirOffset)); err != nil {
		return err
	}
	count := int(binary.LittleEndian.Uint32(dirHdr))
	dirBuf := make([]byte, count*12)
	if count > 0 {
		if _, err := s.file.ReadAt(dirBuf, int64(dirOffset)+4); err != nil {
			return err
		}
	}

	for i := 0; i < count; i++ {
		o := i * 12
		recOffset := binary.LittleEndian.Uint64(dirBuf[o+4 : o+12])

		peek := make([]byte, 2)
		if _, err := s.file.ReadAt(peek, int64(recOffset)); err != nil {
			return err
		}
		keyLen := int(binary.LittleEndian.Uint16(peek[0:2]))
		lenBuf := make([]byte, 4)
		if _, err := s.file.ReadAt(lenBuf, int64(recOffset)+2+int64(keyLen)); err != nil {
			return err
		}
		valLen := int(binary.LittleEndian.Uint32(lenBuf))
		total := alignUp(2 + keyLen + 4 + 1 + valLen)

		full := make([]byte, total)
		if _, err := s.file.ReadAt(full, int64(recOffset)); err != nil {
			return err
		}
		key, version, data, _, err := decodeRecord(full)
		if err != nil {
			return err
		}

		h := Handle(atomic.AddUint64(&s.nextHandle, 1))
		rec := &record{handle: h, key: key, hash: uint32(xxhash.Sum64String(key)), data: data, version: version}
		s.byKey[key] = rec
		s.byHandle[h] = rec
	}

	s.lastOffset = fileSize
	return nil
}
