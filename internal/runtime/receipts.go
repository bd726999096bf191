package runtime

import (
	"encoding/binary"

	"logcore/pkg/errors"
	"logcore/pkg/logmsg"
)

const receiptKeyPrefix = "receipt/"

// ReceiptAllocator returns the ReceiptAllocator for a named source, seeded
// from whatever counter value was last committed to the persist store
// (zero if this is the first run), so receipt IDs stay strictly
// monotonic and never repeat across a restart.
func (r *Runtime) ReceiptAllocator(sourceName string) (*logmsg.ReceiptAllocator, error) {
	data, ok, err := r.Persist.GetEntry(receiptKeyPrefix + sourceName)
	if err != nil {
		return nil, errors.Persist("runtime.ReceiptAllocator", "read counter").Wrap(err)
	}
	var last uint64
	if ok && len(data) == 8 {
		last = binary.BigEndian.Uint64(data)
	}
	return logmsg.NewReceiptAllocator(last), nil
}

// SaveReceiptCounter commits alloc's high-water mark so a future restart
// resumes past it. Callers checkpoint this periodically (e.g. on a timer
// or at shutdown); Commit itself governs on-disk durability.
func (r *Runtime) SaveReceiptCounter(sourceName string, alloc *logmsg.ReceiptAllocator) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], alloc.Last())
	if err := r.Persist.PutEntry(receiptKeyPrefix+sourceName, buf[:]); err != nil {
		return errors.Persist("runtime.SaveReceiptCounter", "write counter").Wrap(err)
	}
	return r.Persist.Commit()
}
