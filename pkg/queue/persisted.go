package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"logcore/pkg/errors"
	"logcore/pkg/persist"
)

// Codec serializes and deserializes queue entries for durable storage.
// internal/destination supplies one built on top of the wire format its
// transport already speaks, since LogMessage itself carries no built-in
// encoding.
type Codec interface {
	Encode(e Entry) ([]byte, error)
	Decode(data []byte) (Entry, error)
}

// Persisted wraps a MemoryQueue with a pkg/persist-backed durability
// layer: every PushBack/PushFront also writes the entry under the
// store, and PopFront purges it once the caller has taken ownership.
// On construction any entries left over from an unclean shutdown are
// replayed back into the in-memory queue in key order (their original
// sequence number), so an in-flight backlog survives a restart.
type Persisted struct {
	mem   *MemoryQueue
	store *persist.Store
	codec Codec
	name  string

	mu      sync.Mutex
	nextSeq uint64
}

func (p *Persisted) key(seq uint64) string {
	return fmt.Sprintf("queue/%s/%020d", p.name, seq)
}

// NewPersisted creates a Persisted queue named name over store, replaying
// any entries left from a previous run. store must already be Started.
func NewPersisted(name string, capacity int, store *persist.Store, codec Codec) (*Persisted, error) {
	p := &Persisted{
		mem:   NewMemoryQueue(capacity),
		store: store,
		codec: codec,
		name:  name,
	}

	prefix := fmt.Sprintf("queue/%s/", name)
	keys := p.store.Keys(prefix)
	sort.Strings(keys)

	var maxSeq uint64
	for _, k := range keys {
		var seq uint64
		if _, err := fmt.Sscanf(k, prefix+"%020d", &seq); err != nil {
			continue
		}
		if seq+1 > maxSeq {
			maxSeq = seq + 1
		}

		data, ok, err := p.store.GetEntry(k)
		if err != nil {
			return nil, errors.Persist("queue.NewPersisted", "replay entry").Wrap(err)
		}
		if !ok {
			continue
		}
		e, err := codec.Decode(data)
		if err != nil {
			return nil, errors.Persist("queue.NewPersisted", "decode replayed entry").Wrap(err)
		}
		if err := p.mem.PushBack(e); err != nil {
			return nil, err
		}
	}

	atomic.StoreUint64(&p.nextSeq, maxSeq)
	return p, nil
}

func (p *Persisted) persist(e Entry) (string, error) {
	seq := atomic.AddUint64(&p.nextSeq, 1) - 1
	key := p.key(seq)

	data, err := p.codec.Encode(e)
	if err != nil {
		return "", errors.Persist("queue.Persisted", "encode entry").Wrap(err)
	}
	if err := p.store.PutEntry(key, data); err != nil {
		return "", err
	}
	if err := p.store.Commit(); err != nil {
		return "", err
	}
	return key, nil
}

// PushBack persists e then enqueues it in memory.
func (p *Persisted) PushBack(e Entry) error {
	p.mu.Lock()
	key, err := p.persist(e)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if err := p.mem.PushBack(withKey(e, key)); err != nil {
		return err
	}
	return nil
}

// PushFront persists e under a fresh key (its prior on-disk copy was
// already purged by the PopFront that returned it) and reinserts it at
// the head.
func (p *Persisted) PushFront(e Entry) error {
	e = stripKey(e)
	p.mu.Lock()
	key, err := p.persist(e)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.mem.PushFront(withKey(e, key))
}

// PopFront blocks like MemoryQueue.PopFront, then purges the popped
// entry's on-disk copy — callers own the entry once this returns and
// are responsible for PushFront-ing it again on a Retry outcome.
func (p *Persisted) PopFront(ctx context.Context) (Entry, error) {
	e, err := p.mem.PopFront(ctx)
	if err != nil {
		return Entry{}, err
	}
	key := e.key
	e = stripKey(e)

	p.mu.Lock()
	purgeErr := p.store.PurgeEntry(key)
	commitErr := p.store.Commit()
	p.mu.Unlock()
	if purgeErr != nil {
		return e, purgeErr
	}
	if commitErr != nil {
		return e, commitErr
	}
	return e, nil
}

func (p *Persisted) Len() int { return p.mem.Len() }
func (p *Persisted) Close()   { p.mem.Close() }

// withKey/stripKey set and clear the unexported key field Entry carries
// so Persisted can track each in-flight entry's on-disk location without
// exposing it to callers outside this package.
func withKey(e Entry, key string) Entry {
	e.key = key
	return e
}

func stripKey(e Entry) Entry {
	e.key = ""
	return e
}
