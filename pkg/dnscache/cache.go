// Package dnscache implements the reverse-DNS cache that internal/runtime
// consults through Runtime.ResolveHostname: an LRU over dynamic entries with independent
// positive/negative TTLs, backed by a never-evicted static-hosts overlay
// loaded from an /etc/hosts-format file.
package dnscache

import (
	"container/list"
	"net"
	"sync"
	"time"
)

// key identifies a cache slot by address family and raw address bytes, per
// the data model's {address-family, address-bytes} keying.
type key struct {
	family byte
	addr   [16]byte
}

func newKey(ip net.IP) key {
	var k key
	if v4 := ip.To4(); v4 != nil {
		k.family = 4
		copy(k.addr[:4], v4)
	} else {
		k.family = 6
		copy(k.addr[:], ip.To16())
	}
	return k
}

type entry struct {
	key      key
	hostname string
	positive bool
	expiry   time.Time
}

// Options configures a Cache's capacity and TTLs.
type Options struct {
	Capacity      int           // max dynamic (non-static) entries; 0 means DefaultCapacity
	PositiveTTL   time.Duration // expire_seconds
	NegativeTTL   time.Duration // expire_failed_seconds
}

// DefaultCapacity bounds memory use when Options.Capacity is left at zero.
const DefaultCapacity = 10000

// Cache is a DNS cache whose methods all take one mutex, so it can be
// shared between goroutines; internal/runtime holds a single Cache for the
// whole process. Each Cache keeps its own static-hosts overlay, loaded
// into that instance; there is no per-worker instance and no static table
// shared between Caches.
type Cache struct {
	mu sync.Mutex

	capacity    int
	positiveTTL time.Duration
	negativeTTL time.Duration

	ll    *list.List
	items map[key]*list.Element

	static map[key]string
}

// New creates an empty Cache. The config layer replaces zero TTLs with its
// defaults; here they simply mean "never valid", which degrades to always-miss.
func New(opts Options) *Cache {
	cap := opts.Capacity
	if cap <= 0 {
		cap = DefaultCapacity
	}
	return &Cache{
		capacity:    cap,
		positiveTTL: opts.PositiveTTL,
		negativeTTL: opts.NegativeTTL,
		ll:          list.New(),
		items:       make(map[key]*list.Element),
		static:      make(map[key]string),
	}
}

// Lookup resolves ip, checking the static overlay first and falling back
// to the dynamic LRU. An expired dynamic entry is treated as a miss
// (and evicted to make room, rather than lazily left in place).
func (c *Cache) Lookup(ip net.IP, now time.Time) (hostname string, positive bool, ok bool) {
	k := newKey(ip)

	c.mu.Lock()
	defer c.mu.Unlock()

	if name, ok := c.static[k]; ok {
		return name, true, true
	}

	el, found := c.items[k]
	if !found {
		return "", false, false
	}
	e := el.Value.(*entry)
	if now.After(e.expiry) {
		c.ll.Remove(el)
		delete(c.items, k)
		return "", false, false
	}

	c.ll.MoveToFront(el)
	return e.hostname, e.positive, true
}

// Store records a resolution outcome. positive selects PositiveTTL vs
// NegativeTTL for the expiry. Storing over an existing dynamic key
// replaces it and refreshes its LRU position.
func (c *Cache) Store(ip net.IP, hostname string, positive bool, now time.Time) {
	k := newKey(ip)
	ttl := c.negativeTTL
	if positive {
		ttl = c.positiveTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.items[k]; found {
		e := el.Value.(*entry)
		e.hostname = hostname
		e.positive = positive
		e.expiry = now.Add(ttl)
		c.ll.MoveToFront(el)
		return
	}

	e := &entry{key: k, hostname: hostname, positive: positive, expiry: now.Add(ttl)}
	el := c.ll.PushFront(e)
	c.items[k] = el

	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// LoadStaticHosts installs name for ip into the never-evicted overlay,
// consulted before the dynamic LRU on every Lookup. Callers typically
// call this once per line while parsing an /etc/hosts-format file.
func (c *Cache) LoadStaticHosts(ip net.IP, hostname string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.static[newKey(ip)] = hostname
}

// Len returns the number of dynamic (non-static) entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
