package dnscache

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

func TestLookupAfterStoreWithinTTLHits(t *testing.T) {
	c := New(Options{PositiveTTL: 3 * time.Second, NegativeTTL: time.Second})
	now := time.Unix(0, 0)
	ip := net.ParseIP("10.0.0.1")

	c.Store(ip, "host1", true, now)

	name, positive, ok := c.Lookup(ip, now.Add(2*time.Second))
	if !ok || !positive || name != "host1" {
		t.Fatalf("expected cache hit for host1, got name=%q positive=%v ok=%v", name, positive, ok)
	}
}

func TestLookupAfterTTLExpiryMisses(t *testing.T) {
	c := New(Options{PositiveTTL: 3 * time.Second, NegativeTTL: time.Second})
	now := time.Unix(0, 0)
	ip := net.ParseIP("10.0.0.1")

	c.Store(ip, "host1", true, now)

	if _, _, ok := c.Lookup(ip, now.Add(3*time.Second+time.Millisecond)); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestPositiveAndNegativeTTLsAreIndependent(t *testing.T) {
	c := New(Options{PositiveTTL: 3 * time.Second, NegativeTTL: 1 * time.Second})
	now := time.Unix(0, 0)

	positiveIP := net.ParseIP("10.0.0.1")
	negativeIP := net.ParseIP("10.0.0.2")

	c.Store(positiveIP, "ok", true, now)
	c.Store(negativeIP, "", false, now)

	at2s := now.Add(2 * time.Second)
	if _, _, ok := c.Lookup(positiveIP, at2s); !ok {
		t.Fatalf("positive entry should still resolve at 2s")
	}
	if _, _, ok := c.Lookup(negativeIP, at2s); ok {
		t.Fatalf("negative entry should have expired by 2s")
	}

	at4s := now.Add(4 * time.Second)
	if _, _, ok := c.Lookup(positiveIP, at4s); ok {
		t.Fatalf("positive entry should have expired by 4s")
	}
}

func TestStaticHostsNeverEvictedAndCheckedFirst(t *testing.T) {
	c := New(Options{Capacity: 1, PositiveTTL: time.Second})
	ip := net.ParseIP("192.168.1.1")
	c.LoadStaticHosts(ip, "router.local")

	c.Store(net.ParseIP("192.168.1.2"), "dynamic1", true, time.Unix(0, 0))
	c.Store(net.ParseIP("192.168.1.3"), "dynamic2", true, time.Unix(0, 0))

	name, positive, ok := c.Lookup(ip, time.Unix(100, 0))
	if !ok || !positive || name != "router.local" {
		t.Fatalf("expected static entry to resolve regardless of TTL and LRU pressure")
	}
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Options{Capacity: 2, PositiveTTL: time.Minute})
	now := time.Unix(0, 0)

	ipA := net.ParseIP("10.0.0.1")
	ipB := net.ParseIP("10.0.0.2")
	ipC := net.ParseIP("10.0.0.3")

	c.Store(ipA, "a", true, now)
	c.Store(ipB, "b", true, now)
	c.Lookup(ipA, now) // touch A so B becomes the LRU victim
	c.Store(ipC, "c", true, now)

	if _, _, ok := c.Lookup(ipB, now); ok {
		t.Fatalf("expected B to have been evicted as least recently used")
	}
	if _, _, ok := c.Lookup(ipA, now); !ok {
		t.Fatalf("expected A to survive eviction")
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity to be enforced, got %d entries", c.Len())
	}
}

func TestLoadHostsFileParsesStandardFormat(t *testing.T) {
	c := New(Options{})
	input := strings.NewReader(`
127.0.0.1 localhost
# a comment
10.0.0.5 db1.internal db1
`)
	if err := c.LoadHostsFile(input); err != nil {
		t.Fatalf("LoadHostsFile: %v", err)
	}

	name, _, ok := c.Lookup(net.ParseIP("10.0.0.5"), time.Unix(0, 0))
	if !ok || name != "db1.internal" {
		t.Fatalf("expected db1.internal, got %q ok=%v", name, ok)
	}
}

type stubResolver struct {
	name string
	err  error
}

func (s stubResolver) ReverseLookup(ctx context.Context, ip net.IP) (string, error) {
	return s.name, s.err
}

func TestResolveWithCacheFallsBackAndCachesNegative(t *testing.T) {
	c := New(Options{PositiveTTL: time.Minute, NegativeTTL: time.Minute})
	r := stubResolver{err: errors.New("no such host")}
	ip := net.ParseIP("10.0.0.9")
	now := time.Unix(0, 0)

	name, ok := ResolveWithCache(context.Background(), c, r, ip, now)
	if ok || name != "" {
		t.Fatalf("expected failed resolve to report a miss")
	}

	if _, positive, found := c.Lookup(ip, now); !found || positive {
		t.Fatalf("expected a cached negative entry after the failed resolve")
	}
}

func TestResolveWithCacheCachesPositive(t *testing.T) {
	c := New(Options{PositiveTTL: time.Minute, NegativeTTL: time.Minute})
	r := stubResolver{name: "resolved.example"}
	ip := net.ParseIP("10.0.0.10")
	now := time.Unix(0, 0)

	name, ok := ResolveWithCache(context.Background(), c, r, ip, now)
	if !ok || name != "resolved.example" {
		t.Fatalf("expected successful resolve, got %q ok=%v", name, ok)
	}

	if cached, positive, found := c.Lookup(ip, now); !found || !positive || cached != "resolved.example" {
		t.Fatalf("expected the resolved name to be cached positively")
	}
}
