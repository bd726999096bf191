package dnscache

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"logcore/pkg/errors"
)

// Resolver performs the actual reverse lookup on a cache miss. The cache
// itself never touches the network; a Resolver is only consulted by the
// caller that owns the Cache (internal/runtime's ResolveHostname) after
// Lookup reports a miss.
type Resolver interface {
	ReverseLookup(ctx context.Context, ip net.IP) (hostname string, err error)
}

// DNSResolver issues PTR queries with miekg/dns against a fixed set of
// nameservers, used as the cache-miss fallback when no resolver is
// injected by the embedding application (e.g. tests use a stub).
type DNSResolver struct {
	Client      *dns.Client
	Nameservers []string
	Timeout     time.Duration
}

// NewDNSResolver builds a resolver with a default UDP client.
func NewDNSResolver(nameservers []string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSResolver{
		Client:      &dns.Client{Timeout: timeout},
		Nameservers: nameservers,
		Timeout:     timeout,
	}
}

// ReverseLookup sends a PTR query for ip's in-addr.arpa/ip6.arpa name to
// each configured nameserver in turn, returning the first answer.
func (r *DNSResolver) ReverseLookup(ctx context.Context, ip net.IP) (string, error) {
	if len(r.Nameservers) == 0 {
		return "", errors.Transport("dnscache.DNSResolver", "no nameservers configured")
	}

	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return "", errors.Parse("dnscache.DNSResolver", "build reverse address").Wrap(err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	var lastErr error
	for _, ns := range r.Nameservers {
		resp, _, err := r.Client.ExchangeContext(ctx, msg, ensurePort(ns))
		if err != nil {
			lastErr = err
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		return "", errors.Transport("dnscache.DNSResolver", "no PTR record in response")
	}
	return "", errors.Transport("dnscache.DNSResolver", "all nameservers failed").Wrap(lastErr)
}

func ensurePort(ns string) string {
	if _, _, err := net.SplitHostPort(ns); err == nil {
		return ns
	}
	return net.JoinHostPort(ns, "53")
}

// ResolveWithCache is the canonical cache-miss handling sequence used by
// internal/runtime's ResolveHostname: check the cache, fall back to resolver on miss, and
// store the outcome (positive or negative) back into the cache.
func ResolveWithCache(ctx context.Context, c *Cache, r Resolver, ip net.IP, now time.Time) (string, bool) {
	if name, _, ok := c.Lookup(ip, now); ok {
		return name, name != ""
	}

	name, err := r.ReverseLookup(ctx, ip)
	if err != nil {
		c.Store(ip, "", false, now)
		return "", false
	}
	c.Store(ip, name, true, now)
	return name, true
}
