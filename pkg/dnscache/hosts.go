package dnscache

import (
	"bufio"
	"io"
	"net"
	"strings"

	"logcore/pkg/errors"
)

// LoadHostsFile parses r in /etc/hosts format and installs every
// address/hostname pair into the cache's static overlay. Lines are
// "address canonical-name [alias...]"; '#' starts a comment; blank lines
// are ignored. Only the first (canonical) name per line is installed,
// matching the reverse-lookup use case.
func (c *Cache) LoadHostsFile(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		c.LoadStaticHosts(ip, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return errors.Config("dnscache.LoadHostsFile", "scan hosts file").Wrap(err)
	}
	return nil
}
