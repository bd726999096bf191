package logproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"logcore/pkg/errors"
)

// ProxyInfo is the result of parsing one PROXY protocol preamble, published
// as .proxy.* auxiliary data on every subsequent message on the connection.
type ProxyInfo struct {
	Version    int // 1 or 2
	IPVersion  int // 4 or 6, 0 for AF_UNSPEC/unix
	SourceIP   net.IP
	DestIP     net.IP
	SourcePort int
	DestPort   int
}

var proxyV2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// ParseProxyHeader sniffs the connection preamble from r and parses either
// a PROXY v1 (text) or v2 (binary) header. It returns (nil, nil) if the
// stream does not start with a recognized PROXY signature, leaving br
// positioned at the first byte of the real payload either way.
func ParseProxyHeader(br *bufio.Reader) (*ProxyInfo, error) {
	peek, err := br.Peek(len(proxyV2Signature))
	if err == nil && string(peek) == string(proxyV2Signature) {
		return parseProxyV2(br)
	}

	peek6, err := br.Peek(6)
	if err == nil && string(peek6) == "PROXY " {
		return parseProxyV1(br)
	}

	return nil, nil
}

// parseProxyV1 parses "PROXY TCP4 src dst sport dport\r\n". The original
// implementation accepts a bare '\n' terminator permissively (no '\r'
// required); that behavior is preserved intentionally per the design
// notes, not tightened.
func parseProxyV1(br *bufio.Reader) (*ProxyInfo, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "read PROXY v1 line").Wrap(err)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	fields := strings.Fields(line)
	if len(fields) != 6 || fields[0] != "PROXY" {
		return nil, errors.Parse("logproto.ParseProxyHeader", fmt.Sprintf("malformed PROXY v1 line: %q", line))
	}

	info := &ProxyInfo{Version: 1}
	switch fields[1] {
	case "TCP4":
		info.IPVersion = 4
	case "TCP6":
		info.IPVersion = 6
	case "UNKNOWN":
		return info, nil
	default:
		return nil, errors.Parse("logproto.ParseProxyHeader", fmt.Sprintf("unknown PROXY v1 protocol %q", fields[1]))
	}

	info.SourceIP = net.ParseIP(fields[2])
	info.DestIP = net.ParseIP(fields[3])
	if info.SourceIP == nil || info.DestIP == nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "invalid PROXY v1 address")
	}

	sport, err := strconv.Atoi(fields[4])
	if err != nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "invalid PROXY v1 source port").Wrap(err)
	}
	dport, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "invalid PROXY v1 dest port").Wrap(err)
	}
	info.SourcePort, info.DestPort = sport, dport

	return info, nil
}

// proxyV2 header layout: 12-byte signature, 1 byte ver/cmd, 1 byte
// fam/proto, 2 bytes big-endian address-block length, then the address
// block itself.
func parseProxyV2(br *bufio.Reader) (*ProxyInfo, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "read PROXY v2 fixed header").Wrap(err)
	}

	verCmd := hdr[12]
	version := verCmd >> 4
	cmd := verCmd & 0x0F
	if version != 2 {
		return nil, errors.Parse("logproto.ParseProxyHeader", fmt.Sprintf("unsupported PROXY v2 version %d", version))
	}

	famProto := hdr[13]
	family := famProto >> 4
	addrLen := binary.BigEndian.Uint16(hdr[14:16])

	body := make([]byte, addrLen)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, errors.Parse("logproto.ParseProxyHeader", "read PROXY v2 address block").Wrap(err)
	}

	info := &ProxyInfo{Version: 2}

	// LOCAL command (health checks, etc.) carries no address; proxied
	// connections use the PROXY command.
	if cmd == 0x00 {
		return info, nil
	}

	switch family {
	case 0x1: // AF_INET
		if len(body) < 12 {
			return nil, errors.Parse("logproto.ParseProxyHeader", "PROXY v2 IPv4 block too short")
		}
		info.IPVersion = 4
		info.SourceIP = net.IP(body[0:4])
		info.DestIP = net.IP(body[4:8])
		info.SourcePort = int(binary.BigEndian.Uint16(body[8:10]))
		info.DestPort = int(binary.BigEndian.Uint16(body[10:12]))
	case 0x2: // AF_INET6
		if len(body) < 36 {
			return nil, errors.Parse("logproto.ParseProxyHeader", "PROXY v2 IPv6 block too short")
		}
		info.IPVersion = 6
		info.SourceIP = net.IP(body[0:16])
		info.DestIP = net.IP(body[16:32])
		info.SourcePort = int(binary.BigEndian.Uint16(body[32:34]))
		info.DestPort = int(binary.BigEndian.Uint16(body[34:36]))
	default:
		// AF_UNSPEC or AF_UNIX: no routable address, but not an error.
	}

	return info, nil
}

// AuxFields renders a ProxyInfo as the .proxy.* message fields the spec
// requires to be attached to every subsequent message on the connection.
func (p *ProxyInfo) AuxFields() map[string]string {
	fields := map[string]string{
		"PROXIED_IP_VERSION": strconv.Itoa(p.IPVersion),
	}
	if p.SourceIP != nil {
		fields["PROXIED_SRCIP"] = p.SourceIP.String()
	}
	if p.DestIP != nil {
		fields["PROXIED_DSTIP"] = p.DestIP.String()
	}
	if p.SourcePort != 0 {
		fields["PROXIED_SRCPORT"] = strconv.Itoa(p.SourcePort)
	}
	if p.DestPort != 0 {
		fields["PROXIED_DSTPORT"] = strconv.Itoa(p.DestPort)
	}
	return fields
}
