package handshake

import (
	"strconv"
	"strings"
)

// Negotiate resolves the protocol for a validated response. A response
// naming a single protocol must be locally supported; otherwise the
// requester intersects lists and picks the highest mutual version.
func Negotiate(supported []string, resp *Response) (string, *Error) {
	if resp.Protocol != "" {
		for _, p := range supported {
			if p == resp.Protocol {
				return resp.Protocol, nil
			}
		}
		return "", newError(CodeNegotiationFailed, "peer chose unsupported protocol %q", resp.Protocol)
	}

	peer := resp.SupportedProtocols
	if len(peer) == 0 {
		// Peer named nothing; assume it speaks whatever we proposed.
		return supported[0], nil
	}

	var mutual []string
	for _, p := range supported {
		for _, q := range peer {
			if p == q {
				mutual = append(mutual, p)
				break
			}
		}
	}
	if len(mutual) == 0 {
		return "", newError(CodeNegotiationFailed, "no mutual protocol between %v and %v", supported, peer)
	}

	best := mutual[0]
	for _, p := range mutual[1:] {
		if compareProtocols(p, best) > 0 {
			best = p
		}
	}
	return best, nil
}

// compareProtocols orders protocol strings by their semantic version
// component, falling back to plain string comparison when either side
// does not parse.
func compareProtocols(a, b string) int {
	av, aok := parseVersion(a)
	bv, bok := parseVersion(b)
	if aok && bok {
		for i := 0; i < 3; i++ {
			if av[i] != bv[i] {
				if av[i] > bv[i] {
					return 1
				}
				return -1
			}
		}
		return 0
	}
	return strings.Compare(a, b)
}

// parseVersion reads the major.minor.patch after the last "/". Missing
// components default to 0.
func parseVersion(protocol string) ([3]int, bool) {
	version := protocol
	if i := strings.LastIndex(protocol, "/"); i >= 0 {
		version = protocol[i+1:]
	}
	parts := strings.Split(version, ".")
	if len(parts) > 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}
