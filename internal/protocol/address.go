package protocol

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
)

// DefaultPort is used when an address names no usable port.
const DefaultPort = 80

var (
	schemePattern = regexp.MustCompile(`^(\S+)://`)
	portPattern   = regexp.MustCompile(`:(\d+)$`)
	hostPattern   = regexp.MustCompile(`^(\S+):`)
)

// Address is a server location given as a bare host with an optional port.
type Address struct {
	Host string
	Port int
}

// ParseAddress accepts "host" or "host:port". A scheme prefix such as
// "ws://" is rejected. A missing, non-numeric or out of range port yields
// DefaultPort; anything after the last colon is stripped from the host.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("%w: need hostname to initialize reader", ErrInvalidArgument)
	}
	if schemePattern.MatchString(s) {
		return Address{}, fmt.Errorf("%w: protocol specified, need bare hostname: %q", ErrInvalidArgument, s)
	}

	addr := Address{Host: s, Port: DefaultPort}
	if m := portPattern.FindStringSubmatch(s); m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil && p > 0 && p <= 65535 {
			addr.Port = p
		}
	}
	if m := hostPattern.FindStringSubmatch(s); m != nil {
		addr.Host = m[1]
	}
	return addr, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL is the websocket endpoint for the address.
func (a Address) URL() string {
	return "ws://" + a.String() + "/"
}
