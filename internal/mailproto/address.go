package mailproto

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/whiskeyjimbo/Watchman/internal/netline"
)

// Address extracts the bare mailbox from free text such as
// `"Ops" <ops@example.com>` or `mail ops@example.com, thanks`.
func Address(text string) string {
	text = strings.TrimSpace(text)
	if open := strings.IndexByte(text, '<'); open >= 0 {
		if end := strings.IndexByte(text[open+1:], '>'); end >= 0 {
			return strings.TrimSpace(text[open+1 : open+1+end])
		}
	}

	at := strings.IndexByte(text, '@')
	if at < 0 {
		return text
	}
	start := at
	for start > 0 && !isAddressBoundary(text[start-1]) {
		start--
	}
	end := at + 1
	for end < len(text) && !isAddressBoundary(text[end]) {
		end++
	}
	return text[start:end]
}

func isAddressBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '<', '>', '(', ')', '"', '\'', ',', ';', ':':
		return true
	}
	return false
}

// SplitAddresses normalises every entry of a comma separated list.
func SplitAddresses(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if addr := Address(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

type Server struct {
	Host string
	Port int
	Mode netline.Mode
}

func (s Server) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ParseServers turns "mx1, mx2:2525" into servers, applying defaultPort
// where none is given.
func ParseServers(list string, defaultPort int, mode netline.Mode) ([]Server, error) {
	var servers []Server
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, port := part, defaultPort
		if h, p, err := net.SplitHostPort(part); err == nil {
			n, err := parsePort(p)
			if err != nil {
				return nil, fmt.Errorf("server %q: %w", part, err)
			}
			host, port = h, n
		}
		servers = append(servers, Server{Host: host, Port: port, Mode: mode})
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no server in %q", list)
	}
	return servers, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return n, nil
}
