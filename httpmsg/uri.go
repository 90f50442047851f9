package httpmsg

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

const unwiseChars = "<>#\"{}|\\^[]`"

const upperHex = "0123456789ABCDEF"

// EscapeURI percent-encodes the unwise and delimiter characters and spaces
// of a possibly partially escaped URI. A '%' followed by two hex digits is
// taken as already escaped.
func EscapeURI(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				sb.WriteByte(c)
			} else {
				sb.WriteString("%25")
			}
		case c == ' ' || strings.IndexByte(unwiseChars, c) >= 0:
			sb.WriteByte('%')
			sb.WriteByte(upperHex[c>>4])
			sb.WriteByte(upperHex[c&0x0f])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// ParseURILenient parses s as a URI, retrying with EscapeURI applied when the
// strict parse fails.
func ParseURILenient(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err == nil {
		return u, nil
	}
	u, err2 := url.Parse(EscapeURI(s))
	if err2 != nil {
		return nil, errors.Wrapf(err, "parse URI %q", s)
	}
	return u, nil
}

// DefaultPort returns the well known port of an http(s) scheme.
func DefaultPort(scheme string) int {
	if strings.EqualFold(scheme, SchemeHTTPS) {
		return 443
	}
	return 80
}

// portOf returns the explicit port of u or the scheme default.
func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	return DefaultPort(u.Scheme)
}

// hostFieldValue renders the Host field for u, omitting a default port.
func hostFieldValue(u *url.URL) string {
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if p := u.Port(); p != "" && p != strconv.Itoa(DefaultPort(u.Scheme)) {
		return host + ":" + p
	}
	return host
}

// splitAuthority splits a CONNECT target into host and port. A missing port
// means 443.
func splitAuthority(authority string) (string, int, error) {
	idx := strings.LastIndex(authority, ":")
	if idx <= 0 || strings.HasSuffix(authority, "]") {
		return strings.Trim(authority, "[]"), 443, nil
	}
	port, err := strconv.Atoi(authority[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, &HeaderError{Line: authority, Reason: "invalid authority port"}
	}
	return strings.Trim(authority[:idx], "[]"), port, nil
}

func joinAuthority(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func copyURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
