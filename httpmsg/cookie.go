package httpmsg

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

var errInvalidCookie = errors.New("invalid set-cookie value")

var cookieTimeLayouts = []string{
	http.TimeFormat,
	time.RFC1123,
	"Mon, 02-Jan-2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
}

var cookieAttributes = map[string]struct{}{
	"comment": {}, "commenturl": {}, "discard": {}, "domain": {}, "expires": {},
	"httponly": {}, "max-age": {}, "partitioned": {}, "path": {}, "port": {},
	"samesite": {}, "secure": {}, "version": {},
}

// parseSetCookie parses one Set-Cookie value strictly: a single cookie
// whose name is a token and whose value holds only cookie-octets.
func parseSetCookie(line string) ([]*http.Cookie, error) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	name, value, ok := strings.Cut(parts[0], "=")
	name = strings.TrimSpace(name)
	value = trimCookieQuotes(strings.TrimSpace(value))
	if !ok || !httpguts.ValidHeaderFieldName(name) || !validCookieValue(value) {
		return nil, errors.Wrapf(errInvalidCookie, "%q", line)
	}
	c := &http.Cookie{Name: name, Value: value, Raw: line}
	for _, attr := range parts[1:] {
		k, v, _ := strings.Cut(attr, "=")
		applyCookieAttribute(c, strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return []*http.Cookie{c}, nil
}

// parseSetCookieLenient accepts several cookies in one value: every pair
// that is not a known attribute starts a new cookie.
func parseSetCookieLenient(line string) []*http.Cookie {
	var (
		cookies []*http.Cookie
		cur     *http.Cookie
	)
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, hasValue := strings.Cut(part, "=")
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if _, attr := cookieAttributes[strings.ToLower(k)]; attr && cur != nil {
			applyCookieAttribute(cur, k, v)
			continue
		}
		if !hasValue || !httpguts.ValidHeaderFieldName(k) {
			continue
		}
		cur = &http.Cookie{Name: k, Value: trimCookieQuotes(v), Raw: part}
		cookies = append(cookies, cur)
	}
	return cookies
}

func applyCookieAttribute(c *http.Cookie, key, value string) {
	switch strings.ToLower(key) {
	case "domain":
		c.Domain = strings.TrimPrefix(strings.ToLower(value), ".")
	case "path":
		c.Path = value
	case "max-age":
		n, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		if n <= 0 {
			n = -1
		}
		c.MaxAge = n
	case "expires":
		for _, layout := range cookieTimeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				c.Expires = t.UTC()
				c.RawExpires = value
				return
			}
		}
	case "secure":
		c.Secure = true
	case "httponly":
		c.HttpOnly = true
	case "partitioned":
		c.Partitioned = true
	case "samesite":
		switch strings.ToLower(value) {
		case "lax":
			c.SameSite = http.SameSiteLaxMode
		case "strict":
			c.SameSite = http.SameSiteStrictMode
		case "none":
			c.SameSite = http.SameSiteNoneMode
		default:
			c.SameSite = http.SameSiteDefaultMode
		}
	default:
		if key != "" {
			c.Unparsed = append(c.Unparsed, key+"="+value)
		}
	}
}

func trimCookieQuotes(v string) string {
	if len(v) > 1 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// validCookieValue checks the cookie-octet rule: visible ASCII without
// space, DQUOTE, comma, semicolon and backslash.
func validCookieValue(v string) bool {
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c <= 0x20 || c >= 0x7f || c == '"' || c == ',' || c == ';' || c == '\\' {
			return false
		}
	}
	return true
}
