package httpmsg

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Request methods with special handling.
const (
	MethodConnect = "CONNECT"
	MethodDelete  = "DELETE"
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodOptions = "OPTIONS"
	MethodPatch   = "PATCH"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodTrace   = "TRACE"
)

var requestLinePattern = regexp.MustCompile(`^(\S+)\s+(.+?)\s+((?i:HTTP)/\d+(?:\.\d+)?)$`)

var (
	imageExtensions = []string{"bmp", "ico", "jpg", "jpeg", "gif", "tiff", "tif", "png", "svg"}
	cssExtensions   = []string{"css"}
)

// RequestHeader is the request line plus fields of an HTTP request.
type RequestHeader struct {
	Header

	method   string
	uri      *url.URL
	secure   bool
	hostName string
	hostPort int
}

// ParseRequestHeader parses the text of a request header.
func ParseRequestHeader(data string, secure bool) (*RequestHeader, error) {
	h := &RequestHeader{}
	if err := h.SetMessage(data, secure); err != nil {
		return nil, err
	}
	return h, nil
}

// NewRequestHeader builds a request header with the usual default fields.
// A non-empty userAgent is sent as User-Agent.
func NewRequestHeader(method string, u *url.URL, version, userAgent string) (*RequestHeader, error) {
	h := &RequestHeader{
		method: strings.ToUpper(method),
	}
	h.version = version
	if err := h.SetURI(u); err != nil {
		return nil, err
	}
	if userAgent != "" {
		h.SetField(FieldUserAgent, userAgent)
	}
	h.SetField(FieldPragma, "no-cache")
	if version == HTTP11 {
		h.SetField(FieldCacheControl, "no-cache")
	}
	if h.method == MethodPost || h.method == MethodPut {
		h.SetField(FieldContentType, FormURLEncoded)
	}
	return h, nil
}

// SetMessage replaces the header with the parsed data. On failure the header
// is left flagged as malformed.
func (h *RequestHeader) SetMessage(data string, secure bool) error {
	*h = RequestHeader{}
	startLine, lines := splitHeader(data)
	m := requestLinePattern.FindStringSubmatch(startLine)
	if m == nil {
		h.malformed = true
		return &HeaderError{Line: startLine, Reason: "invalid request line"}
	}
	h.method = strings.ToUpper(m[1])
	h.version = strings.ToUpper(m[3])
	if err := h.parseFields(lines); err != nil {
		return err
	}
	if err := h.resolveTarget(m[2], secure); err != nil {
		h.malformed = true
		return err
	}
	h.rebuildStartLine()
	return nil
}

func (h *RequestHeader) resolveTarget(target string, secure bool) error {
	h.secure = secure
	if h.method == MethodConnect {
		return h.setAuthority(target)
	}
	u, err := ParseURILenient(target)
	if err != nil {
		return &HeaderError{Line: target, Reason: "invalid request target"}
	}
	if u.Scheme == "" {
		u, err = ParseURILenient(SchemeHTTP + "://" + h.Field(FieldHost) + target)
		if err != nil {
			return &HeaderError{Line: target, Reason: "invalid request target"}
		}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if secure && u.Scheme == SchemeHTTP {
		u.Scheme = SchemeHTTPS
	}
	h.setURIFields(u)
	return nil
}

func (h *RequestHeader) setAuthority(authority string) error {
	host, port, err := splitAuthority(authority)
	if err != nil {
		return err
	}
	h.uri = &url.URL{Host: authority}
	h.hostName = host
	h.hostPort = port
	return nil
}

func (h *RequestHeader) setURIFields(u *url.URL) {
	h.uri = copyURL(u)
	if h.uri.Scheme == SchemeHTTPS {
		h.secure = true
	}
	h.hostName = h.uri.Hostname()
	h.hostPort = portOf(h.uri)
}

func (h *RequestHeader) rebuildStartLine() {
	h.startLine = h.method + " " + h.RequestTarget(true) + " " + h.version
}

// Method returns the upper-cased request method.
func (h *RequestHeader) Method() string {
	return h.method
}

func (h *RequestHeader) SetMethod(method string) {
	h.method = strings.ToUpper(method)
	h.rebuildStartLine()
}

func (h *RequestHeader) SetVersion(version string) {
	h.version = strings.ToUpper(version)
	h.rebuildStartLine()
}

// URI returns a copy of the request URI. For CONNECT only Host is set.
func (h *RequestHeader) URI() *url.URL {
	return copyURL(h.uri)
}

// SetURI changes the request target and keeps the Host field in sync.
func (h *RequestHeader) SetURI(u *url.URL) error {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("request URI must be absolute: %v", u)
	}
	u = copyURL(u)
	u.Scheme = strings.ToLower(u.Scheme)
	h.secure = u.Scheme == SchemeHTTPS
	h.setURIFields(u)
	h.SetField(FieldHost, hostFieldValue(u))
	h.rebuildStartLine()
	return nil
}

// RequestTarget renders the target of the request line: absolute-form when
// absolute is set (proxy requests), origin-form otherwise. CONNECT always
// uses the authority.
func (h *RequestHeader) RequestTarget(absolute bool) string {
	if h.uri == nil {
		return ""
	}
	if h.method == MethodConnect {
		return h.uri.Host
	}
	if absolute {
		return h.uri.String()
	}
	return h.uri.RequestURI()
}

// PrimeLine returns the request line, in origin-form unless absolute.
func (h *RequestHeader) PrimeLine(absolute bool) string {
	return h.method + " " + h.RequestTarget(absolute) + " " + h.version
}

func (h *RequestHeader) IsSecure() bool {
	return h.secure
}

// SetSecure switches the scheme of an http(s) URI.
func (h *RequestHeader) SetSecure(secure bool) {
	h.secure = secure
	if h.uri == nil || h.method == MethodConnect {
		return
	}
	u := copyURL(h.uri)
	switch {
	case secure && u.Scheme == SchemeHTTP:
		u.Scheme = SchemeHTTPS
	case !secure && u.Scheme == SchemeHTTPS:
		u.Scheme = SchemeHTTP
	default:
		return
	}
	h.setURIFields(u)
	h.rebuildStartLine()
}

func (h *RequestHeader) HostName() string {
	return h.hostName
}

func (h *RequestHeader) HostPort() int {
	return h.hostPort
}

// IsImage reports whether the URI path names an image file.
func (h *RequestHeader) IsImage() bool {
	return h.pathHasExtension(imageExtensions)
}

func (h *RequestHeader) IsCss() bool {
	return h.pathHasExtension(cssExtensions)
}

func (h *RequestHeader) pathHasExtension(exts []string) bool {
	if h.uri == nil {
		return false
	}
	path := strings.ToLower(h.uri.Path)
	for _, ext := range exts {
		if strings.HasSuffix(path, "."+ext) {
			return true
		}
	}
	return false
}

// Cookies parses the Cookie field values into name/value pairs.
func (h *RequestHeader) Cookies() []*http.Cookie {
	var cookies []*http.Cookie
	for _, v := range h.Fields(FieldCookie) {
		v = strings.TrimSpace(v)
		if len(v) >= len(FieldCookie)+1 && strings.EqualFold(v[:len(FieldCookie)+1], FieldCookie+":") {
			v = v[len(FieldCookie)+1:]
		}
		for _, part := range strings.Split(v, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			cookies = append(cookies, &http.Cookie{
				Name:  strings.TrimSpace(name),
				Value: strings.TrimSpace(value),
			})
		}
	}
	return cookies
}

// SetCookies replaces the Cookie fields with a single field.
func (h *RequestHeader) SetCookies(cookies []*http.Cookie) {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	h.RemoveField(FieldCookie)
	if len(parts) > 0 {
		h.AddField(FieldCookie, strings.Join(parts, "; "))
	}
}

// Clone returns an independent copy.
func (h *RequestHeader) Clone() *RequestHeader {
	c := *h
	c.Header = h.Header.clone()
	c.uri = copyURL(h.uri)
	return &c
}
