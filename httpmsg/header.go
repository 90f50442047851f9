package httpmsg

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"
)

const (
	CRLF = "\r\n"

	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
)

// Common header field names.
const (
	FieldCacheControl     = "Cache-Control"
	FieldConnection       = "Connection"
	FieldContentEncoding  = "Content-Encoding"
	FieldContentLength    = "Content-Length"
	FieldContentType      = "Content-Type"
	FieldCookie           = "Cookie"
	FieldHost             = "Host"
	FieldLocation         = "Location"
	FieldPragma           = "Pragma"
	FieldProxyAuthorize   = "Proxy-Authorization"
	FieldProxyConnection  = "Proxy-Connection"
	FieldSetCookie        = "Set-Cookie"
	FieldSetCookie2       = "Set-Cookie2"
	FieldTransferEncoding = "Transfer-Encoding"
	FieldUpgrade          = "Upgrade"
	FieldUserAgent        = "User-Agent"
	FieldAccept           = "Accept"
)

const FormURLEncoded = "application/x-www-form-urlencoded"

// ErrMalformedHeader is the category of every structural parse failure.
var ErrMalformedHeader = errors.New("malformed HTTP header")

// HeaderError reports the line that could not be parsed.
type HeaderError struct {
	Line   string
	Reason string
}

func (e *HeaderError) Error() string {
	return "malformed HTTP header: " + e.Reason + ": " + strconv.Quote(e.Line)
}

func (e *HeaderError) Unwrap() error {
	return ErrMalformedHeader
}

// HeaderField is a single name/value line of a header.
type HeaderField struct {
	Name  string
	Value string
}

var charsetPattern = regexp.MustCompile(`(?i)charset\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s;,]+))`)

// Header holds the start line and field lines shared by requests and
// responses. The ordered field list is the only representation; the wire
// form is produced on demand by String.
type Header struct {
	startLine        string
	fields           []HeaderField
	version          string
	contentLength    int
	hasContentLength bool
	malformed        bool
}

func (h *Header) reset() {
	*h = Header{}
}

// splitHeader normalises line delimiters and returns the start line and the
// remaining field lines. Anything after the first empty line is ignored.
func splitHeader(data string) (string, []string) {
	data = normalizeLineDelimiters(data)
	if end := strings.Index(data, CRLF+CRLF); end >= 0 {
		data = data[:end]
	}
	lines := strings.Split(data, CRLF)
	return strings.TrimSpace(lines[0]), lines[1:]
}

// normalizeLineDelimiters turns every bare \n into \r\n.
func normalizeLineDelimiters(data string) string {
	if !strings.Contains(data, "\n") {
		return data
	}
	var sb strings.Builder
	sb.Grow(len(data) + 16)
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\n' && (i == 0 || data[i-1] != '\r') {
			sb.WriteByte('\r')
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (h *Header) parseFields(lines []string) error {
	for _, line := range lines {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			h.malformed = true
			return &HeaderError{Line: line, Reason: "missing colon in field line"}
		}
		h.appendField(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return nil
}

func (h *Header) appendField(name, value string) {
	h.fields = append(h.fields, HeaderField{Name: name, Value: value})
	h.trackContentLength(name, value)
}

func (h *Header) trackContentLength(name, value string) {
	if !strings.EqualFold(name, FieldContentLength) {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		h.contentLength = n
		h.hasContentLength = true
	}
}

func sanitizeFieldValue(value string) string {
	if httpguts.ValidHeaderFieldValue(value) {
		return value
	}
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == 0 {
			return ' '
		}
		return r
	}, value)
}

// IsEmpty reports whether the header has no start line.
func (h *Header) IsEmpty() bool {
	return h.startLine == ""
}

// IsMalformed reports whether the last parse failed.
func (h *Header) IsMalformed() bool {
	return h.malformed
}

func (h *Header) StartLine() string {
	return h.startLine
}

func (h *Header) Version() string {
	return h.version
}

// Field returns the first value of the named field, or "".
func (h *Header) Field(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// HasField reports whether at least one field with the name exists.
func (h *Header) HasField(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Fields returns every value of the named field in insertion order.
func (h *Header) Fields(name string) []string {
	var values []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// AllFields returns a copy of the ordered field list.
func (h *Header) AllFields() []HeaderField {
	return append([]HeaderField(nil), h.fields...)
}

// SetField replaces the first field with the given name, appending one if
// none exists. An empty value removes every field with that name.
func (h *Header) SetField(name, value string) {
	if value == "" {
		h.RemoveField(name)
		return
	}
	value = sanitizeFieldValue(value)
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			h.fields[i].Value = value
			h.trackContentLength(name, value)
			return
		}
	}
	h.appendField(name, value)
}

// AddField appends a field even if others with the same name exist.
func (h *Header) AddField(name, value string) {
	h.appendField(name, sanitizeFieldValue(value))
}

// RemoveField deletes every field with the given name.
func (h *Header) RemoveField(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	clear(h.fields[len(kept):])
	h.fields = kept
	if strings.EqualFold(name, FieldContentLength) {
		h.contentLength = 0
		h.hasContentLength = false
	}
}

// ContentLength returns the Content-Length value, or -1 when unknown.
func (h *Header) ContentLength() int {
	if !h.hasContentLength {
		return -1
	}
	return h.contentLength
}

func (h *Header) SetContentLength(n int) {
	h.SetField(FieldContentLength, strconv.Itoa(n))
}

// IsConnectionClose reports whether the connection must be closed after
// this message.
func (h *Header) IsConnectionClose() bool {
	if h.IsEmpty() {
		return true
	}
	conn := h.Field(FieldConnection)
	proxyConn := h.Field(FieldProxyConnection)
	if strings.EqualFold(h.version, HTTP10) {
		return !strings.EqualFold(conn, "Keep-Alive") && !strings.EqualFold(proxyConn, "Keep-Alive")
	}
	return strings.EqualFold(conn, "Close") || strings.EqualFold(proxyConn, "Close")
}

func (h *Header) IsTransferEncodingChunked() bool {
	for _, v := range h.Fields(FieldTransferEncoding) {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

// NormalisedContentType returns the Content-Type value in lower case.
func (h *Header) NormalisedContentType() string {
	return strings.ToLower(h.Field(FieldContentType))
}

// HasContentType reports whether the Content-Type contains any of types.
func (h *Header) HasContentType(types ...string) bool {
	ct := h.NormalisedContentType()
	if ct == "" {
		return false
	}
	for _, t := range types {
		if strings.Contains(ct, t) {
			return true
		}
	}
	return false
}

// Charset returns the charset parameter of the Content-Type, or "".
func (h *Header) Charset() string {
	m := charsetPattern.FindStringSubmatch(h.Field(FieldContentType))
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// HeadersString serialises the field lines only, each terminated by CRLF.
func (h *Header) HeadersString() string {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	h.writeFields(bb)
	return bb.String()
}

func (h *Header) writeFields(bb *bytebufferpool.ByteBuffer) {
	for _, f := range h.fields {
		bb.WriteString(f.Name)
		bb.WriteString(": ")
		bb.WriteString(f.Value)
		bb.WriteString(CRLF)
	}
}

// String returns the wire form: start line, fields and the empty line.
func (h *Header) String() string {
	if h.IsEmpty() {
		return ""
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	bb.WriteString(h.startLine)
	bb.WriteString(CRLF)
	h.writeFields(bb)
	bb.WriteString(CRLF)
	return bb.String()
}

func (h *Header) clone() Header {
	c := *h
	c.fields = append([]HeaderField(nil), h.fields...)
	return c
}
