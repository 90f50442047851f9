package httpmsg

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

var statusLinePattern = regexp.MustCompile(`^((?i:HTTP)/\d+(?:\.\d+)?)\s+(\S+)(?:\s+(.*))?$`)

// ResponseHeader is the status line plus fields of an HTTP response.
type ResponseHeader struct {
	Header

	statusCode   int
	reasonPhrase string
}

// ParseResponseHeader parses the text of a response header.
func ParseResponseHeader(data string) (*ResponseHeader, error) {
	h := &ResponseHeader{}
	if err := h.SetMessage(data); err != nil {
		return nil, err
	}
	return h, nil
}

// NewResponseHeader builds a header with the given status line and no fields.
func NewResponseHeader(version string, statusCode int, reasonPhrase string) *ResponseHeader {
	h := &ResponseHeader{statusCode: statusCode, reasonPhrase: reasonPhrase}
	h.version = version
	h.rebuildStartLine()
	return h
}

// SetMessage replaces the header with the parsed data. On failure the header
// is left flagged as malformed.
func (h *ResponseHeader) SetMessage(data string) error {
	*h = ResponseHeader{}
	startLine, lines := splitHeader(data)
	m := statusLinePattern.FindStringSubmatch(startLine)
	if m == nil {
		h.malformed = true
		return &HeaderError{Line: startLine, Reason: "invalid status line"}
	}
	code, err := strconv.Atoi(m[2])
	if err != nil || len(m[2]) != 3 || code < 100 {
		h.malformed = true
		return &HeaderError{Line: startLine, Reason: "invalid status code"}
	}
	h.version = strings.ToUpper(m[1])
	h.statusCode = code
	h.reasonPhrase = strings.TrimSpace(m[3])
	if err := h.parseFields(lines); err != nil {
		return err
	}
	h.rebuildStartLine()
	return nil
}

func (h *ResponseHeader) rebuildStartLine() {
	h.startLine = h.version + " " + strconv.Itoa(h.statusCode) + " " + h.reasonPhrase
	h.startLine = strings.TrimRight(h.startLine, " ")
}

func (h *ResponseHeader) StatusCode() int {
	return h.statusCode
}

func (h *ResponseHeader) SetStatusCode(code int) {
	h.statusCode = code
	h.rebuildStartLine()
}

func (h *ResponseHeader) ReasonPhrase() string {
	return h.reasonPhrase
}

func (h *ResponseHeader) SetReasonPhrase(reason string) {
	h.reasonPhrase = reason
	h.rebuildStartLine()
}

func (h *ResponseHeader) SetVersion(version string) {
	h.version = strings.ToUpper(version)
	h.rebuildStartLine()
}

// ContentLength returns the body length implied by the header. Statuses
// that never carry a body report 0, as does an absent field.
func (h *ResponseHeader) ContentLength() int {
	if !StatusHasBody(h.statusCode) {
		return 0
	}
	if n := h.Header.ContentLength(); n > 0 {
		return n
	}
	return 0
}

// StatusHasBody reports whether a response with code may carry a body.
func StatusHasBody(code int) bool {
	return !(code >= 100 && code < 200 || code == http.StatusNoContent || code == http.StatusNotModified)
}

// IsRedirect reports whether the status asks the client to follow Location.
func (h *ResponseHeader) IsRedirect() bool {
	switch h.statusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (h *ResponseHeader) IsImage() bool      { return h.HasContentType("image") }
func (h *ResponseHeader) IsHtml() bool       { return h.HasContentType("html") }
func (h *ResponseHeader) IsJson() bool       { return h.HasContentType("json") }
func (h *ResponseHeader) IsXml() bool        { return h.HasContentType("xml") }
func (h *ResponseHeader) IsJavaScript() bool { return h.HasContentType("javascript") }
func (h *ResponseHeader) IsCss() bool        { return h.HasContentType("css") }

// IsText reports whether the body is some textual format.
func (h *ResponseHeader) IsText() bool {
	return h.HasContentType("text", "html", "javascript", "json", "xml")
}

// HTTPCookies parses every Set-Cookie and Set-Cookie2 field. Cookies without
// a Domain attribute get defaultDomain.
func (h *ResponseHeader) HTTPCookies(defaultDomain string) []*http.Cookie {
	var cookies []*http.Cookie
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, FieldSetCookie) && !strings.EqualFold(f.Name, FieldSetCookie2) {
			continue
		}
		parsed, err := parseSetCookie(f.Value)
		if err != nil {
			parsed = parseSetCookieLenient(strings.ReplaceAll(f.Value, ",", ";"))
		}
		for _, c := range parsed {
			if c.Domain == "" {
				c.Domain = defaultDomain
			}
			cookies = append(cookies, c)
		}
	}
	return cookies
}

// Clone returns an independent copy.
func (h *ResponseHeader) Clone() *ResponseHeader {
	c := *h
	c.Header = h.Header.clone()
	return &c
}
