package httpmsg

import (
	"hash/fnv"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Message pairs a request with its response. A Message is not safe for
// concurrent use; one send at a time per Message.
type Message struct {
	reqHeader  *RequestHeader
	reqBody    *Body
	respHeader *ResponseHeader
	respBody   *Body

	TimeSent    time.Time
	TimeElapsed time.Duration
	Note        string

	// UserObject and HistoryRef belong to the caller and are never copied.
	UserObject any
	HistoryRef any

	// RequestingUser is the principal the request must be sent as.
	RequestingUser any

	ForceIntercept         bool
	ResponseFromTargetHost bool

	ParamSource ParameterSource
}

// NewMessage returns a message with empty request and response.
func NewMessage() *Message {
	return &Message{
		reqHeader:   &RequestHeader{},
		reqBody:     &Body{},
		respHeader:  &ResponseHeader{},
		respBody:    &Body{},
		ParamSource: URLEncodedParameterSource{},
	}
}

// NewMessageFromURI returns a GET HTTP/1.1 request for u.
func NewMessageFromURI(u *url.URL, userAgent string) (*Message, error) {
	h, err := NewRequestHeader(MethodGet, u, HTTP11, userAgent)
	if err != nil {
		return nil, err
	}
	m := NewMessage()
	m.SetRequestHeader(h)
	return m, nil
}

// NewMessageWithHeader returns a message for the request header h.
func NewMessageWithHeader(h *RequestHeader) *Message {
	m := NewMessage()
	m.SetRequestHeader(h)
	return m
}

func (m *Message) RequestHeader() *RequestHeader   { return m.reqHeader }
func (m *Message) RequestBody() *Body              { return m.reqBody }
func (m *Message) ResponseHeader() *ResponseHeader { return m.respHeader }
func (m *Message) ResponseBody() *Body             { return m.respBody }

// SetRequestHeader installs h and applies its charset to the request body.
func (m *Message) SetRequestHeader(h *RequestHeader) {
	m.reqHeader = h
	m.reqBody.SetCharset(h.Charset())
}

// SetRequestHeaderString parses and installs a request header.
func (m *Message) SetRequestHeaderString(data string) error {
	h, err := ParseRequestHeader(data, m.reqHeader.IsSecure())
	if err != nil {
		return err
	}
	m.SetRequestHeader(h)
	return nil
}

func (m *Message) SetRequestBody(b *Body) {
	m.reqBody = b
	m.reqBody.SetCharset(m.reqHeader.Charset())
}

// SetResponseHeader installs h and configures the response body charset
// and content encodings from it.
func (m *Message) SetResponseHeader(h *ResponseHeader) {
	m.respHeader = h
	m.respBody.SetCharset(h.Charset())
	m.respBody.SetEncodings(EncodingsFor(h.Field(FieldContentEncoding)))
}

// SetResponseHeaderString parses and installs a response header.
func (m *Message) SetResponseHeaderString(data string) error {
	h, err := ParseResponseHeader(data)
	if err != nil {
		return err
	}
	m.SetResponseHeader(h)
	return nil
}

func (m *Message) SetResponseBody(b *Body) {
	m.respBody = b
	m.respBody.SetCharset(m.respHeader.Charset())
	m.respBody.SetEncodings(EncodingsFor(m.respHeader.Field(FieldContentEncoding)))
}

// pathQuery returns the escaped path plus query, "" meaning absent.
func pathQuery(u *url.URL) string {
	pq := u.EscapedPath()
	if u.RawQuery != "" {
		pq += "?" + u.RawQuery
	}
	return pq
}

// Equal reports whether both messages target the same resource: method,
// host and port, path and query ignoring case, and for POST the same body.
func (m *Message) Equal(o *Message) bool {
	if o == nil {
		return false
	}
	if m == o {
		return true
	}
	if !strings.EqualFold(m.reqHeader.Method(), o.reqHeader.Method()) {
		return false
	}
	u1, u2 := m.reqHeader.uri, o.reqHeader.uri
	if u1 == nil || u2 == nil {
		return u1 == nil && u2 == nil
	}
	if !strings.EqualFold(m.reqHeader.HostName(), o.reqHeader.HostName()) ||
		m.reqHeader.HostPort() != o.reqHeader.HostPort() {
		return false
	}
	if !strings.EqualFold(pathQuery(u1), pathQuery(u2)) {
		return false
	}
	if strings.EqualFold(m.reqHeader.Method(), MethodPost) {
		return m.reqBody.Equal(o.reqBody)
	}
	return true
}

// Hash is consistent with Equal.
func (m *Message) Hash() uint32 {
	h := fnv.New32a()
	h.Write([]byte(strings.ToUpper(m.reqHeader.Method())))
	if u := m.reqHeader.uri; u != nil {
		h.Write([]byte(strings.ToLower(m.reqHeader.HostName())))
		h.Write([]byte(strconv.Itoa(m.reqHeader.HostPort())))
		h.Write([]byte(strings.ToLower(pathQuery(u))))
	}
	return h.Sum32()
}

// EqualType reports whether both messages are requests of the same shape:
// same method, host, port and path, and the same parameter names. Parameter
// values are ignored.
func (m *Message) EqualType(o *Message) bool {
	if o == nil {
		return false
	}
	if !strings.EqualFold(m.reqHeader.Method(), o.reqHeader.Method()) {
		return false
	}
	u1, u2 := m.reqHeader.uri, o.reqHeader.uri
	if u1 == nil || u2 == nil {
		return u1 == nil && u2 == nil
	}
	if !strings.EqualFold(m.reqHeader.HostName(), o.reqHeader.HostName()) ||
		m.reqHeader.HostPort() != o.reqHeader.HostPort() {
		return false
	}
	p1, p2 := u1.EscapedPath(), u2.EscapedPath()
	if (p1 == "") != (p2 == "") || !strings.EqualFold(p1, p2) {
		return false
	}
	if !slices.Equal(m.ParamNames(ParamURL), o.ParamNames(ParamURL)) {
		return false
	}
	if strings.EqualFold(m.reqHeader.Method(), MethodPost) {
		return slices.Equal(m.ParamNames(ParamForm), o.ParamNames(ParamForm))
	}
	return true
}

func (m *Message) params(t ParamType) []HtmlParameter {
	if m.ParamSource == nil {
		return nil
	}
	return sortedParams(m.ParamSource.Params(m, t))
}

// URLParams returns the sorted query parameters.
func (m *Message) URLParams() []HtmlParameter { return m.params(ParamURL) }

// FormParams returns the sorted body parameters.
func (m *Message) FormParams() []HtmlParameter { return m.params(ParamForm) }

// CookieParams returns the sorted request cookies.
func (m *Message) CookieParams() []HtmlParameter { return m.params(ParamCookie) }

// ParamNames returns the sorted, distinct names of the parameters of type t.
func (m *Message) ParamNames(t ParamType) []string {
	var names []string
	for _, p := range m.params(t) {
		names = append(names, p.Name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// MutateHTTPMethod changes the request method in place, moving parameters
// between the query and the body when switching from or to POST and
// converting between authority-only and absolute targets for CONNECT. It
// reports whether anything changed.
func (m *Message) MutateHTTPMethod(method string) bool {
	method = strings.ToUpper(method)
	h := m.reqHeader
	prev := h.Method()
	if prev == method || h.uri == nil {
		return false
	}
	u := h.URI()
	body := m.reqBody.String()
	bodyChanged := false

	switch {
	case prev == MethodPost:
		if body != "" {
			query := u.RawQuery
			for _, pair := range strings.Split(body, "&") {
				if pair == "" {
					continue
				}
				if query != "" {
					query += "&"
				}
				query += pair
			}
			u.RawQuery = query
			body = ""
			bodyChanged = true
		}
	case method == MethodPost:
		if u.RawQuery != "" {
			body = u.RawQuery
			u.RawQuery = ""
			u.ForceQuery = false
			bodyChanged = true
		}
	}

	h.SetMethod(method)
	switch {
	case method == MethodConnect:
		if err := h.setAuthority(joinAuthority(h.HostName(), h.HostPort())); err != nil {
			return false
		}
	case prev == MethodConnect:
		scheme := SchemeHTTP
		if h.HostPort() == 443 {
			scheme = SchemeHTTPS
		}
		target := &url.URL{Scheme: scheme, Host: joinAuthority(h.HostName(), h.HostPort())}
		h.setURIFields(target)
		h.secure = scheme == SchemeHTTPS
	default:
		h.setURIFields(u)
	}
	h.rebuildStartLine()

	if method == MethodPost {
		h.SetField(FieldContentType, FormURLEncoded)
	} else if prev == MethodPost {
		h.RemoveField(FieldContentType)
	}
	if bodyChanged {
		m.reqBody.SetString(body)
		if n := m.reqBody.Len(); n > 0 {
			h.SetContentLength(n)
		} else {
			h.RemoveField(FieldContentLength)
		}
	}
	return true
}

// CloneRequest returns a new message with a copy of the request only.
func (m *Message) CloneRequest() *Message {
	c := NewMessage()
	c.reqHeader = m.reqHeader.Clone()
	c.reqBody = m.reqBody.Clone()
	c.ParamSource = m.ParamSource
	return c
}

// CloneAll returns a new message with copies of request and response.
// Transient attributes are not copied.
func (m *Message) CloneAll() *Message {
	c := m.CloneRequest()
	c.respHeader = m.respHeader.Clone()
	c.respBody = m.respBody.Clone()
	return c
}

// Copy is CloneAll plus the timing, note, intercept and user attributes.
func (m *Message) Copy() *Message {
	c := m.CloneAll()
	c.TimeSent = m.TimeSent
	c.TimeElapsed = m.TimeElapsed
	c.Note = m.Note
	c.ForceIntercept = m.ForceIntercept
	c.RequestingUser = m.RequestingUser
	c.ResponseFromTargetHost = m.ResponseFromTargetHost
	return c
}

// IsWebSocketUpgrade checks the response, or the request when there is no
// response yet, for Upgrade: websocket with an upgrade Connection directive.
func (m *Message) IsWebSocketUpgrade() bool {
	h := &m.reqHeader.Header
	if !m.respHeader.IsEmpty() {
		h = &m.respHeader.Header
	}
	return strings.EqualFold(strings.TrimSpace(h.Field(FieldUpgrade)), "websocket") &&
		httpguts.HeaderValuesContainsToken(h.Fields(FieldConnection), "upgrade")
}

// IsEventStream reports a server-sent events exchange.
func (m *Message) IsEventStream() bool {
	if !m.respHeader.IsEmpty() {
		return m.respHeader.HasContentType("text/event-stream")
	}
	return strings.Contains(strings.ToLower(m.reqHeader.Field(FieldAccept)), "text/event-stream")
}
