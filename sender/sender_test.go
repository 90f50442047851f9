package sender

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/transport"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type exchange struct {
	req  *httpmsg.RequestHeader
	body []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   []exchange
	respond func(n int, req *httpmsg.RequestHeader) (*transport.Response, error)
}

func (f *fakeTransport) Execute(_ context.Context, req *httpmsg.RequestHeader, body []byte, _ transport.Options) (*transport.Response, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, exchange{req: req.Clone(), body: append([]byte(nil), body...)})
	f.mu.Unlock()
	return f.respond(n, req)
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func respond(raw, body string) *transport.Response {
	h, err := httpmsg.ParseResponseHeader(raw)
	if err != nil {
		panic(err)
	}
	return &transport.Response{Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	return cfg
}

func newMessage(t *testing.T, method, rawURL, body string) *httpmsg.Message {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	h, err := httpmsg.NewRequestHeader(method, u, httpmsg.HTTP11, "test-agent")
	require.NoError(t, err)
	m := httpmsg.NewMessageWithHeader(h)
	if body != "" {
		m.RequestBody().SetString(body)
		h.SetContentLength(m.RequestBody().Len())
	}
	return m
}

func TestSendAndReceiveStoresResponse(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Type: text/html\r\n\r\n", "<html></html>"), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 200, msg.ResponseHeader().StatusCode())
	require.False(t, msg.ResponseHeader().HasField(httpmsg.FieldTransferEncoding))
	require.Equal(t, "<html></html>", msg.ResponseBody().String())
	require.True(t, msg.ResponseFromTargetHost)
	require.False(t, msg.TimeSent.IsZero())
}

func TestSendAndReceiveDecodesGzipBody(t *testing.T) {
	t.Parallel()

	encoded, err := httpmsg.Gzip.Encode([]byte("compressed"))
	require.NoError(t, err)
	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Encoding: gzip\r\n\r\n", string(encoded)), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, encoded, msg.ResponseBody().Bytes())
	require.Equal(t, "compressed", string(msg.ResponseBody().Content()))
}

type recordingValidator struct {
	accept   bool
	targets  []string
	received []int
}

func (v *recordingValidator) IsValid(u *url.URL) bool {
	v.targets = append(v.targets, u.String())
	return v.accept
}

func (v *recordingValidator) NotifyMessageReceived(msg *httpmsg.Message) {
	v.received = append(v.received, msg.ResponseHeader().StatusCode())
}

func TestRedirectChainStopsAtMaximum(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 302 Found\r\nLocation: /next\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	cfg := testConfig()
	cfg.MaxRedirects = 5
	s := New(cfg, ft, nil)
	msg := newMessage(t, "GET", "http://example.com/start", "")
	v := &recordingValidator{accept: true}

	err := s.SendAndReceiveWithConfig(context.Background(), msg, RequestConfig{FollowRedirects: true, Validator: v})
	require.NoError(t, err)
	require.Equal(t, 6, ft.count())
	require.Len(t, v.received, 6)
	require.Equal(t, 302, msg.ResponseHeader().StatusCode())
	require.Equal(t, "http://example.com/start", msg.RequestHeader().URI().String())
}

func TestRedirectMergesFinalResponse(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(n int, req *httpmsg.RequestHeader) (*transport.Response, error) {
		switch n {
		case 0:
			return respond("HTTP/1.1 301 Moved\r\nLocation: https://other.test/dest?x=1\r\n\r\n", ""), nil
		default:
			return respond("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n", "final"), nil
		}
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")
	v := &recordingValidator{accept: true}

	require.NoError(t, s.SendAndReceiveWithConfig(context.Background(), msg, RequestConfig{FollowRedirects: true, Validator: v}))
	require.Equal(t, 200, msg.ResponseHeader().StatusCode())
	require.Equal(t, "final", msg.ResponseBody().String())
	require.Equal(t, []string{"https://other.test/dest?x=1"}, v.targets)
	require.Equal(t, []int{301, 200}, v.received)

	second := ft.calls[1].req
	require.True(t, second.IsSecure())
	require.Equal(t, "other.test", second.Field(httpmsg.FieldHost))
	require.Equal(t, "/dest?x=1", second.RequestTarget(false))
}

func TestRedirectNotFollowedWhenDisabled(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 302 Found\r\nLocation: /next\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 1, ft.count())
}

func TestRedirectRejectedByValidator(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 307 Temporary Redirect\r\nLocation: ftp://files.test/\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	require.NoError(t, s.SendAndReceiveWithConfig(context.Background(), msg, RequestConfig{FollowRedirects: true, Validator: SchemeRedirectValidator{}}))
	require.Equal(t, 1, ft.count())
	require.Equal(t, 307, msg.ResponseHeader().StatusCode())
}

func TestInvalidRedirectLocation(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 302 Found\r\nLocation: http://example.com:port/\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	err := s.SendAndReceiveWithConfig(context.Background(), msg, RequestConfig{FollowRedirects: true})
	var lerr *InvalidRedirectLocationError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, "http://example.com:port/", lerr.Location)
}

func TestResolveLocationLenient(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("http://example.com/a/b")
	require.NoError(t, err)

	u, err := ResolveLocation(base, "c?q=1")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/a/c?q=1", u.String())

	u, err = ResolveLocation(base, "/path with space/%zz")
	require.NoError(t, err)
	require.Equal(t, "example.com", u.Host)
	require.Equal(t, "/path%20with%20space/%25zz", u.EscapedPath())
}

func TestRedirectMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		method string
		want   string
	}{
		{301, "POST", "GET"},
		{302, "POST", "GET"},
		{302, "PUT", "PUT"},
		{303, "PUT", "GET"},
		{303, "HEAD", "HEAD"},
		{303, "GET", "GET"},
		{307, "POST", "POST"},
		{308, "POST", "POST"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.status, tt.method), func(t *testing.T) {
			require.Equal(t, tt.want, RedirectMethod(tt.status, tt.method))
		})
	}
}

func TestRedirectRewritesPostToGet(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(n int, req *httpmsg.RequestHeader) (*transport.Response, error) {
		if n == 0 {
			return respond("HTTP/1.1 303 See Other\r\nLocation: /done\r\n\r\n", ""), nil
		}
		return respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	msg := newMessage(t, "POST", "http://example.com/form", "a=1")

	require.NoError(t, s.SendAndReceiveWithConfig(context.Background(), msg, RequestConfig{FollowRedirects: true}))
	require.Equal(t, []byte("a=1"), ft.calls[0].body)

	hop := ft.calls[1]
	require.Equal(t, "GET", hop.req.Method())
	require.Empty(t, hop.body)
	require.False(t, hop.req.HasField(httpmsg.FieldContentType))
	require.False(t, hop.req.HasField(httpmsg.FieldContentLength))
	require.Equal(t, "POST", msg.RequestHeader().Method())
}

func TestRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(n int, _ *httpmsg.RequestHeader) (*transport.Response, error) {
		if n < 2 {
			return nil, &transport.Error{Kind: transport.KindDial, Op: "dial", Err: errors.New("refused")}
		}
		return respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	require.NoError(t, s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/", "")))
	require.Equal(t, 3, ft.count())
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindRead, Op: "read", Err: io.ErrUnexpectedEOF}
	}}
	s := New(testConfig(), ft, nil)

	err := s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/", ""))
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, 4, terr.Attempts)
	require.Len(t, terr.Errors(), 4)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestProtocolErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return nil, &transport.Error{Kind: transport.KindProtocol, Op: "parse", Err: httpmsg.ErrMalformedHeader}
	}}
	s := New(testConfig(), ft, nil)

	err := s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/", ""))
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, 1, terr.Attempts)
	require.ErrorIs(t, err, httpmsg.ErrMalformedHeader)
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		cancel()
		return nil, &transport.Error{Kind: transport.KindDial, Op: "dial", Err: errors.New("refused")}
	}}
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour
	s := New(cfg, ft, nil)

	err := s.SendAndReceive(ctx, newMessage(t, "GET", "http://example.com/", ""))
	require.Error(t, err)
	require.Equal(t, 1, ft.count())
}

type orderedListener struct {
	order  int
	name   string
	events *[]string
	mu     *sync.Mutex
	nested func(ctx context.Context, s *Sender)
}

func (l *orderedListener) Order() int { return l.order }

func (l *orderedListener) OnHTTPRequestSend(ctx context.Context, _ *httpmsg.Message, initiator int, s *Sender) {
	l.record(fmt.Sprintf("%s:req:%d", l.name, initiator))
	if l.nested != nil {
		l.nested(ctx, s)
	}
}

func (l *orderedListener) OnHTTPResponseReceive(context.Context, *httpmsg.Message, int, *Sender) {
	l.record(l.name + ":resp")
}

func (l *orderedListener) record(e string) {
	l.mu.Lock()
	*l.events = append(*l.events, e)
	l.mu.Unlock()
}

func TestListenersRunInOrder(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	cfg := testConfig()
	cfg.Initiator = InitiatorSpider
	s := New(cfg, ft, nil)

	var events []string
	var mu sync.Mutex
	late := &orderedListener{order: 10, name: "late", events: &events, mu: &mu}
	early := &orderedListener{order: 1, name: "early", events: &events, mu: &mu}
	also := &orderedListener{order: 10, name: "also", events: &events, mu: &mu}
	s.Listeners().Add(late)
	s.Listeners().Add(early)
	s.Listeners().Add(also)

	require.NoError(t, s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/", "")))
	req := fmt.Sprintf(":req:%d", InitiatorSpider)
	require.Equal(t, []string{"early" + req, "late" + req, "also" + req, "early:resp", "late:resp", "also:resp"}, events)

	s.Listeners().Remove(late)
	require.Equal(t, 2, s.Listeners().Len())
}

func TestListenerSendsAreNotNotified(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)

	var events []string
	var mu sync.Mutex
	l := &orderedListener{name: "l", events: &events, mu: &mu}
	l.nested = func(ctx context.Context, s *Sender) {
		require.True(t, InListener(ctx))
		require.NoError(t, s.SendAndReceive(ctx, newMessage(t, "GET", "http://example.com/side", "")))
	}
	s.Listeners().Add(l)

	require.NoError(t, s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/", "")))
	require.Equal(t, 2, ft.count())
	require.Equal(t, []string{"l:req:2", "l:resp"}, events)
}

func TestSharedListenerRegistry(t *testing.T) {
	t.Parallel()

	reg := NewListenerRegistry()
	a := New(testConfig(), &fakeTransport{}, nil)
	b := New(testConfig(), &fakeTransport{}, nil)
	a.SetListeners(reg)
	b.SetListeners(reg)

	var events []string
	var mu sync.Mutex
	reg.Add(&orderedListener{name: "x", events: &events, mu: &mu})
	require.Equal(t, 1, a.Listeners().Len())
	require.Same(t, a.Listeners(), b.Listeners())
}

type fakeUser struct {
	mu            sync.Mutex
	authenticated bool
	authCalls     int
	processed     int
	authErr       error
}

func (u *fakeUser) ProcessMessageToMatchUser(msg *httpmsg.Message) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.processed++
	msg.RequestHeader().SetField(httpmsg.FieldCookie, fmt.Sprintf("session=%d", u.authCalls))
}

func (u *fakeUser) IsAuthenticated(*httpmsg.Message) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.authenticated
}

func (u *fakeUser) Authenticate(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !IsAuthenticationFlow(ctx) {
		return errors.New("not marked as authentication flow")
	}
	u.authCalls++
	return u.authErr
}

func TestForcedUserReauthenticatesOnce(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n", "login"), nil
	}}
	s := New(testConfig(), ft, nil)
	user := &fakeUser{}
	s.SetUser(user)

	msg := newMessage(t, "GET", "http://example.com/account", "")
	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 2, ft.count())
	require.Equal(t, 1, user.authCalls)
	require.Equal(t, 2, user.processed)
	require.Equal(t, "session=0", ft.calls[0].req.Field(httpmsg.FieldCookie))
	require.Equal(t, "session=1", ft.calls[1].req.Field(httpmsg.FieldCookie))
	require.Equal(t, "login", msg.ResponseBody().String())
}

func TestForcedUserSkipsImagesAndAuthenticationFlow(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Type: image/png\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	user := &fakeUser{}
	s.SetUser(user)

	require.NoError(t, s.SendAndReceive(context.Background(), newMessage(t, "GET", "http://example.com/logo.png", "")))
	require.Equal(t, 1, ft.count())
	require.Zero(t, user.authCalls)

	msg := newMessage(t, "POST", "http://example.com/login", "u=a")
	require.NoError(t, s.SendAndReceive(WithAuthenticationFlow(context.Background()), msg))
	require.Equal(t, 2, ft.count())
	require.Equal(t, 1, user.processed)
	require.False(t, ft.calls[1].req.HasField(httpmsg.FieldCookie))
}

func TestRequestingUserOverridesForcedUser(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)
	forced := &fakeUser{authenticated: true}
	requesting := &fakeUser{authenticated: true}
	s.SetUser(forced)

	msg := newMessage(t, "GET", "http://example.com/", "")
	msg.RequestingUser = requesting
	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 1, requesting.processed)
	require.Zero(t, forced.processed)
}

func TestSendAndReceiveUpgrade(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer server.Close()
	var gotUpgrade bool
	ft := &fakeTransport{}
	ft.respond = func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		resp := respond("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n", "")
		resp.Conn = client
		return resp, nil
	}
	s := New(testConfig(), upgradeRecorder{ft, &gotUpgrade}, nil)

	msg := newMessage(t, "GET", "http://example.com/ws", "")
	msg.RequestHeader().SetField(httpmsg.FieldUpgrade, "websocket")
	msg.RequestHeader().SetField(httpmsg.FieldConnection, "Upgrade")

	conn, err := s.SendAndReceiveUpgrade(context.Background(), msg)
	require.NoError(t, err)
	require.Same(t, client, conn)
	require.True(t, gotUpgrade)
	require.True(t, msg.IsWebSocketUpgrade())
	conn.Close()
}

type upgradeRecorder struct {
	*fakeTransport
	upgrade *bool
}

func (u upgradeRecorder) Execute(ctx context.Context, req *httpmsg.RequestHeader, body []byte, opts transport.Options) (*transport.Response, error) {
	*u.upgrade = opts.Upgrade
	return u.fakeTransport.Execute(ctx, req, body, opts)
}

func TestSendOverLoopback(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				br := bufio.NewReader(conn)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					for {
						l, err := br.ReadString('\n')
						if err != nil || l == "\r\n" {
							break
						}
					}
					if strings.HasPrefix(line, "GET /old ") {
						io.WriteString(conn, "HTTP/1.1 302 Found\r\nLocation: /new\r\nContent-Length: 0\r\n\r\n")
						continue
					}
					io.WriteString(conn, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nnew\r\n0\r\n\r\n")
				}
			}(conn)
		}
	}()

	cfg := testConfig()
	cfg.FollowRedirects = true
	cfg.SocketTimeout = 5 * time.Second
	s := New(cfg, nil, nil)
	defer s.Close()

	msg, err := s.NewMessage("http://" + ln.Addr().String() + "/old")
	require.NoError(t, err)
	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 200, msg.ResponseHeader().StatusCode())
	require.Equal(t, "new", msg.ResponseBody().String())
	require.Equal(t, DefaultUserAgent, msg.RequestHeader().Field(httpmsg.FieldUserAgent))
}

func TestRetriesAfterWriteOnlyForIdempotentMethods(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method   string
		kind     transport.ErrorKind
		attempts int
	}{
		{"POST", transport.KindRead, 1},
		{"POST", transport.KindWrite, 1},
		{"PATCH", transport.KindRead, 1},
		{"POST", transport.KindDial, 4},
		{"POST", transport.KindTLS, 4},
		{"GET", transport.KindRead, 4},
		{"PUT", transport.KindWrite, 4},
		{"DELETE", transport.KindRead, 4},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.kind.String(), func(t *testing.T) {
			ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
				return nil, &transport.Error{Kind: tt.kind, Op: "exchange", Err: io.ErrUnexpectedEOF}
			}}
			s := New(testConfig(), ft, nil)

			err := s.SendAndReceive(context.Background(), newMessage(t, tt.method, "http://example.com/", "a=1"))
			var terr *TransportError
			require.True(t, errors.As(err, &terr))
			require.Equal(t, tt.attempts, terr.Attempts)
			require.Equal(t, tt.attempts, ft.count())
		})
	}
}

func TestRedirectDefaultsToHTTPSchemes(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 302 Found\r\nLocation: ftp://files.test/x\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	cfg := testConfig()
	cfg.FollowRedirects = true
	s := New(cfg, ft, nil)
	msg := newMessage(t, "GET", "http://example.com/", "")

	require.NoError(t, s.SendAndReceive(context.Background(), msg))
	require.Equal(t, 1, ft.count())
	require.Equal(t, 302, msg.ResponseHeader().StatusCode())
}

// valueListener is not comparable because of its slice field.
type valueListener struct {
	tags []string
}

func (valueListener) Order() int { return 0 }

func (valueListener) OnHTTPRequestSend(context.Context, *httpmsg.Message, int, *Sender) {}

func (valueListener) OnHTTPResponseReceive(context.Context, *httpmsg.Message, int, *Sender) {}

func TestRemoveNonComparableListener(t *testing.T) {
	t.Parallel()

	var events []string
	var mu sync.Mutex
	ptr := &orderedListener{name: "p", events: &events, mu: &mu}

	reg := NewListenerRegistry()
	reg.Add(valueListener{tags: []string{"a"}})
	reg.Add(ptr)

	require.NotPanics(t, func() { reg.Remove(valueListener{tags: []string{"a"}}) })
	require.Equal(t, 2, reg.Len())

	require.NotPanics(t, func() { reg.Remove(ptr) })
	require.Equal(t, 1, reg.Len())
	require.NotPanics(t, func() { reg.Remove(nil) })
}

func TestSetListenersDuringSends(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{respond: func(int, *httpmsg.RequestHeader) (*transport.Response, error) {
		return respond("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n", ""), nil
	}}
	s := New(testConfig(), ft, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		msg := newMessage(t, "GET", "http://example.com/", "")
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.SetListeners(NewListenerRegistry())
		}()
		go func() {
			defer wg.Done()
			s.SendAndReceive(context.Background(), msg)
		}()
	}
	wg.Wait()
	require.Equal(t, 4, ft.count())
}
