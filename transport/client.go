package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http/httputil"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/network"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	maxHeaderBytes        = 64 * 1024
	defaultMaxIdlePerHost = 6
)

var aLongTimeAgo = time.Unix(1, 0)

// Options are the per-send connection settings.
type Options struct {
	// Timeout bounds the whole exchange; zero uses Connection.Timeout.
	Timeout    time.Duration
	Connection *network.ConnectionParam
	// Upgrade keeps the connection out of the pool and hands it to the
	// caller when the server switches protocols.
	Upgrade bool
}

// Response is a received response. The body is de-chunked but still carries
// its content encoding.
type Response struct {
	Header *httpmsg.ResponseHeader
	Body   io.ReadCloser
	// Conn is set after a 101 response to an upgrade request; the caller
	// owns it.
	Conn net.Conn
}

// Client sends HTTP/1.x requests over raw connections and keeps idle
// keep-alive connections per target. It is safe for concurrent use.
type Client struct {
	Logger         *zap.Logger
	MaxIdlePerHost int

	mu     sync.Mutex
	idle   map[string][]*persistConn
	closed bool
}

type persistConn struct {
	key  string
	conn net.Conn
	br   *bufio.Reader
}

// NewClient returns a client logging to logger.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Logger:         logger,
		MaxIdlePerHost: defaultMaxIdlePerHost,
		idle:           make(map[string][]*persistConn),
	}
}

// Execute writes the request and reads the response.
func (c *Client) Execute(ctx context.Context, req *httpmsg.RequestHeader, body []byte, opts Options) (*Response, error) {
	if req.Method() == httpmsg.MethodConnect {
		return nil, newError(KindProtocol, "execute", errors.New("CONNECT requests are tunnelled, not sent"))
	}
	param := opts.Connection
	if param == nil {
		def := network.DefaultConnectionParam()
		param = &def
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = param.Timeout
	}

	host, port, secure := req.HostName(), req.HostPort(), req.IsSecure()
	viaProxy := param.UseProxy(host)
	upgrade := opts.Upgrade || isUpgradeRequest(req)
	key := connKey(secure, host, port, viaProxy, param)

	var pc *persistConn
	if !upgrade {
		pc = c.getIdle(key)
	}
	reused := pc != nil
	if pc == nil {
		var err error
		if pc, err = c.dial(ctx, param, key, host, port, secure, viaProxy, timeout); err != nil {
			return nil, err
		}
	}
	c.Logger.Debug("Sending request",
		zap.String("method", req.Method()),
		zap.String("uri", req.RequestTarget(true)),
		zap.Bool("viaProxy", viaProxy),
		zap.Bool("reused", reused))

	if timeout > 0 {
		pc.conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		pc.conn.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	resp, reusable, err := c.roundTrip(pc, req, body, viaProxy && !secure, param)
	if err != nil {
		pc.conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(KindRead, "execute", ctxErr)
		}
		return nil, err
	}

	switch {
	case upgrade && resp.Header.StatusCode() == 101:
		pc.conn.SetDeadline(time.Time{})
		resp.Conn = &bufferedConn{Conn: pc.conn, r: pc.br}
	case reusable:
		pc.conn.SetDeadline(time.Time{})
		c.putIdle(pc)
	default:
		pc.conn.Close()
	}
	return resp, nil
}

func (c *Client) roundTrip(pc *persistConn, req *httpmsg.RequestHeader, body []byte, absolute bool, param *network.ConnectionParam) (*Response, bool, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	writeRequest(bb, req, body, absolute, param)
	if _, err := pc.conn.Write(bb.B); err != nil {
		return nil, false, newError(KindWrite, "write request", err)
	}

	for {
		raw, err := readHeaderBlock(pc.br)
		if err != nil {
			return nil, false, newError(KindRead, "read response header", err)
		}
		header, err := httpmsg.ParseResponseHeader(raw)
		if err != nil {
			return nil, false, newError(KindProtocol, "parse response header", err)
		}
		code := header.StatusCode()
		if code >= 100 && code < 200 && code != 101 {
			continue
		}
		if code == 101 {
			return &Response{Header: header, Body: emptyBody()}, false, nil
		}
		data, framed, err := readBody(pc.br, header, req.Method())
		if err != nil {
			return nil, false, err
		}
		reusable := framed && !header.IsConnectionClose() && !req.IsConnectionClose()
		return &Response{Header: header, Body: io.NopCloser(bytes.NewReader(data))}, reusable, nil
	}
}

func emptyBody() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}

// writeRequest frames the request. Absolute-form targets are used for plain
// requests through an upstream proxy.
func writeRequest(bb *bytebufferpool.ByteBuffer, req *httpmsg.RequestHeader, body []byte, absolute bool, param *network.ConnectionParam) {
	bb.WriteString(req.PrimeLine(absolute))
	bb.WriteString(httpmsg.CRLF)
	chunked := req.IsTransferEncodingChunked()
	for _, f := range req.AllFields() {
		if absolute && strings.EqualFold(f.Name, httpmsg.FieldProxyAuthorize) && param.UseProxyChainAuth() {
			continue
		}
		// Content-Length is always written from the body actually sent.
		if !chunked && strings.EqualFold(f.Name, httpmsg.FieldContentLength) {
			continue
		}
		bb.WriteString(f.Name)
		bb.WriteString(": ")
		bb.WriteString(f.Value)
		bb.WriteString(httpmsg.CRLF)
	}
	if absolute && param.UseProxyChainAuth() {
		bb.WriteString(httpmsg.FieldProxyAuthorize + ": " + proxyAuthorization(param) + httpmsg.CRLF)
	}
	if !chunked && (len(body) > 0 || req.HasField(httpmsg.FieldContentLength)) {
		bb.WriteString(httpmsg.FieldContentLength + ": " + strconv.Itoa(len(body)) + httpmsg.CRLF)
	}
	bb.WriteString(httpmsg.CRLF)
	bb.Write(body)
}

func proxyAuthorization(param *network.ConnectionParam) string {
	creds := param.ProxyChainUserName + ":" + param.ProxyChainPassword
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

// readHeaderBlock reads lines up to and including the empty line.
func readHeaderBlock(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF && sb.Len() > 0 {
				err = io.ErrUnexpectedEOF
			}
			return "", err
		}
		if sb.Len() == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		sb.WriteString(line)
		if sb.Len() > maxHeaderBytes {
			return "", errors.New("header exceeds maximum size")
		}
		if line == "\r\n" || line == "\n" {
			return sb.String(), nil
		}
	}
}

// readBody reads the response body. framed reports whether the body end was
// determined without closing the connection.
func readBody(br *bufio.Reader, header *httpmsg.ResponseHeader, method string) ([]byte, bool, error) {
	if method == httpmsg.MethodHead || !httpmsg.StatusHasBody(header.StatusCode()) {
		return nil, true, nil
	}
	switch {
	case header.IsTransferEncodingChunked():
		data, err := io.ReadAll(httputil.NewChunkedReader(br))
		if err != nil {
			return nil, false, newError(KindRead, "read chunked body", err)
		}
		if _, err := readTrailer(br); err != nil {
			return nil, false, newError(KindRead, "read chunked trailer", err)
		}
		return data, true, nil
	case header.Header.ContentLength() >= 0:
		data, err := readFixed(br, int64(header.Header.ContentLength()))
		if err != nil {
			return nil, false, newError(KindRead, "read fixed body", err)
		}
		return data, true, nil
	default:
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, false, newError(KindRead, "read body until close", err)
		}
		return data, false, nil
	}
}

// readFixed reads n bytes into a buffer that grows as data arrives, so a
// bogus Content-Length costs no more memory than the bytes actually sent.
func readFixed(r io.Reader, n int64) ([]byte, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if _, err := io.CopyN(bb, r, n); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return append([]byte(nil), bb.B...), nil
}

func readTrailer(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", err
		}
		if line == "\r\n" || line == "\n" {
			return sb.String(), nil
		}
		sb.WriteString(line)
	}
}

func isUpgradeRequest(req *httpmsg.RequestHeader) bool {
	return req.HasField(httpmsg.FieldUpgrade)
}

func connKey(secure bool, host string, port int, viaProxy bool, param *network.ConnectionParam) string {
	scheme := httpmsg.SchemeHTTP
	if secure {
		scheme = httpmsg.SchemeHTTPS
	}
	key := scheme + "://" + net.JoinHostPort(strings.ToLower(host), strconv.Itoa(port))
	switch {
	case viaProxy:
		key += "|proxy=" + param.ProxyChainAddr()
	case param.UseSocksProxy:
		key += "|socks=" + param.SocksAddr()
	}
	return key
}

func (c *Client) getIdle(key string) *persistConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := c.idle[key]
	if len(conns) == 0 {
		return nil
	}
	pc := conns[len(conns)-1]
	c.idle[key] = conns[:len(conns)-1]
	return pc
}

func (c *Client) putIdle(pc *persistConn) {
	c.mu.Lock()
	if c.closed || len(c.idle[pc.key]) >= c.MaxIdlePerHost {
		c.mu.Unlock()
		pc.conn.Close()
		return
	}
	c.idle[pc.key] = append(c.idle[pc.key], pc)
	c.mu.Unlock()
}

// Close closes the idle connections. Later responses are not pooled.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	var err error
	for key, conns := range c.idle {
		for _, pc := range conns {
			err = multierr.Append(err, pc.conn.Close())
		}
		delete(c.idle, key)
	}
	return err
}

// bufferedConn serves reads from the buffered reader first so no byte read
// ahead of an upgrade is lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}
