package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/network"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

func (c *Client) dial(ctx context.Context, param *network.ConnectionParam, key, host string, port int, secure, viaProxy bool, timeout time.Duration) (*persistConn, error) {
	d := &net.Dialer{Timeout: timeout}
	target := net.JoinHostPort(host, strconv.Itoa(port))

	var conn net.Conn
	var err error
	switch {
	case viaProxy:
		conn, err = d.DialContext(ctx, "tcp", param.ProxyChainAddr())
		if err != nil {
			return nil, newError(KindProxy, "dial proxy "+param.ProxyChainAddr(), err)
		}
		if secure {
			br, err := connectTunnel(conn, target, param, timeout)
			if err != nil {
				conn.Close()
				return nil, newError(KindProxy, "CONNECT "+target, err)
			}
			conn = &bufferedConn{Conn: conn, r: br}
		}
	case param.UseSocksProxy:
		conn, err = dialSocks(ctx, d, param, host, target)
		if err != nil {
			return nil, newError(KindProxy, "socks dial "+target, err)
		}
	default:
		conn, err = d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, newError(KindDial, "dial "+target, err)
		}
	}

	if secure {
		tlsConn := tls.Client(conn, param.ClientTLSConfig(host))
		if timeout > 0 {
			tlsConn.SetDeadline(time.Now().Add(timeout))
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, newError(KindTLS, "handshake "+target, err)
		}
		conn = tlsConn
	}

	c.Logger.Debug("Connection established",
		zap.String("target", target),
		zap.Bool("secure", secure),
		zap.Bool("viaProxy", viaProxy),
		zap.Bool("socks", !viaProxy && param.UseSocksProxy))
	return &persistConn{key: key, conn: conn, br: bufio.NewReader(conn)}, nil
}

// dialSocks connects through a SOCKS5 proxy. Host names are resolved locally
// unless SocksDNSRemote is set.
func dialSocks(ctx context.Context, d *net.Dialer, param *network.ConnectionParam, host, target string) (net.Conn, error) {
	var auth *proxy.Auth
	if param.SocksUserName != "" {
		auth = &proxy.Auth{User: param.SocksUserName, Password: param.SocksPassword}
	}
	if !param.SocksDNSRemote && net.ParseIP(host) == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", host)
		}
		if len(addrs) == 0 {
			return nil, errors.Errorf("no addresses for %s", host)
		}
		_, port, _ := net.SplitHostPort(target)
		target = net.JoinHostPort(addrs[0], port)
	}
	dialer, err := proxy.SOCKS5("tcp", param.SocksAddr(), auth, d)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", target)
	}
	return dialer.Dial("tcp", target)
}

// connectTunnel asks an upstream HTTP proxy for a tunnel to target. The
// returned reader holds any tunnel bytes read past the proxy's reply.
func connectTunnel(conn net.Conn, target string, param *network.ConnectionParam, timeout time.Duration) (*bufio.Reader, error) {
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
		defer conn.SetDeadline(time.Time{})
	}
	req := "CONNECT " + target + " " + httpmsg.HTTP11 + httpmsg.CRLF +
		httpmsg.FieldHost + ": " + target + httpmsg.CRLF
	if param.UseProxyChainAuth() {
		req += httpmsg.FieldProxyAuthorize + ": " + proxyAuthorization(param) + httpmsg.CRLF
	}
	req += httpmsg.CRLF
	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, errors.Wrap(err, "write CONNECT")
	}

	br := bufio.NewReader(conn)
	raw, err := readHeaderBlock(br)
	if err != nil {
		return nil, errors.Wrap(err, "read CONNECT response")
	}
	resp, err := httpmsg.ParseResponseHeader(raw)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, errors.Errorf("proxy refused tunnel: %d %s", resp.StatusCode(), resp.ReasonPhrase())
	}
	return br, nil
}
