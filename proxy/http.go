package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/sender"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// hopByHop fields are consumed by the proxy and never forwarded.
var hopByHop = []string{
	httpmsg.FieldProxyConnection,
	httpmsg.FieldProxyAuthorize,
	"Keep-Alive",
	"TE",
}

func (p *Proxy) handleHTTP(client net.Conn, reader *bufio.Reader) {
	msg, err := p.parseRequest(reader)
	if err != nil {
		p.Logger.Error("Error parsing HTTP request", zap.Error(err))
		return
	}
	req := msg.RequestHeader()
	if shouldBlock := p.checkAndBlockHost(client, req.HostName()); shouldBlock {
		return
	}

	p.Logger.Info("HTTP request",
		zap.String("method", req.Method()),
		zap.String("host", req.HostName()),
		zap.String("path", req.URI().RequestURI()),
		zap.String("clientLocalAddr", client.LocalAddr().String()),
		zap.String("clientRemoteAddr", client.RemoteAddr().String()))

	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout())
	defer cancel()

	if msg.IsWebSocketUpgrade() {
		p.handleUpgrade(ctx, client, reader, msg)
		return
	}

	if err := p.Sender.SendAndReceiveWithConfig(ctx, msg, sender.RequestConfig{}); err != nil {
		p.Logger.Error("Error forwarding request", zap.Error(err))
		p.sendBadGatewayResponse(client, req.HostName())
		return
	}
	if err := p.writeResponse(client, msg); err != nil {
		p.Logger.Error("Error forwarding response", zap.Error(err))
	}
}

// sendTimeout bounds one proxied exchange, retries included.
func (p *Proxy) sendTimeout() time.Duration {
	cfg := p.Sender.Config()
	if cfg.SocketTimeout <= 0 {
		return clientTimeout
	}
	return cfg.SocketTimeout * time.Duration(cfg.MaxRetries+1)
}

// parseRequest reads the request header and body from the client.
func (p *Proxy) parseRequest(reader *bufio.Reader) (*httpmsg.Message, error) {
	raw, err := readHeaderBlock(reader)
	if err != nil {
		return nil, err
	}
	req, err := httpmsg.ParseRequestHeader(raw, false)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch {
	case req.IsTransferEncodingChunked():
		if body, err = io.ReadAll(httputil.NewChunkedReader(reader)); err != nil {
			return nil, errors.Wrap(err, "read chunked request body")
		}
		if _, err := readHeaderBlock(reader); err != nil {
			return nil, errors.Wrap(err, "read request trailer")
		}
		req.RemoveField(httpmsg.FieldTransferEncoding)
		req.SetContentLength(len(body))
	case req.ContentLength() > 0:
		if body, err = readBody(reader, int64(req.ContentLength())); err != nil {
			return nil, errors.Wrap(err, "read request body")
		}
	}
	for _, name := range hopByHop {
		req.RemoveField(name)
	}

	msg := httpmsg.NewMessageWithHeader(req)
	msg.RequestBody().SetBytes(body)
	return msg, nil
}

// readBody reads n bytes. The buffer grows with the data received rather than
// with the length the client claims.
func readBody(r io.Reader, n int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) < n {
		return nil, io.ErrUnexpectedEOF
	}
	return body, nil
}

// writeResponse writes the received response to the client. The body is
// already de-chunked, so it is framed with Content-Length.
func (p *Proxy) writeResponse(client net.Conn, msg *httpmsg.Message) error {
	header := msg.ResponseHeader().Clone()
	body := msg.ResponseBody().Bytes()
	if httpmsg.StatusHasBody(header.StatusCode()) && msg.RequestHeader().Method() != httpmsg.MethodHead {
		header.SetContentLength(len(body))
	} else {
		body = nil
	}
	header.SetField(httpmsg.FieldConnection, "close")

	if _, err := io.WriteString(client, header.String()); err != nil {
		return err
	}
	_, err := client.Write(body)
	return err
}

// handleUpgrade relays a protocol switch, then tunnels both connections.
func (p *Proxy) handleUpgrade(ctx context.Context, client net.Conn, reader *bufio.Reader, msg *httpmsg.Message) {
	server, err := p.Sender.SendAndReceiveUpgrade(ctx, msg)
	if err != nil {
		p.Logger.Error("Error forwarding upgrade request", zap.Error(err))
		p.sendBadGatewayResponse(client, msg.RequestHeader().HostName())
		return
	}
	if server == nil {
		if err := p.writeResponse(client, msg); err != nil {
			p.Logger.Error("Error forwarding response", zap.Error(err))
		}
		return
	}
	defer server.Close()

	if _, err := io.WriteString(client, msg.ResponseHeader().String()); err != nil {
		p.Logger.Error("Error forwarding upgrade response", zap.Error(err))
		return
	}
	client.SetDeadline(time.Time{})
	p.tunnelConnections(client, reader, server)
}

func (p *Proxy) sendBadGatewayResponse(client net.Conn, domain string) {
	htmlContent := fmt.Sprintf(badGatewayHTMLTemplate, domain)
	response := fmt.Sprintf("HTTP/1.1 502 Bad Gateway\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", len(htmlContent), htmlContent)

	if _, err := client.Write([]byte(response)); err != nil {
		p.Logger.Error("Failed to send 502 response", zap.Error(err))
	}
}
