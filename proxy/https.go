package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

func (p *Proxy) handleHTTPS(client net.Conn, reader *bufio.Reader) {
	target, domain, err := p.processConnectRequest(reader)
	if err != nil {
		p.Logger.Error("Failed to process CONNECT request", zap.Error(err))
		return
	}

	if shouldBlock := p.checkAndBlockHost(client, domain); shouldBlock {
		return
	}

	if err := p.establishTunnel(client, reader, target); err != nil {
		p.Logger.Error("Tunneling failed", zap.Error(err))
	}
}

// Connection Request Handling
func (p *Proxy) processConnectRequest(reader *bufio.Reader) (string, string, error) {
	raw, err := readHeaderBlock(reader)
	if err != nil {
		return "", "", errors.Wrap(err, "error reading CONNECT request")
	}
	req, err := httpmsg.ParseRequestHeader(raw, true)
	if err != nil {
		return "", "", errors.Wrap(err, "malformed CONNECT request")
	}

	target := net.JoinHostPort(req.HostName(), strconv.Itoa(req.HostPort()))
	return target, req.HostName(), nil
}

func (p *Proxy) sendForbiddenResponse(client net.Conn, domain string) {
	htmlContent := fmt.Sprintf(forbiddenHTMLTemplate, domain)
	response := fmt.Sprintf("HTTP/1.1 403 Forbidden\r\n"+
		"Content-Type: text/html; charset=utf-8\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", len(htmlContent), htmlContent)

	if _, err := client.Write([]byte(response)); err != nil {
		p.Logger.Error("Failed to send 403 response", zap.Error(err))
	}
}

// establishTunnel relays raw bytes between the client and target.
func (p *Proxy) establishTunnel(client net.Conn, reader *bufio.Reader, target string) error {
	server, err := net.DialTimeout("tcp", target, p.Sender.Config().SocketTimeout)
	if err != nil {
		p.sendBadGatewayResponse(client, target)
		return errors.Wrap(err, "failed to connect to target")
	}
	defer server.Close()

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return errors.Wrap(err, "failed to send 200 response")
	}
	client.SetDeadline(time.Time{})

	p.Logger.Info("Tunnel established", zap.String("target", target))
	p.tunnelConnections(client, reader, server)
	return nil
}

// Connection Tunneling. Bytes the client sent ahead are read from
// clientReader first.
func (p *Proxy) tunnelConnections(client net.Conn, clientReader io.Reader, server net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer server.Close()
		io.Copy(server, clientReader)
	}()

	go func() {
		defer wg.Done()
		defer client.Close()
		if _, err := io.Copy(client, server); err != nil {
			p.Logger.Debug("Streaming error", zap.Error(err))
		}
	}()

	wg.Wait()
}
