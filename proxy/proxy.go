package proxy

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/logger"
	"github.com/mohamedbeat/gyxy/network"
	"github.com/mohamedbeat/gyxy/sender"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// New returns a proxy sending through s. The proxy registers a listener on
// s that logs every exchange.
func New(log *zap.Logger, s *sender.Sender, blocked []*network.DomainMatcher) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	s.Listeners().Add(&trafficLogger{logger: log})
	return &Proxy{Logger: log, Sender: s, Blocked: blocked}
}

// Start runs the proxy server
func (p *Proxy) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	p.Logger.Info("Proxy server started", zap.String("addr", addr))
	return p.Serve(listener)
}

// Serve accepts connections until the listener is closed.
func (p *Proxy) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.Logger.Error("Error accepting connection", zap.Error(err))
			continue
		}

		go p.handleConnection(conn)
	}
}

// handleConnection routes the connection to appropriate handler
func (p *Proxy) handleConnection(client net.Conn) {
	defer client.Close()
	client.SetDeadline(time.Now().Add(clientTimeout))

	reader := bufio.NewReader(client)
	peek, err := reader.Peek(7)
	if err != nil {
		p.Logger.Error("Error peeking connection", zap.Error(err))
		return
	}

	if strings.EqualFold(string(peek), httpmsg.MethodConnect) {
		p.handleHTTPS(client, reader)
	} else {
		p.handleHTTP(client, reader)
	}
}

// readHeaderBlock reads a header up to and including the empty line.
func readHeaderBlock(reader *bufio.Reader) (string, error) {
	var header strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		header.WriteString(line)
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return header.String(), nil
}

// Host Checking
func (p *Proxy) checkHost(host string, clientAddr string) bool {
	if network.MatchesAny(p.Blocked, host) {
		p.Logger.Warn("Blocked host accessed",
			zap.String("host", host),
			zap.String("client", clientAddr))
		return false
	}
	return true
}

// Host Blocking Logic
func (p *Proxy) checkAndBlockHost(client net.Conn, domain string) bool {
	if !p.checkHost(domain, client.RemoteAddr().String()) {
		p.sendForbiddenResponse(client, domain)
		return true
	}
	return false
}

// trafficLogger logs every request and response the sender handles.
type trafficLogger struct {
	logger *zap.Logger
}

func (l *trafficLogger) Order() int { return 0 }

func (l *trafficLogger) OnHTTPRequestSend(_ context.Context, msg *httpmsg.Message, _ int, _ *sender.Sender) {
	req := msg.RequestHeader()
	l.logger.Info(color.GreenString("→ Outgoing") + " " +
		color.CyanString("%-7s", req.Method()) + " " +
		color.WhiteString(req.RequestTarget(true)))
}

func (l *trafficLogger) OnHTTPResponseReceive(_ context.Context, msg *httpmsg.Message, _ int, _ *sender.Sender) {
	req, resp := msg.RequestHeader(), msg.ResponseHeader()

	durationColor := color.New(color.FgGreen)
	if msg.TimeElapsed > 100*time.Millisecond {
		durationColor = color.New(color.FgYellow)
	}
	if msg.TimeElapsed > 500*time.Millisecond {
		durationColor = color.New(color.FgRed)
	}

	l.logger.Info(color.GreenString("← Completed") + " " +
		color.CyanString("%-7s", req.Method()) + " " +
		color.WhiteString(req.RequestTarget(true)) + " " +
		logger.StatusColor(resp.StatusCode()).Sprintf("%3d", resp.StatusCode()) + " " +
		durationColor.Sprintf("%13v", msg.TimeElapsed) + " " +
		logger.HumanizeBytes(msg.ResponseBody().Len()))
}
