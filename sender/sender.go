package sender

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/mohamedbeat/gyxy/logger"
	"github.com/mohamedbeat/gyxy/transport"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Transport performs one physical exchange. *transport.Client implements it.
type Transport interface {
	Execute(ctx context.Context, req *httpmsg.RequestHeader, body []byte, opts transport.Options) (*transport.Response, error)
}

// Sender sends messages, following redirects, retrying failed connections,
// re-authenticating forced users and notifying listeners. It is safe for
// concurrent use; each Message must only be sent by one caller at a time.
type Sender struct {
	Logger *zap.Logger

	config    Config
	transport Transport
	listeners *ListenerRegistry

	mu   sync.RWMutex
	user User
}

// New returns a Sender. A nil transport uses a new transport.Client.
func New(cfg Config, t Transport, log *zap.Logger) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	if t == nil {
		t = transport.NewClient(log)
	}
	return &Sender{
		Logger:    log,
		config:    cfg,
		transport: t,
		listeners: NewListenerRegistry(),
	}
}

func (s *Sender) Config() Config {
	return s.config
}

func (s *Sender) Listeners() *ListenerRegistry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

// SetListeners replaces the registry, letting senders share one.
func (s *Sender) SetListeners(r *ListenerRegistry) {
	s.mu.Lock()
	s.listeners = r
	s.mu.Unlock()
}

// SetUser forces every send to be made as u. A message's RequestingUser
// takes precedence.
func (s *Sender) SetUser(u User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Sender) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Sender) userFor(msg *httpmsg.Message) User {
	if u, ok := msg.RequestingUser.(User); ok && u != nil {
		return u
	}
	return s.User()
}

// NewMessage returns a GET request for rawURL carrying the configured user
// agent.
func (s *Sender) NewMessage(rawURL string) (*httpmsg.Message, error) {
	u, err := httpmsg.ParseURILenient(rawURL)
	if err != nil {
		return nil, err
	}
	ua := s.config.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return httpmsg.NewMessageFromURI(u, ua)
}

// SendAndReceive sends msg and stores the response in it, following
// redirects when the Sender is configured to.
func (s *Sender) SendAndReceive(ctx context.Context, msg *httpmsg.Message) error {
	return s.SendAndReceiveWithConfig(ctx, msg, RequestConfig{FollowRedirects: s.config.FollowRedirects})
}

// SendAndReceiveWithConfig is SendAndReceive with per-send redirect
// settings. After redirects msg holds the last response received. A nil
// Validator follows http and https targets only.
func (s *Sender) SendAndReceiveWithConfig(ctx context.Context, msg *httpmsg.Message, rc RequestConfig) error {
	validator := rc.Validator
	if validator == nil {
		validator = SchemeRedirectValidator{}
	}
	if _, err := s.send(ctx, msg, false); err != nil {
		return err
	}
	validator.NotifyMessageReceived(msg)
	if !rc.FollowRedirects || !msg.ResponseHeader().IsRedirect() {
		return nil
	}
	return s.followRedirects(ctx, msg, validator)
}

// SendAndReceiveUpgrade sends msg without pooling its connection. When the
// server switches protocols the open connection is returned and owned by
// the caller; otherwise the returned conn is nil.
func (s *Sender) SendAndReceiveUpgrade(ctx context.Context, msg *httpmsg.Message) (net.Conn, error) {
	return s.send(ctx, msg, true)
}

func (s *Sender) followRedirects(ctx context.Context, msg *httpmsg.Message, validator RedirectValidator) error {
	current := msg
	for hop := 0; hop < s.config.MaxRedirects && current.ResponseHeader().IsRedirect(); hop++ {
		location := current.ResponseHeader().Field(httpmsg.FieldLocation)
		if location == "" {
			return nil
		}
		target, err := ResolveLocation(current.RequestHeader().URI(), location)
		if err != nil {
			return err
		}
		if !validator.IsValid(target) {
			s.Logger.Debug("Redirect rejected", zap.String("location", target.String()))
			return nil
		}

		next := current.CloneRequest()
		next.RequestingUser = current.RequestingUser
		if err := next.RequestHeader().SetURI(target); err != nil {
			return &InvalidRedirectLocationError{Location: location, Err: err}
		}
		applyRedirectMethod(next, current.ResponseHeader().StatusCode())
		s.Logger.Debug("Following redirect",
			zap.Int("hop", hop+1),
			zap.Int("status", current.ResponseHeader().StatusCode()),
			zap.String("method", next.RequestHeader().Method()),
			zap.String("location", target.String()))

		if _, err := s.send(ctx, next, false); err != nil {
			return err
		}
		validator.NotifyMessageReceived(next)
		copyResponse(msg, next)
		current = next
	}
	if current.ResponseHeader().IsRedirect() {
		s.Logger.Debug("Maximum redirects reached", zap.Int("max", s.config.MaxRedirects))
	}
	return nil
}

func copyResponse(dst, src *httpmsg.Message) {
	dst.SetResponseHeader(src.ResponseHeader().Clone())
	dst.SetResponseBody(src.ResponseBody().Clone())
	dst.TimeElapsed = src.TimeElapsed
	dst.ResponseFromTargetHost = src.ResponseFromTargetHost
}

// send performs one logical send: it makes the request match the forced
// user and retries once after re-authenticating when the session was lost.
func (s *Sender) send(ctx context.Context, msg *httpmsg.Message, upgrade bool) (net.Conn, error) {
	user := s.userFor(msg)
	if user == nil || IsAuthenticationFlow(ctx) {
		return s.sendOnce(ctx, msg, upgrade)
	}

	user.ProcessMessageToMatchUser(msg)
	conn, err := s.sendOnce(ctx, msg, upgrade)
	if err != nil || !NeedsReauthentication(msg, user) {
		return conn, err
	}

	s.Logger.Warn("Session not authenticated, re-authenticating",
		zap.String("uri", msg.RequestHeader().RequestTarget(true)))
	if conn != nil {
		conn.Close()
	}
	if err := user.Authenticate(WithAuthenticationFlow(ctx)); err != nil {
		s.Logger.Warn("Re-authentication failed", zap.Error(err))
		return nil, nil
	}
	user.ProcessMessageToMatchUser(msg)
	return s.sendOnce(ctx, msg, upgrade)
}

// sendOnce notifies listeners around one exchange with retries.
func (s *Sender) sendOnce(ctx context.Context, msg *httpmsg.Message, upgrade bool) (net.Conn, error) {
	notify := !InListener(ctx)
	msg.TimeSent = time.Now()
	if notify {
		s.notifyRequest(ctx, msg)
	}

	resp, err := s.executeWithRetry(ctx, msg, upgrade)
	if err != nil {
		msg.TimeElapsed = time.Since(msg.TimeSent)
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, &TransportError{Attempts: 1, Err: errors.Wrap(err, "read response body")}
	}
	msg.TimeElapsed = time.Since(msg.TimeSent)

	header := resp.Header
	header.RemoveField(httpmsg.FieldTransferEncoding)
	msg.SetResponseHeader(header)
	msg.ResponseBody().SetBytes(body)
	msg.ResponseFromTargetHost = true

	s.Logger.Debug("Response received",
		zap.String("uri", msg.RequestHeader().RequestTarget(true)),
		zap.Int("status", header.StatusCode()),
		zap.String("size", logger.HumanizeBytes(len(body))),
		zap.Duration("elapsed", msg.TimeElapsed))

	if notify {
		s.notifyResponse(ctx, msg)
	}
	return resp.Conn, nil
}

func (s *Sender) executeWithRetry(ctx context.Context, msg *httpmsg.Message, upgrade bool) (*transport.Response, error) {
	conn := s.config.Connection
	opts := transport.Options{
		Timeout:    s.config.SocketTimeout,
		Connection: &conn,
		Upgrade:    upgrade,
	}
	body := msg.RequestBody().Bytes()
	b := newBackoff(s.config.RetryBackoff)

	var errs error
	attempts := 0
	for {
		attempts++
		resp, err := s.transport.Execute(ctx, msg.RequestHeader(), body, opts)
		if err == nil {
			return resp, nil
		}
		errs = multierr.Append(errs, err)
		if attempts > s.config.MaxRetries || !retryable(err, msg.RequestHeader().Method()) || ctx.Err() != nil {
			break
		}
		s.Logger.Debug("Retrying request",
			zap.String("uri", msg.RequestHeader().RequestTarget(true)),
			zap.Int("attempt", attempts),
			zap.Error(err))
		if err := b.miss(ctx); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
	}
	s.Logger.Warn("Request failed",
		zap.String("uri", msg.RequestHeader().RequestTarget(true)),
		zap.Int("attempts", attempts),
		zap.Error(errs))
	return nil, &TransportError{Attempts: attempts, Err: errs}
}

// retryable reports whether another attempt could succeed and is safe.
// Failures before the request reached the server are always retried. Once
// the request may have been written, only idempotent methods are resent.
// Protocol errors are repeated by the server and are not retried.
func retryable(err error, method string) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transport.KindDial, transport.KindProxy, transport.KindTLS:
			return true
		case transport.KindProtocol:
			return false
		}
	}
	return isIdempotent(method)
}

func isIdempotent(method string) bool {
	switch strings.ToUpper(method) {
	case httpmsg.MethodGet, httpmsg.MethodHead, httpmsg.MethodOptions,
		httpmsg.MethodTrace, httpmsg.MethodPut, httpmsg.MethodDelete:
		return true
	}
	return false
}

// Close releases the transport's idle connections.
func (s *Sender) Close() error {
	if c, ok := s.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
