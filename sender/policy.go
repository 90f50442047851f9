package sender

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mohamedbeat/gyxy/httpmsg"
	"github.com/pkg/errors"
)

// User is a principal whose session a request must carry.
type User interface {
	// ProcessMessageToMatchUser rewrites the request to use the user's
	// session (cookies, tokens).
	ProcessMessageToMatchUser(msg *httpmsg.Message)
	// IsAuthenticated inspects a response for signs of a live session.
	IsAuthenticated(msg *httpmsg.Message) bool
	// Authenticate logs the user in again. ctx is marked as part of the
	// authentication flow.
	Authenticate(ctx context.Context) error
}

// WithAuthenticationFlow marks requests sent with ctx as part of logging a
// user in, so they are not rewritten to match the user.
func WithAuthenticationFlow(ctx context.Context) context.Context {
	return context.WithValue(ctx, authFlowKey, true)
}

func IsAuthenticationFlow(ctx context.Context) bool {
	v, _ := ctx.Value(authFlowKey).(bool)
	return v
}

// NeedsReauthentication reports whether the response shows that user lost
// its session. Image responses are never checked.
func NeedsReauthentication(msg *httpmsg.Message, user User) bool {
	if user == nil || msg.ResponseHeader().IsImage() {
		return false
	}
	return !user.IsAuthenticated(msg)
}

// RedirectMethod returns the method used to follow a redirect with the given
// status. 301 and 302 turn POST into GET; 303 turns everything but GET and
// HEAD into GET.
func RedirectMethod(status int, method string) string {
	method = strings.ToUpper(method)
	switch {
	case (status == 301 || status == 302) && method == httpmsg.MethodPost:
		return httpmsg.MethodGet
	case status == 303 && method != httpmsg.MethodGet && method != httpmsg.MethodHead:
		return httpmsg.MethodGet
	}
	return method
}

// applyRedirectMethod rewrites msg for a hop after status. A changed method
// drops the body and its framing fields.
func applyRedirectMethod(msg *httpmsg.Message, status int) {
	h := msg.RequestHeader()
	method := RedirectMethod(status, h.Method())
	if method == h.Method() {
		return
	}
	h.SetMethod(method)
	h.RemoveField(httpmsg.FieldContentType)
	h.RemoveField(httpmsg.FieldContentLength)
	msg.RequestBody().SetBytes(nil)
}

// ResolveLocation resolves a Location value against the request URI. A
// value that is not a valid URI is retried as unescaped text.
func ResolveLocation(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(location)
	if err != nil {
		ref, err = httpmsg.ParseURILenient(location)
		if err != nil {
			return nil, &InvalidRedirectLocationError{Location: location, Err: err}
		}
	}
	target := base.ResolveReference(ref)
	if target.Host == "" {
		return nil, &InvalidRedirectLocationError{Location: location, Err: errors.New("no host")}
	}
	return target, nil
}

// RedirectValidator vets redirect targets and sees every response of a
// redirect chain, the first one included.
type RedirectValidator interface {
	IsValid(target *url.URL) bool
	NotifyMessageReceived(msg *httpmsg.Message)
}

// SchemeRedirectValidator accepts http and https targets only.
type SchemeRedirectValidator struct{}

func (SchemeRedirectValidator) IsValid(target *url.URL) bool {
	return strings.EqualFold(target.Scheme, httpmsg.SchemeHTTP) || strings.EqualFold(target.Scheme, httpmsg.SchemeHTTPS)
}

func (SchemeRedirectValidator) NotifyMessageReceived(*httpmsg.Message) {}

// backoff is an exponential delay between retries that gives up early when
// the context ends.
type backoff struct {
	wait    time.Duration
	maxWait time.Duration
}

func newBackoff(start time.Duration) *backoff {
	return &backoff{wait: start, maxWait: start << 4}
}

// miss sleeps for the current delay and doubles it.
func (b *backoff) miss(ctx context.Context) error {
	if b.wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	b.wait <<= 1
	if b.wait > b.maxWait {
		b.wait = b.maxWait
	}
	return nil
}
