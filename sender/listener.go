package sender

import (
	"context"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/mohamedbeat/gyxy/httpmsg"
)

// Listener is notified before every request is sent and after every
// response is received. Listeners run on the sending goroutine and may be
// called concurrently from different sends.
//
// Sends made from inside a callback must pass the callback's ctx so that
// they are not reported to listeners again.
//
// Listeners are identified by interface equality, so they should be pointers
// or other comparable values.
type Listener interface {
	// Order positions the listener; lower values run first.
	Order() int
	OnHTTPRequestSend(ctx context.Context, msg *httpmsg.Message, initiator int, s *Sender)
	OnHTTPResponseReceive(ctx context.Context, msg *httpmsg.Message, initiator int, s *Sender)
}

// ListenerRegistry is an ordered set of listeners that can be shared by
// several senders.
type ListenerRegistry struct {
	mu        sync.RWMutex
	listeners []Listener
}

func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{}
}

// Add registers l. Listeners with equal Order keep registration order.
func (r *ListenerRegistry) Add(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
	sort.SliceStable(r.listeners, func(i, j int) bool {
		return r.listeners[i].Order() < r.listeners[j].Order()
	})
}

func (r *ListenerRegistry) Remove(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return
	}
	i := slices.IndexFunc(r.listeners, func(x Listener) bool {
		return reflect.TypeOf(x) == reflect.TypeOf(l) && x == l
	})
	if i >= 0 {
		r.listeners = slices.Delete(r.listeners, i, i+1)
	}
}

func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

func (r *ListenerRegistry) snapshot() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.listeners)
}

type ctxKey int

const (
	inListenerKey ctxKey = iota
	authFlowKey
)

func withinListener(ctx context.Context) context.Context {
	return context.WithValue(ctx, inListenerKey, true)
}

// InListener reports whether ctx belongs to a listener callback.
func InListener(ctx context.Context) bool {
	v, _ := ctx.Value(inListenerKey).(bool)
	return v
}

func (s *Sender) notifyRequest(ctx context.Context, msg *httpmsg.Message) {
	lctx := withinListener(ctx)
	for _, l := range s.Listeners().snapshot() {
		l.OnHTTPRequestSend(lctx, msg, s.config.Initiator, s)
	}
}

func (s *Sender) notifyResponse(ctx context.Context, msg *httpmsg.Message) {
	lctx := withinListener(ctx)
	for _, l := range s.Listeners().snapshot() {
		l.OnHTTPResponseReceive(lctx, msg, s.config.Initiator, s)
	}
}
