package proxy

import (
	"github.com/mohamedbeat/gyxy/network"
	"github.com/mohamedbeat/gyxy/sender"
	"go.uber.org/zap"
)

// Proxy is a forward HTTP proxy. Plain requests are sent through Sender;
// CONNECT requests are tunnelled without interception.
type Proxy struct {
	Logger *zap.Logger
	Sender *sender.Sender
	// Blocked hosts are refused with a 403 page.
	Blocked []*network.DomainMatcher
}
