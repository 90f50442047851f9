package sender

import (
	"time"

	"github.com/mohamedbeat/gyxy/network"
)

// DefaultUserAgent is sent by requests built through NewMessage helpers
// when Config.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0"

// Initiators identify the component that asked for a send. Listeners use
// them to tell proxied traffic from tool generated traffic.
const (
	InitiatorProxy = iota + 1
	InitiatorManualRequest
	InitiatorSpider
	InitiatorActiveScanner
	InitiatorAuthentication
	InitiatorFuzzer
)

// Config holds the settings of a Sender.
type Config struct {
	FollowRedirects bool
	// MaxRedirects bounds the hops followed by one send.
	MaxRedirects int
	// MaxRetries is the number of extra attempts after a transport failure.
	MaxRetries   int
	RetryBackoff time.Duration

	SocketTimeout time.Duration
	UserAgent     string
	Initiator     int

	Connection network.ConnectionParam
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		FollowRedirects: false,
		MaxRedirects:    100,
		MaxRetries:      3,
		RetryBackoff:    200 * time.Millisecond,
		SocketTimeout:   60 * time.Second,
		UserAgent:       DefaultUserAgent,
		Initiator:       InitiatorManualRequest,
		Connection:      network.DefaultConnectionParam(),
	}
}

// RequestConfig overrides the redirect behaviour of a single send.
type RequestConfig struct {
	FollowRedirects bool
	// Validator vets every redirect target. Nil accepts all targets.
	Validator RedirectValidator
}
