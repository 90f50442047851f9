package network

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// ConnectionParam holds the outgoing connection settings shared by every
// send: socket timeout, upstream proxy chain, SOCKS proxy and TLS.
type ConnectionParam struct {
	Timeout time.Duration

	UseProxyChain      bool
	ProxyChainName     string
	ProxyChainPort     int
	ProxyChainUserName string
	ProxyChainPassword string
	// ProxyExcludedDomains are reached directly even when the chain is on.
	ProxyExcludedDomains []*DomainMatcher

	UseSocksProxy  bool
	SocksHost      string
	SocksPort      int
	SocksUserName  string
	SocksPassword  string
	SocksDNSRemote bool

	// TLSConfig is cloned for every TLS connection; ServerName is filled in
	// per host. Nil means verification is skipped, as an intercepting tool
	// talks to servers with any certificate.
	TLSConfig *tls.Config
}

// DefaultConnectionParam returns direct connections with a 60s timeout.
func DefaultConnectionParam() ConnectionParam {
	return ConnectionParam{Timeout: 60 * time.Second}
}

// UseProxy reports whether requests to host go through the proxy chain.
func (p *ConnectionParam) UseProxy(host string) bool {
	if !p.UseProxyChain || p.ProxyChainName == "" {
		return false
	}
	return !MatchesAny(p.ProxyExcludedDomains, host)
}

func (p *ConnectionParam) ProxyChainAddr() string {
	return net.JoinHostPort(p.ProxyChainName, strconv.Itoa(p.ProxyChainPort))
}

func (p *ConnectionParam) UseProxyChainAuth() bool {
	return p.ProxyChainUserName != ""
}

func (p *ConnectionParam) SocksAddr() string {
	return net.JoinHostPort(p.SocksHost, strconv.Itoa(p.SocksPort))
}

// ClientTLSConfig returns the TLS configuration for a connection to host.
func (p *ConnectionParam) ClientTLSConfig(host string) *tls.Config {
	var cfg *tls.Config
	if p.TLSConfig != nil {
		cfg = p.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS10}
	}
	if cfg.ServerName == "" && net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	return cfg
}
