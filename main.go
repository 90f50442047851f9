package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mohamedbeat/gyxy/logger"
	"github.com/mohamedbeat/gyxy/network"
	"github.com/mohamedbeat/gyxy/proxy"
	"github.com/mohamedbeat/gyxy/sender"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	addr := flag.String("addr", ":8080", "proxy listen address")
	blocked := flag.String("blocked", "blocked", "file of blocked hosts, one per line")
	fetch := flag.String("url", "", "fetch this URL through the sender and exit")
	follow := flag.Bool("follow", false, "follow redirects when fetching -url")
	upstream := flag.String("upstream", "", "upstream HTTP proxy host:port")
	socks := flag.String("socks", "", "SOCKS5 proxy host:port")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	// Initialize logger
	cfg := logger.DefaultConfig()
	if *debug {
		cfg.Level = zapcore.DebugLevel
	}
	logg, err := logger.InitLogger(cfg)
	if err != nil {
		log.Fatal("Error initializing logger:", err)
	}
	defer logg.Sync()

	senderCfg := sender.DefaultConfig()
	senderCfg.FollowRedirects = *follow
	if err := configureConnection(&senderCfg.Connection, *upstream, *socks); err != nil {
		logg.Fatal("Invalid proxy settings", zap.Error(err))
	}
	s := sender.New(senderCfg, nil, logg)
	defer s.Close()

	if *fetch != "" {
		if err := fetchURL(s, *fetch); err != nil {
			logg.Error("Fetch failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	matchers, err := loadBlocked(*blocked)
	if err != nil {
		logg.Fatal("Error loading blocked hosts", zap.Error(err))
	}

	// Create and start proxy
	p := proxy.New(logg, s, matchers)
	if err := p.Start(*addr); err != nil {
		logg.Fatal("Proxy server failed", zap.Error(err))
	}
}

func configureConnection(param *network.ConnectionParam, upstream, socks string) error {
	if upstream != "" {
		host, port, err := splitHostPort(upstream)
		if err != nil {
			return errors.Wrap(err, "upstream")
		}
		param.UseProxyChain = true
		param.ProxyChainName, param.ProxyChainPort = host, port
		param.ProxyChainUserName = os.Getenv("GYXY_PROXY_USER")
		param.ProxyChainPassword = os.Getenv("GYXY_PROXY_PASSWORD")
	}
	if socks != "" {
		host, port, err := splitHostPort(socks)
		if err != nil {
			return errors.Wrap(err, "socks")
		}
		param.UseSocksProxy = true
		param.SocksHost, param.SocksPort = host, port
		param.SocksDNSRemote = true
	}
	return nil
}

func splitHostPort(hostport string) (string, int, error) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, errors.Wrapf(err, "invalid port %q", p)
	}
	return host, port, nil
}

// loadBlocked returns no matchers when the default file is absent.
func loadBlocked(path string) ([]*network.DomainMatcher, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == "blocked" {
		return nil, nil
	}
	return network.LoadDomainMatchers(path)
}

func fetchURL(s *sender.Sender, rawURL string) error {
	msg, err := s.NewMessage(rawURL)
	if err != nil {
		return err
	}
	if err := s.SendAndReceive(context.Background(), msg); err != nil {
		return err
	}

	resp := msg.ResponseHeader()
	fmt.Fprint(os.Stderr, logger.StatusColor(resp.StatusCode()).Sprint(resp.StartLine())+"\r\n")
	fmt.Fprint(os.Stderr, color.CyanString(resp.HeadersString()))
	fmt.Fprintln(os.Stderr)
	_, err = os.Stdout.Write(msg.ResponseBody().Content())
	return err
}
