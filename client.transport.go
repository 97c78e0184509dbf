package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/proxy"
)

// NewHTTPClient builds the http client used to reach the remote books api.
// When a proxy address is configured all connections go through that SOCKS5 proxy.
func NewHTTPClient(config *RemoteConfig) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if config.ProxyAddr != "" {
		dialer, err := proxy.SOCKS5("tcp", config.ProxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to setup socks5 proxy (%s): %w", config.ProxyAddr, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
	}, nil
}
