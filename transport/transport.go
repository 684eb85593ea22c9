// Package transport builds the outbound HTTP transport used by the
// invocation client and the active health prober.
package transport

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"mini-mesh/config"
)

const (
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	keepAlive           = 30 * time.Second
)

// New builds a transport whose dial phase is bounded by the connect
// timeout. Idle connections live at most the pooled connection lifetime,
// and HTTP/2 is negotiated with endpoints that offer it over TLS.
func New(cfg *config.InvocationConfig) (*http.Transport, error) {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     cfg.PooledConnectionLifetime(),
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout(),
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout(),
		ForceAttemptHTTP2:   true,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, err
	}
	return tr, nil
}
