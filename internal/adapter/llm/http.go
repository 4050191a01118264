package llm

import (
	"net"
	"net/http"
	"time"

	"codegen-agent/internal/infra/config"
)

// Pool defaults for model APIs: few hosts, long-lived connections.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 30 * time.Second
	defaultRespTimeout = 120 * time.Second
)

func orDefault[T int | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}

// NewPooledTransport returns a transport with the provider's dial and
// response-header timeouts and pool sizing.
func NewPooledTransport(connTimeout, respTimeout time.Duration, pool config.PoolConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   orDefault(connTimeout, defaultConnTimeout),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: orDefault(respTimeout, defaultRespTimeout),
		MaxIdleConns:          orDefault(pool.MaxIdleConns, defaultMaxIdleConns),
		MaxIdleConnsPerHost:   orDefault(pool.MaxIdleConnsPerHost, defaultMaxIdleConnsPerHost),
		MaxConnsPerHost:       orDefault(pool.MaxConnsPerHost, defaultMaxConnsPerHost),
		IdleConnTimeout:       orDefault(pool.IdleConnTimeout, defaultIdleConnTimeout),
		ForceAttemptHTTP2:     true,
	}
}

// NewHTTPClient builds the client a provider uses. There is no overall
// client timeout: streamed responses can outlive any fixed bound, and the
// agent's per-call context deadline limits each request instead.
func NewHTTPClient(cfg config.ProviderConfig) *http.Client {
	return &http.Client{
		Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
	}
}
