package client

import (
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// TransportLimits is the connection pooling configuration shared by every
// upstream transport. The values come from the tcp_* system settings.
type TransportLimits struct {
	MaxConns         int
	MaxConnsPerHost  int
	KeepaliveTimeout time.Duration
}

// DefaultTransportLimits mirrors the seeded system settings. A per-host
// limit of zero means unbounded.
func DefaultTransportLimits() TransportLimits {
	return TransportLimits{
		MaxConns:         100,
		MaxConnsPerHost:  0,
		KeepaliveTimeout: 30 * time.Second,
	}
}

// TransportPool hands out shared HTTP transports keyed by proxy address, so
// every client targeting the same proxy (or no proxy) reuses one connection
// pool. Clients never close the transports they receive.
type TransportPool struct {
	limits     TransportLimits
	transports map[string]*http.Transport
	mutex      sync.RWMutex
}

var globalTransportPool = &TransportPool{
	limits:     DefaultTransportLimits(),
	transports: make(map[string]*http.Transport),
}

// GetGlobalTransportPool returns the process-wide transport pool singleton.
func GetGlobalTransportPool() *TransportPool {
	return globalTransportPool
}

// GetTransport returns or creates the shared transport for a proxy address.
// An empty proxyURL selects the direct transport.
func (tp *TransportPool) GetTransport(proxyURL string) *http.Transport {
	tp.mutex.RLock()
	if transport, exists := tp.transports[proxyURL]; exists {
		tp.mutex.RUnlock()
		return transport
	}
	tp.mutex.RUnlock()

	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	// Double-check after acquiring the write lock.
	if transport, exists := tp.transports[proxyURL]; exists {
		return transport
	}

	logrus.Debugf("creating transport for proxy %q", proxyURL)
	transport := tp.createTransport(proxyURL)
	tp.transports[proxyURL] = transport
	return transport
}

// Reconfigure applies new pooling limits and drops the cached transports so
// the next request builds fresh ones. In-flight requests keep using the old
// transports until they finish.
func (tp *TransportPool) Reconfigure(limits TransportLimits) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()

	if tp.limits == limits {
		return
	}
	logrus.Infof("transport pool limits changed: max=%d per_host=%d keepalive=%s",
		limits.MaxConns, limits.MaxConnsPerHost, limits.KeepaliveTimeout)
	tp.limits = limits
	tp.transports = make(map[string]*http.Transport)
}

func (tp *TransportPool) createTransport(proxyURL string) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   DefaultConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          tp.limits.MaxConns,
		MaxConnsPerHost:       tp.limits.MaxConnsPerHost,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       tp.limits.KeepaliveTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: DefaultHeaderTimeout,
		ExpectContinueTimeout: time.Second,
	}

	if proxyURL == "" {
		return transport
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		logrus.Errorf("invalid proxy URL %q: %v, connecting directly", proxyURL, err)
		return transport
	}

	switch parsed.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5":
		socks, err := proxy.SOCKS5("tcp", parsed.Host, nil, proxy.Direct)
		if err != nil {
			logrus.Errorf("socks5 dialer for %q: %v, connecting directly", proxyURL, err)
			return transport
		}
		if contextDialer, ok := socks.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		}
	default:
		logrus.Errorf("unsupported proxy scheme %q, connecting directly", parsed.Scheme)
	}
	return transport
}

// Stats reports the number of live transports, for the admin status surface.
func (tp *TransportPool) Stats() map[string]any {
	tp.mutex.RLock()
	defer tp.mutex.RUnlock()
	return map[string]any{
		"transport_count": len(tp.transports),
	}
}
