package ingress

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
)

// DefaultDomain is the search domain public routes are published
// under, mirroring pkg/dns's local one.
const DefaultDomain = "embassy"

// DefaultAddr is the address the ingress reverse proxy listens on.
const DefaultAddr = ":8000"

// Proxy is the HTTP reverse proxy for packages' public interfaces. It
// has no TLS termination of its own: a public interface is reached
// either over the LAN or through the Tor hidden service the interface
// was registered under, not through a certificate this process holds.
type Proxy struct {
	Router *Router
	Addr   string

	httpServer *http.Server
	mu         sync.Mutex
	running    bool
}

// NewProxy creates a Proxy over router listening on addr
// (DefaultAddr if empty).
func NewProxy(router *Router, addr string) *Proxy {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Proxy{Router: router, Addr: addr}
}

// Start starts the reverse proxy's HTTP listener and blocks until ctx
// is cancelled, then shuts it down gracefully.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("ingress proxy already running")
	}
	p.running = true
	p.httpServer = &http.Server{
		Addr:         p.Addr,
		Handler:      http.HandlerFunc(p.handleRequest),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	p.mu.Unlock()

	listener, err := net.Listen("tcp", p.Addr)
	if err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("listening on %s: %w", p.Addr, err)
	}

	log.WithComponent("ingress").Info().Str("address", p.Addr).Msg("ingress proxy listening")

	errCh := make(chan error, 1)
	go func() {
		if err := p.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return err
	case <-ctx.Done():
		return p.Stop()
	}
}

// Stop gracefully shuts the proxy down. Idempotent.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping ingress proxy: %w", err)
	}
	p.running = false
	return nil
}

func (p *Proxy) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Proxy) handleRequest(w http.ResponseWriter, r *http.Request) {
	ip, port, ok := p.Router.Route(r.Host)
	if !ok {
		http.Error(w, "no package published for this address", http.StatusNotFound)
		return
	}

	targetURL, err := url.Parse(fmt.Sprintf("http://%s", net.JoinHostPort(ip.String(), fmt.Sprint(port))))
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.IngressRequestDuration, r.Host, targetURL.Host)
	metrics.IngressRequestsTotal.WithLabelValues(r.Host, targetURL.Host).Inc()

	proxy := httputil.NewSingleHostReverseProxy(targetURL)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = r.Host
		addProxyHeaders(req, r)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithComponent("ingress").Warn().Err(err).Str("backend", targetURL.Host).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}
	proxy.ServeHTTP(w, r)
}
