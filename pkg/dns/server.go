package dns

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/embassyd/pkg/log"
	"github.com/miekg/dns"
)

const (
	// DefaultListenAddr is the Docker-compatible DNS address.
	DefaultListenAddr = "127.0.0.11:53"

	// DefaultDomain is the default search domain for appliance packages.
	DefaultDomain = "embassy"

	// DefaultUpstream is the fallback DNS server for external queries.
	DefaultUpstream = "8.8.8.8:53"
)

// Server is embassyd's authoritative DNS server for package names; any
// query it doesn't recognize is forwarded upstream.
type Server struct {
	registrar  *Registrar
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	upstream   []string

	mu      sync.RWMutex
	running bool
}

// Config holds DNS server configuration.
type Config struct {
	ListenAddr string
	Domain     string
	Upstream   []string
}

// NewServer creates a DNS server backed by registrar.
func NewServer(registrar *Registrar, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	return &Server{
		registrar:  registrar,
		resolver:   NewResolver(registrar, config.Domain),
		listenAddr: config.ListenAddr,
		upstream:   config.Upstream,
	}
}

// Start starts the DNS server listening on s.listenAddr.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	s.mu.Unlock()

	log.Logger.Info().Str("component", "dns").Str("address", s.listenAddr).Msg("starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{
		Addr:    s.listenAddr,
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			log.Logger.Error().Err(err).Str("component", "dns").Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		return nil
	}
}

// Stop shuts the DNS server down. Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			return fmt.Errorf("stopping DNS server: %w", err)
		}
	}
	s.running = false
	return nil
}

// IsRunning reports whether the server is currently listening.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA {
			s.forwardQuery(w, r)
			return
		}

		answers, err := s.resolver.Resolve(q.Name)
		if err != nil {
			log.Logger.Debug().Err(err).Str("component", "dns").Str("query", q.Name).Msg("forwarding to upstream")
			s.forwardQuery(w, r)
			return
		}
		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write DNS response")
	}
}

func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			log.Logger.Debug().Err(err).Str("component", "dns").Str("upstream", upstream).Msg("upstream query failed")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write forwarded DNS response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		log.Logger.Error().Err(err).Str("component", "dns").Msg("failed to write DNS error response")
	}
}
