package dns

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// Registrar is the appliance's in-memory name-to-address table for
// LAN-facing package interfaces. pkg/network.Controller.Bind calls
// Register once per LanAddress interface on install/start and
// Unregister on uninstall/stop; the DNS server's Resolver reads the
// same table to answer queries. Satisfies network.DNSRegistry.
type Registrar struct {
	domain string

	mu      sync.RWMutex
	records map[string]net.IP
}

// NewRegistrar returns an empty Registrar for the given search domain
// (DefaultDomain if empty).
func NewRegistrar(domain string) *Registrar {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Registrar{domain: domain, records: make(map[string]net.IP)}
}

// Register maps name to ip, replacing any previous mapping.
func (r *Registrar) Register(name string, ip net.IP) error {
	if name == "" {
		return fmt.Errorf("dns: empty name")
	}
	if ip == nil {
		return fmt.Errorf("dns: nil address for %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.normalize(name)] = ip
	return nil
}

// Unregister removes name's mapping. A no-op if name isn't registered.
func (r *Registrar) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, r.normalize(name))
	return nil
}

func (r *Registrar) lookup(name string) (net.IP, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ip, ok := r.records[r.normalize(name)]
	return ip, ok
}

// normalize strips a trailing root dot and the search domain suffix,
// and lowercases, so "Hello.embassy." and "hello" map to the same key.
func (r *Registrar) normalize(name string) string {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	return strings.TrimSuffix(name, "."+r.domain)
}
