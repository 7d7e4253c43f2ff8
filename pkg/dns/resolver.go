package dns

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// Resolver answers A-record queries out of a Registrar. Anything not
// in the Registrar is the caller's cue to forward upstream.
type Resolver struct {
	registrar *Registrar
	domain    string
}

// NewResolver builds a Resolver over registrar for the given search
// domain (DefaultDomain if empty).
func NewResolver(registrar *Registrar, domain string) *Resolver {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Resolver{registrar: registrar, domain: domain}
}

// Resolve looks up queryName in the Registrar and returns a single A
// record, or an error if the name isn't registered.
func (r *Resolver) Resolve(queryName string) ([]dns.RR, error) {
	name := strings.TrimSuffix(queryName, ".")
	ip, ok := r.registrar.lookup(name)
	if !ok {
		return nil, fmt.Errorf("query not resolvable by embassyd DNS: %s", name)
	}

	return []dns.RR{&dns.A{
		Hdr: dns.RR_Header{
			Name:   makeFQDN(name),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    10,
		},
		A: ip,
	}}, nil
}

// makeFQDN ensures name ends with a dot.
func makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
