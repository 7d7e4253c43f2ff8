package ingress

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/cuemby/embassyd/pkg/types"
)

// route is one published public interface: where to reverse-proxy a
// matching request.
type route struct {
	ip   net.IP
	port int
}

// Router is the appliance's in-memory host-to-backend table for
// public interfaces. It satisfies network.IngressRegistry; Register
// and Unregister are driven by pkg/network.Controller.Bind/Unbind.
type Router struct {
	domain string

	mu     sync.RWMutex
	routes map[string]route
	byPkg  map[types.PackageId][]string
}

// NewRouter returns an empty Router for the given public search
// domain (DefaultDomain if empty).
func NewRouter(domain string) *Router {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Router{
		domain: domain,
		routes: make(map[string]route),
		byPkg:  make(map[types.PackageId][]string),
	}
}

// Register publishes a host name for pkg's interface name, proxying
// matching requests to ip:port. The host is "<name>-<pkg>.<domain>",
// or "<pkg>.<domain>" for the package's main interface.
func (rt *Router) Register(pkg types.PackageId, name string, ip net.IP, port int) error {
	if ip == nil {
		return fmt.Errorf("ingress: nil address for %s/%s", pkg, name)
	}
	host := rt.hostFor(pkg, name)

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.routes[host]; !exists {
		rt.byPkg[pkg] = append(rt.byPkg[pkg], host)
	}
	rt.routes[host] = route{ip: ip, port: port}
	return nil
}

// Unregister withdraws the route published for pkg's interface name.
// An empty name withdraws every route pkg has published.
func (rt *Router) Unregister(pkg types.PackageId, name string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if name != "" {
		delete(rt.routes, rt.hostFor(pkg, name))
		return nil
	}
	for _, host := range rt.byPkg[pkg] {
		delete(rt.routes, host)
	}
	delete(rt.byPkg, pkg)
	return nil
}

// Route returns the backend for the request Host header, or false if
// nothing is published for it.
func (rt *Router) Route(host string) (net.IP, int, bool) {
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.routes[strings.ToLower(host)]
	return r.ip, r.port, ok
}

func (rt *Router) hostFor(pkg types.PackageId, name string) string {
	if name == "" || name == "main" {
		return fmt.Sprintf("%s.%s", pkg, rt.domain)
	}
	return strings.ToLower(fmt.Sprintf("%s-%s.%s", name, pkg, rt.domain))
}
