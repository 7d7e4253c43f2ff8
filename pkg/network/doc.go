/*
Package network binds and unbinds a package's declared interfaces once
its main service has an allocated IP: an interface with LanAddress set
gets a local DNS name, one with Public set gets an ingress route, and
every bound interface gets an iptables DNAT rule forwarding the
device's own LAN address to the package's internal one so other
devices on the network can reach it directly.

Binding is idempotent per package: Bind first calls Unbind for pkg so a
retried install or a reconciler re-run never leaves stale rules behind.
*/
package network
