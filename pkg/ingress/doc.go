/*
Package ingress reverse-proxies a package's public interfaces. A
Router holds a host-to-backend table (satisfying
network.IngressRegistry) that pkg/network.Controller.Bind/Unbind
populate as packages declare interfaces with public = true; a Proxy
serves plain HTTP and routes each request by its Host header.

There is no TLS termination or certificate management here: a public
interface is reached over the LAN or through the Tor hidden service it
was bound under, neither of which needs this process to hold a
certificate.
*/
package ingress
