/*
Package dns is embassyd's local name service: it answers A-record
queries for a package's LAN-facing interfaces out of an in-memory
Registrar and forwards everything else to an upstream resolver.

A Registrar satisfies network.DNSRegistry: pkg/network.Controller.Bind
calls Register when a package's interface comes up and Unregister when
it's torn down. Server wraps a Registrar in a miekg/dns UDP listener
compatible with Docker's embedded resolver convention
(127.0.0.11:53), so containers get "postgres.embassy" style names for
free without any extra client configuration.
*/
package dns
