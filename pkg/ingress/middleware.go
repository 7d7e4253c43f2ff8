package ingress

import (
	"net"
	"net/http"
	"strings"
)

// addProxyHeaders sets the standard X-Forwarded-* headers on the
// outgoing request to the backend, preserving any values already
// contributed by an upstream proxy.
func addProxyHeaders(out, in *http.Request) {
	clientIP := clientIPOf(in)

	if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Real-IP", clientIP)

	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)
	out.Header.Set("X-Forwarded-Host", in.Host)
}

// clientIPOf extracts the client IP from a request's RemoteAddr.
func clientIPOf(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
