// Package transport holds request-level helpers shared by the websocket and
// plain HTTP surfaces.
package transport

import (
	"net"
	"net/http"
	"strings"
)

// RemoteAddr extracts the originating client IP, preferring the RFC 7239
// Forwarded header, then X-Forwarded-For, then the raw connection address.
func RemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		for _, part := range strings.Split(fwd, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "for=") {
				v := strings.TrimPrefix(part, "for=")
				v = strings.Trim(v, "\"")
				v = strings.Trim(v, "[]")
				return v
			}
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
