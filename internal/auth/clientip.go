package auth

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address a request came from. X-Forwarded-For and
// X-Real-IP are only consulted when trustProxy is set, i.e. when the portal
// runs behind a reverse proxy that overwrites them. Otherwise any client
// could pick its own address.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// X-Forwarded-For can hold client, proxy1, proxy2; the first is the client
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
