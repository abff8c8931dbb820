package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the caller's IP for rate limiting and audit logs.
// Forwarding headers are only honoured when trustProxy is set; the client is
// taken to be the entry trustedProxies positions from the right of
// X-Forwarded-For (one proxy when zero).
func GetClientIP(r *http.Request, trustProxy bool, trustedProxies int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxies); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientFromForwardedFor(xff string, trustedProxies int) string {
	if xff == "" {
		return ""
	}
	if trustedProxies <= 0 {
		trustedProxies = 1
	}

	ips := strings.Split(xff, ",")
	idx := len(ips) - trustedProxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(ips[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
