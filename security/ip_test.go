package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xff            string
		xRealIP        string
		trustProxy     bool
		trustedProxies int
		want           string
	}{
		{name: "direct", remoteAddr: "203.0.113.5:4321", want: "203.0.113.5"},
		{name: "xff ignored when untrusted", remoteAddr: "203.0.113.5:4321", xff: "1.2.3.4", want: "203.0.113.5"},
		{name: "xff single proxy", remoteAddr: "10.0.0.1:80", xff: "1.2.3.4, 10.0.0.2", trustProxy: true, want: "1.2.3.4"},
		{name: "xff two proxies", remoteAddr: "10.0.0.1:80", xff: "1.2.3.4, 5.6.7.8, 10.0.0.2", trustProxy: true, trustedProxies: 2, want: "1.2.3.4"},
		{name: "spoofed leftmost entry", remoteAddr: "10.0.0.1:80", xff: "6.6.6.6, 1.2.3.4, 10.0.0.2", trustProxy: true, want: "1.2.3.4"},
		{name: "x-real-ip fallback", remoteAddr: "10.0.0.1:80", xRealIP: "1.2.3.4", trustProxy: true, want: "1.2.3.4"},
		{name: "garbage xff", remoteAddr: "10.0.0.1:80", xff: "not-an-ip, 10.0.0.2", trustProxy: true, want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := GetClientIP(req, tt.trustProxy, tt.trustedProxies); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
