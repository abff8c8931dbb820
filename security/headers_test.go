package security

import (
	"net/http/httptest"
	"testing"
)

func TestSetSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHSTS bool
	}{
		{name: "https", url: "https://broker.example.com", wantHSTS: true},
		{name: "http", url: "http://localhost:8080", wantHSTS: false},
		{name: "empty", url: "", wantHSTS: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			SetSecurityHeaders(w, tt.url)

			if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Errorf("X-Frame-Options = %q, want DENY", got)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			if hsts := w.Header().Get("Strict-Transport-Security") != ""; hsts != tt.wantHSTS {
				t.Errorf("HSTS set = %v, want %v", hsts, tt.wantHSTS)
			}
		})
	}
}
