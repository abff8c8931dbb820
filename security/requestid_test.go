package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "no upstream id", incoming: "", keep: false},
		{name: "valid upstream id", incoming: "abc-123_DEF", keep: true},
		{name: "injection attempt", incoming: "abc\r\nSet-Cookie: x=y", keep: false},
		{name: "too long", incoming: strings.Repeat("a", 129), keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if got := w.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header = %q, context = %q", got, seen)
			}
			if tt.keep && seen != tt.incoming {
				t.Errorf("request id = %q, want upstream %q", seen, tt.incoming)
			}
			if !tt.keep && seen == tt.incoming {
				t.Error("invalid upstream id should have been replaced")
			}
		})
	}
}
