package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the headers every API response carries.
// HSTS is only sent when publicURL is https.
func SetSecurityHeaders(w http.ResponseWriter, publicURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(publicURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Responses may contain team configuration; never cache them.
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}
