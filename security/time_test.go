package security

import (
	"testing"
	"time"
)

func TestHasUsableLifetime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "zero expiry", expiresAt: time.Time{}, want: false},
		{name: "already expired", expiresAt: now.Add(-time.Second), want: false},
		{name: "inside margin", expiresAt: now.Add(4 * time.Minute), want: false},
		{name: "exactly at margin", expiresAt: now.Add(DefaultExpiryMargin), want: false},
		{name: "outside margin", expiresAt: now.Add(DefaultExpiryMargin + time.Second), want: true},
		{name: "one hour", expiresAt: now.Add(time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasUsableLifetime(tt.expiresAt, DefaultExpiryMargin, now); got != tt.want {
				t.Errorf("HasUsableLifetime() = %v, want %v", got, tt.want)
			}
		})
	}
}
