package security

import "time"

// DefaultExpiryMargin is how long before its expiry a platform access token
// stops being handed out. It absorbs clock skew and requests already in flight.
const DefaultExpiryMargin = 5 * time.Minute

// HasUsableLifetime reports whether expiresAt is more than margin after now.
// A zero expiry is treated as unusable: the platform always returns
// expires_in, so a missing value means the record is incomplete.
func HasUsableLifetime(expiresAt time.Time, margin time.Duration, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return expiresAt.After(now.Add(margin))
}
