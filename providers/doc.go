// Package providers defines the boundary between the broker and the game
// platform it brokers credentials for.
//
// The Provider interface covers everything the broker asks of the platform:
//   - building the PKCE authorization URL for a team's OAuth client
//   - exchanging an authorization code for tokens
//   - refreshing and revoking tokens
//   - probing whether a stored session cookie is still accepted
//
// Implementations are provided in subpackages:
//   - providers/platform: the production implementation over golang.org/x/oauth2
//   - providers/mock: a configurable fake for tests
//
// OAuth client credentials are per team, so every call receives the team's
// ClientCredentials instead of the provider holding a single client.
//
// Example usage:
//
//	p, err := platform.NewProvider(&platform.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	url := p.AuthorizationURL(client, state, challenge, []string{"openid", "profile"})
package providers
