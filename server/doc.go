// Package server implements the OAuth broker and the outbound auth resolver.
//
// The Broker runs the platform's authorization code flow with PKCE on behalf
// of a team: it issues the authorization URL, consumes the one-time state on
// callback, exchanges the code and keeps the resulting tokens in the vault.
// Refreshes for the same team are collapsed into a single platform call.
//
// The Resolver picks the credential used for an outbound platform request,
// in order of preference:
//   - OAuth bearer token (refreshed when close to expiry)
//   - Session cookie
//   - Static API key of the requested kind
//
// Example usage:
//
//	broker, err := server.New(provider, credentials, store, &server.Config{}, logger)
//	if err != nil {
//	    return err
//	}
//	authURL, state, err := broker.BuildAuthorizationURL(ctx, teamID, nil, adminID)
//
//	resolver := server.NewResolver(broker, logger)
//	header, err := resolver.ResolveOutboundAuth(ctx, teamID, server.KeyKindGroup)
//	if err != nil {
//	    return err
//	}
//	header.Apply(req)
package server
