package security

// Event type constants for security audit logging.
const (
	// Identity events

	// EventUserRegistered is logged when a new account and its personal team are created
	EventUserRegistered = "user_registered"

	// EventLoginSucceeded is logged when a bearer token is issued after login
	EventLoginSucceeded = "login_succeeded"

	// EventAuthFailure is logged when authentication fails (wrong credentials, inactive account, etc.)
	EventAuthFailure = "auth_failure"

	// EventUserDeactivated is logged when an account is deactivated
	EventUserDeactivated = "user_deactivated"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// Team events

	// EventTeamCreated is logged when a team is created explicitly
	EventTeamCreated = "team_created"

	// EventMemberAdded is logged when a user joins a team
	EventMemberAdded = "member_added"

	// EventMemberRemoved is logged when a membership is deleted
	EventMemberRemoved = "member_removed"

	// EventMemberRoleChanged is logged when a membership role changes
	EventMemberRoleChanged = "member_role_changed"

	// EventProtectedRoleViolation is logged when a mutation targets an owner membership
	EventProtectedRoleViolation = "protected_role_violation"

	// Credential events

	// EventCredentialsUpdated is logged when an admin changes stored team secrets
	EventCredentialsUpdated = "credentials_updated" //nolint:gosec // G101: event name, not a credential

	// EventSecretDecryptionFailed is logged when a stored secret cannot be decrypted
	EventSecretDecryptionFailed = "secret_decryption_failed" //nolint:gosec // G101: event name, not a credential

	// OAuth events

	// EventAuthorizationFlowStarted is logged when an authorization URL is issued
	EventAuthorizationFlowStarted = "authorization_flow_started"

	// EventStateMismatch is logged when a callback carries an unknown or replayed state
	EventStateMismatch = "oauth_state_mismatch"

	// EventTokenIssued is logged when platform tokens are stored after a code exchange
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when platform tokens are refreshed
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when platform tokens are revoked and cleared
	EventTokenRevoked = "token_revoked"

	// Monitoring events

	// EventSessionCookieInvalid is logged when the health monitor sees a rejected session cookie
	EventSessionCookieInvalid = "session_cookie_invalid"
)
