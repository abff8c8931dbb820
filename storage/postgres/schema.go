package postgres

// schemaStatements create the broker's tables. They are idempotent and run
// in order by Migrate.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		email         TEXT NOT NULL,
		handle        TEXT NOT NULL CONSTRAINT users_handle_key UNIQUE,
		password_hash TEXT NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL,
		last_login    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_key ON users (lower(email))`,

	`CREATE TABLE IF NOT EXISTS teams (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL CONSTRAINT teams_name_key UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		owner_id    BIGINT NOT NULL REFERENCES users (id),
		created_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS team_members (
		team_id    BIGINT NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
		user_id    BIGINT NOT NULL REFERENCES users (id),
		role       TEXT NOT NULL CHECK (role IN ('viewer', 'member', 'admin', 'owner')),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		updated_by BIGINT,
		CONSTRAINT team_members_pkey PRIMARY KEY (team_id, user_id)
	)`,
	// At most one owner per team; the application guarantees at least one.
	`CREATE UNIQUE INDEX IF NOT EXISTS team_members_single_owner ON team_members (team_id) WHERE role = 'owner'`,
	`CREATE INDEX IF NOT EXISTS team_members_user_idx ON team_members (user_id)`,

	`CREATE TABLE IF NOT EXISTS team_credentials (
		team_id             BIGINT PRIMARY KEY REFERENCES teams (id) ON DELETE CASCADE,
		group_api_key       TEXT NOT NULL DEFAULT '',
		user_api_key        TEXT NOT NULL DEFAULT '',
		oauth_client_id     TEXT NOT NULL DEFAULT '',
		oauth_client_secret TEXT NOT NULL DEFAULT '',
		oauth_redirect_uri  TEXT NOT NULL DEFAULT '',
		oauth_access_token  TEXT NOT NULL DEFAULT '',
		oauth_refresh_token TEXT NOT NULL DEFAULT '',
		oauth_expires_at    TIMESTAMPTZ,
		oauth_scope         TEXT NOT NULL DEFAULT '',
		session_cookie      TEXT NOT NULL DEFAULT '',
		discord_webhook_url TEXT NOT NULL DEFAULT '',
		slack_webhook_url   TEXT NOT NULL DEFAULT '',
		notification_email  TEXT NOT NULL DEFAULT '',
		updated_at          TIMESTAMPTZ NOT NULL,
		updated_by          BIGINT
	)`,
}
