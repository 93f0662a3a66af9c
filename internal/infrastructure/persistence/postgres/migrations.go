package postgres

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_experience",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_role_rules",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
	}
}

const migration001Up = `
-- Guild settings singleton. NULL columns take the configured default on load.
CREATE TABLE IF NOT EXISTS guild_settings (
    guild_id BIGINT PRIMARY KEY,
    curve_scalar DOUBLE PRECISION,
    curve_power DOUBLE PRECISION,
    message_reward DOUBLE PRECISION,
    reply_reward DOUBLE PRECISION,
    react_reward DOUBLE PRECISION,
    voice_minute_reward DOUBLE PRECISION,
    gain_cap DOUBLE PRECISION,
    announce_channel_id BIGINT,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS experience_records (
    guild_id BIGINT NOT NULL,
    principal_id BIGINT NOT NULL,
    experience DOUBLE PRECISION NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (guild_id, principal_id),
    CONSTRAINT valid_experience CHECK (experience >= 0),
    CONSTRAINT valid_level CHECK (level >= 0)
);

CREATE INDEX IF NOT EXISTS idx_experience_records_rank
    ON experience_records(guild_id, experience DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS experience_records;
DROP TABLE IF EXISTS guild_settings;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS role_scalars (
    guild_id BIGINT NOT NULL,
    role_id BIGINT NOT NULL,
    scalar DOUBLE PRECISION NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (guild_id, role_id),
    CONSTRAINT valid_scalar CHECK (scalar >= 0)
);

CREATE TABLE IF NOT EXISTS autoroles (
    guild_id BIGINT NOT NULL,
    role_id BIGINT NOT NULL,
    assign_at INTEGER NOT NULL,
    remove_at INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY (guild_id, role_id),
    CONSTRAINT valid_assign_at CHECK (assign_at >= 0),
    CONSTRAINT valid_remove_at CHECK (remove_at >= 0)
);
`

const migration002Down = `
DROP TABLE IF EXISTS autoroles;
DROP TABLE IF EXISTS role_scalars;
`
