package sqlite

// schema is idempotent and applied on every Open.
const schema = `
CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id INTEGER PRIMARY KEY,
	curve_scalar REAL,
	curve_power REAL,
	message_reward REAL,
	reply_reward REAL,
	react_reward REAL,
	voice_minute_reward REAL,
	gain_cap REAL,
	announce_channel_id INTEGER
);

CREATE TABLE IF NOT EXISTS experience_records (
	guild_id INTEGER NOT NULL,
	principal_id INTEGER NOT NULL,
	experience REAL NOT NULL DEFAULT 0 CHECK (experience >= 0),
	level INTEGER NOT NULL DEFAULT 0 CHECK (level >= 0),
	PRIMARY KEY (guild_id, principal_id)
);

CREATE INDEX IF NOT EXISTS idx_experience_records_rank
	ON experience_records(guild_id, experience DESC);

CREATE TABLE IF NOT EXISTS role_scalars (
	guild_id INTEGER NOT NULL,
	role_id INTEGER NOT NULL,
	scalar REAL NOT NULL CHECK (scalar >= 0),
	priority INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, role_id)
);

CREATE TABLE IF NOT EXISTS autoroles (
	guild_id INTEGER NOT NULL,
	role_id INTEGER NOT NULL,
	assign_at INTEGER NOT NULL CHECK (assign_at >= 0),
	remove_at INTEGER NOT NULL DEFAULT 0 CHECK (remove_at >= 0),
	PRIMARY KEY (guild_id, role_id)
);
`
