// Package sqlite provides a SQLite-backed store for one guild. It is the
// default backend for development and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	_ "modernc.org/sqlite"
)

// batchChunk bounds the number of bound parameters per IN query.
const batchChunk = 500

// Store persists one guild's experience state in SQLite.
type Store struct {
	db    *sql.DB
	guild shared.GuildID
}

// Open opens the database at path, applies the schema, and scopes the store to guild.
func Open(path string, guild shared.GuildID) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, guild: guild}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

const upsertRecordSQL = `
	INSERT INTO experience_records (guild_id, principal_id, experience, level)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (guild_id, principal_id) DO UPDATE SET
		experience = excluded.experience,
		level = excluded.level`

// GetRecord implements experience.RecordRepository.
func (s *Store) GetRecord(ctx context.Context, id shared.PrincipalID) (experience.Record, error) {
	rec := experience.Record{PrincipalID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT experience, level FROM experience_records WHERE guild_id = ? AND principal_id = ?`,
		int64(s.guild), int64(id),
	).Scan(&rec.Experience, &rec.Level)

	if errors.Is(err, sql.ErrNoRows) {
		return experience.Record{}, experience.ErrRecordNotFound
	}
	if err != nil {
		return experience.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetRecordsBatch implements experience.RecordRepository.
func (s *Store) GetRecordsBatch(ctx context.Context, ids []shared.PrincipalID) ([]experience.Record, error) {
	out := make([]experience.Record, 0, len(ids))

	for start := 0; start < len(ids); start += batchChunk {
		end := min(start+batchChunk, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, int64(s.guild))
		for _, id := range chunk {
			args = append(args, int64(id))
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.db.QueryContext(ctx,
			`SELECT principal_id, experience, level FROM experience_records
			 WHERE guild_id = ? AND principal_id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, fmt.Errorf("get records: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UpsertRecord implements experience.RecordRepository.
func (s *Store) UpsertRecord(ctx context.Context, id shared.PrincipalID, p experience.Progress) error {
	if _, err := s.db.ExecContext(ctx, upsertRecordSQL, int64(s.guild), int64(id), p.Experience, p.Level); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// UpsertRecordsBatch implements experience.RecordRepository.
func (s *Store) UpsertRecordsBatch(ctx context.Context, entries map[shared.PrincipalID]experience.Progress) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.upsertBatch(ctx, tx, entries)
	})
}

func (s *Store) upsertBatch(ctx context.Context, tx *sql.Tx, entries map[shared.PrincipalID]experience.Progress) error {
	stmt, err := tx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for id, p := range entries {
		if _, err := stmt.ExecContext(ctx, int64(s.guild), int64(id), p.Experience, p.Level); err != nil {
			return fmt.Errorf("upsert record %s: %w", id, err)
		}
	}
	return nil
}

const rankedSQL = `
	SELECT principal_id, experience, level, rank FROM (
		SELECT principal_id, experience, level,
			DENSE_RANK() OVER (ORDER BY experience DESC) AS rank
		FROM experience_records
		WHERE guild_id = ?
	)`

// GetRankedRange implements experience.RecordRepository.
func (s *Store) GetRankedRange(ctx context.Context, fromRank, toRank int) ([]experience.RankedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		rankedSQL+` WHERE rank BETWEEN ? AND ? ORDER BY rank, principal_id`,
		int64(s.guild), fromRank, toRank,
	)
	if err != nil {
		return nil, fmt.Errorf("get ranked range: %w", err)
	}
	defer rows.Close()

	var out []experience.RankedRecord
	for rows.Next() {
		r, err := scanRanked(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRank implements experience.RecordRepository.
func (s *Store) GetRank(ctx context.Context, id shared.PrincipalID) (experience.RankedRecord, error) {
	row := s.db.QueryRowContext(ctx, rankedSQL+` WHERE principal_id = ?`, int64(s.guild), int64(id))

	r, err := scanRanked(row)
	if errors.Is(err, sql.ErrNoRows) {
		return experience.RankedRecord{}, experience.ErrRecordNotFound
	}
	return r, err
}

// CountRecords implements experience.RecordRepository.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experience_records WHERE guild_id = ?`, int64(s.guild)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ScanRecords implements experience.RecordRepository. Rows are read fully
// before fn runs so fn may write through the store.
func (s *Store) ScanRecords(ctx context.Context, fn func(experience.Record) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT principal_id, experience, level FROM experience_records WHERE guild_id = ?`,
		int64(s.guild),
	)
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	var all []experience.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		all = append(all, rec)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, rec := range all {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (experience.Record, error) {
	var (
		id  int64
		rec experience.Record
	)
	if err := row.Scan(&id, &rec.Experience, &rec.Level); err != nil {
		return experience.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.PrincipalID = shared.PrincipalID(id)
	return rec, nil
}

func scanRanked(row scanner) (experience.RankedRecord, error) {
	var (
		id int64
		r  experience.RankedRecord
	)
	if err := row.Scan(&id, &r.Experience, &r.Level, &r.Rank); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan ranked record: %w", err)
	}
	r.PrincipalID = shared.PrincipalID(id)
	return r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings
// ─────────────────────────────────────────────────────────────────────────────

// LoadSettings implements experience.SettingsRepository.
func (s *Store) LoadSettings(ctx context.Context) (experience.StoredSettings, error) {
	var (
		out     experience.StoredSettings
		scalar  sql.NullFloat64
		power   sql.NullFloat64
		message sql.NullFloat64
		reply   sql.NullFloat64
		react   sql.NullFloat64
		voice   sql.NullFloat64
		gainCap sql.NullFloat64
		channel sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT curve_scalar, curve_power, message_reward, reply_reward, react_reward,
			voice_minute_reward, gain_cap, announce_channel_id
		FROM guild_settings WHERE guild_id = ?`, int64(s.guild),
	).Scan(&scalar, &power, &message, &reply, &react, &voice, &gainCap, &channel)

	if errors.Is(err, sql.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load settings: %w", err)
	}

	out.CurveScalar = nullFloat(scalar)
	out.CurvePower = nullFloat(power)
	out.MessageReward = nullFloat(message)
	out.ReplyReward = nullFloat(reply)
	out.ReactReward = nullFloat(react)
	out.VoiceMinuteReward = nullFloat(voice)
	out.GainCap = nullFloat(gainCap)
	if channel.Valid {
		ch := shared.ChannelID(channel.Int64)
		out.AnnounceChannel = &ch
	}
	return out, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// SaveSettings implements experience.SettingsRepository.
func (s *Store) SaveSettings(ctx context.Context, settings experience.StoredSettings) error {
	return s.saveSettings(ctx, s.db, settings)
}

func (s *Store) saveSettings(ctx context.Context, ex execer, settings experience.StoredSettings) error {
	var channel sql.NullInt64
	if settings.AnnounceChannel != nil {
		channel = sql.NullInt64{Int64: int64(*settings.AnnounceChannel), Valid: true}
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, curve_scalar, curve_power, message_reward, reply_reward, react_reward,
			voice_minute_reward, gain_cap, announce_channel_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			curve_scalar = excluded.curve_scalar,
			curve_power = excluded.curve_power,
			message_reward = excluded.message_reward,
			reply_reward = excluded.reply_reward,
			react_reward = excluded.react_reward,
			voice_minute_reward = excluded.voice_minute_reward,
			gain_cap = excluded.gain_cap,
			announce_channel_id = excluded.announce_channel_id`,
		int64(s.guild),
		settings.CurveScalar,
		settings.CurvePower,
		settings.MessageReward,
		settings.ReplyReward,
		settings.ReactReward,
		settings.VoiceMinuteReward,
		settings.GainCap,
		channel,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ApplyCurveMigration implements experience.CurveMigrator.
func (s *Store) ApplyCurveMigration(ctx context.Context, entries map[shared.PrincipalID]experience.Progress, settings experience.StoredSettings) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertBatch(ctx, tx, entries); err != nil {
			return err
		}
		return s.saveSettings(ctx, tx, settings)
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Rules
// ─────────────────────────────────────────────────────────────────────────────

// ListScalarRules implements rolescalar.Repository.
func (s *Store) ListScalarRules(ctx context.Context) ([]rolescalar.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id, scalar, priority FROM role_scalars WHERE guild_id = ? ORDER BY role_id`,
		int64(s.guild),
	)
	if err != nil {
		return nil, fmt.Errorf("list scalar rules: %w", err)
	}
	defer rows.Close()

	var out []rolescalar.Rule
	for rows.Next() {
		var (
			role int64
			r    rolescalar.Rule
		)
		if err := rows.Scan(&role, &r.Scalar, &r.Priority); err != nil {
			return nil, fmt.Errorf("scan scalar rule: %w", err)
		}
		r.RoleID = shared.RoleID(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateScalarRule implements rolescalar.Repository.
func (s *Store) CreateScalarRule(ctx context.Context, r rolescalar.Rule) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO role_scalars (guild_id, role_id, scalar, priority) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, role_id) DO NOTHING`,
		int64(s.guild), int64(r.RoleID), r.Scalar, r.Priority,
	)
	return affected(res, err, "create scalar rule", shared.ErrScalarRuleExists)
}

// UpdateScalarRule implements rolescalar.Repository.
func (s *Store) UpdateScalarRule(ctx context.Context, role shared.RoleID, p rolescalar.Patch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE role_scalars SET
			scalar = COALESCE(?, scalar),
			priority = COALESCE(?, priority)
		WHERE guild_id = ? AND role_id = ?`,
		p.Scalar, p.Priority, int64(s.guild), int64(role),
	)
	return affected(res, err, "update scalar rule", shared.ErrScalarRuleNotFound)
}

// DeleteScalarRule implements rolescalar.Repository.
func (s *Store) DeleteScalarRule(ctx context.Context, role shared.RoleID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM role_scalars WHERE guild_id = ? AND role_id = ?`,
		int64(s.guild), int64(role),
	)
	return affected(res, err, "delete scalar rule", shared.ErrScalarRuleNotFound)
}

// ListAutoroleRules implements autorole.Repository.
func (s *Store) ListAutoroleRules(ctx context.Context) ([]autorole.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id, assign_at, remove_at FROM autoroles WHERE guild_id = ? ORDER BY role_id`,
		int64(s.guild),
	)
	if err != nil {
		return nil, fmt.Errorf("list autoroles: %w", err)
	}
	defer rows.Close()

	var out []autorole.Rule
	for rows.Next() {
		var (
			role int64
			r    autorole.Rule
		)
		if err := rows.Scan(&role, &r.AssignAt, &r.RemoveAt); err != nil {
			return nil, fmt.Errorf("scan autorole: %w", err)
		}
		r.RoleID = shared.RoleID(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateAutoroleRule implements autorole.Repository.
func (s *Store) CreateAutoroleRule(ctx context.Context, r autorole.Rule) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO autoroles (guild_id, role_id, assign_at, remove_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (guild_id, role_id) DO NOTHING`,
		int64(s.guild), int64(r.RoleID), r.AssignAt, r.RemoveAt,
	)
	return affected(res, err, "create autorole", shared.ErrAutoroleExists)
}

// UpdateAutoroleRule implements autorole.Repository.
func (s *Store) UpdateAutoroleRule(ctx context.Context, role shared.RoleID, p autorole.Patch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE autoroles SET
			assign_at = COALESCE(?, assign_at),
			remove_at = COALESCE(?, remove_at)
		WHERE guild_id = ? AND role_id = ?`,
		p.AssignAt, p.RemoveAt, int64(s.guild), int64(role),
	)
	return affected(res, err, "update autorole", shared.ErrAutoroleNotFound)
}

// DeleteAutoroleRule implements autorole.Repository.
func (s *Store) DeleteAutoroleRule(ctx context.Context, role shared.RoleID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM autoroles WHERE guild_id = ? AND role_id = ?`,
		int64(s.guild), int64(role),
	)
	return affected(res, err, "delete autorole", shared.ErrAutoroleNotFound)
}

// affected maps "no row touched" to none.
func affected(res sql.Result, err error, op string, none error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return none
	}
	return nil
}
