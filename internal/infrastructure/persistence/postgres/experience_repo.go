package postgres

import (
	"context"
	"fmt"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIENCE STORE
// Implements experience.Store, rolescalar.Repository and autorole.Repository
// for a single guild.
// ══════════════════════════════════════════════════════════════════════════════

// Store is the PostgreSQL store for one guild.
type Store struct {
	conn  *Connection
	guild shared.GuildID
}

// NewStore creates a store scoped to guild.
func NewStore(conn *Connection, guild shared.GuildID) *Store {
	return &Store{conn: conn, guild: guild}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

// Ping reports database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

const upsertRecordSQL = `
	INSERT INTO experience_records (guild_id, principal_id, experience, level, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (guild_id, principal_id) DO UPDATE SET
		experience = EXCLUDED.experience,
		level = EXCLUDED.level,
		updated_at = NOW()
`

// GetRecord implements experience.RecordRepository.
func (s *Store) GetRecord(ctx context.Context, id shared.PrincipalID) (experience.Record, error) {
	rec := experience.Record{PrincipalID: id}
	err := s.conn.Pool().QueryRow(ctx, `
		SELECT experience, level FROM experience_records
		WHERE guild_id = $1 AND principal_id = $2
	`, int64(s.guild), int64(id)).Scan(&rec.Experience, &rec.Level)

	if IsNoRows(err) {
		return experience.Record{}, experience.ErrRecordNotFound
	}
	if err != nil {
		return experience.Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// GetRecordsBatch implements experience.RecordRepository.
func (s *Store) GetRecordsBatch(ctx context.Context, ids []shared.PrincipalID) ([]experience.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}

	rows, err := s.conn.Pool().Query(ctx, `
		SELECT principal_id, experience, level FROM experience_records
		WHERE guild_id = $1 AND principal_id = ANY($2)
	`, int64(s.guild), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	out := make([]experience.Record, 0, len(ids))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertRecord implements experience.RecordRepository.
func (s *Store) UpsertRecord(ctx context.Context, id shared.PrincipalID, p experience.Progress) error {
	_, err := s.conn.Pool().Exec(ctx, upsertRecordSQL, int64(s.guild), int64(id), p.Experience, p.Level)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// UpsertRecordsBatch implements experience.RecordRepository. All rows are
// written in one transaction.
func (s *Store) UpsertRecordsBatch(ctx context.Context, entries map[shared.PrincipalID]experience.Progress) error {
	if len(entries) == 0 {
		return nil
	}
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return s.upsertBatch(ctx, tx, entries)
	})
}

func (s *Store) upsertBatch(ctx context.Context, q Querier, entries map[shared.PrincipalID]experience.Progress) error {
	batch := &pgx.Batch{}
	for id, p := range entries {
		batch.Queue(upsertRecordSQL, int64(s.guild), int64(id), p.Experience, p.Level)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert record: %w", err)
		}
	}
	return nil
}

// GetRankedRange implements experience.RecordRepository.
func (s *Store) GetRankedRange(ctx context.Context, fromRank, toRank int) ([]experience.RankedRecord, error) {
	rows, err := s.conn.Pool().Query(ctx, `
		SELECT principal_id, experience, level, rank FROM (
			SELECT principal_id, experience, level,
				DENSE_RANK() OVER (ORDER BY experience DESC) AS rank
			FROM experience_records
			WHERE guild_id = $1
		) ranked
		WHERE rank BETWEEN $2 AND $3
		ORDER BY rank, principal_id
	`, int64(s.guild), fromRank, toRank)
	if err != nil {
		return nil, fmt.Errorf("failed to get ranked range: %w", err)
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
	row := s.conn.Pool().QueryRow(ctx, `
		SELECT principal_id, experience, level, rank FROM (
			SELECT principal_id, experience, level,
				DENSE_RANK() OVER (ORDER BY experience DESC) AS rank
			FROM experience_records
			WHERE guild_id = $1
		) ranked
		WHERE principal_id = $2
	`, int64(s.guild), int64(id))

	r, err := scanRanked(row)
	if IsNoRows(err) {
		return experience.RankedRecord{}, experience.ErrRecordNotFound
	}
	return r, err
}

// CountRecords implements experience.RecordRepository.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.conn.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM experience_records WHERE guild_id = $1`, int64(s.guild)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// ScanRecords implements experience.RecordRepository.
func (s *Store) ScanRecords(ctx context.Context, fn func(experience.Record) error) error {
	rows, err := s.conn.Pool().Query(ctx, `
		SELECT principal_id, experience, level FROM experience_records
		WHERE guild_id = $1
	`, int64(s.guild))
	if err != nil {
		return fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanRecord(row pgx.Row) (experience.Record, error) {
	var (
		id  int64
		rec experience.Record
	)
	if err := row.Scan(&id, &rec.Experience, &rec.Level); err != nil {
		return experience.Record{}, fmt.Errorf("failed to scan record: %w", err)
	}
	rec.PrincipalID = shared.PrincipalID(id)
	return rec, nil
}

func scanRanked(row pgx.Row) (experience.RankedRecord, error) {
	var (
		id   int64
		rank int64
		r    experience.RankedRecord
	)
	if err := row.Scan(&id, &r.Experience, &r.Level, &rank); err != nil {
		if IsNoRows(err) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan ranked record: %w", err)
	}
	r.PrincipalID = shared.PrincipalID(id)
	r.Rank = int(rank)
	return r, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings
// ─────────────────────────────────────────────────────────────────────────────

// LoadSettings implements experience.SettingsRepository.
func (s *Store) LoadSettings(ctx context.Context) (experience.StoredSettings, error) {
	var (
		out     experience.StoredSettings
		channel *int64
	)
	err := s.conn.Pool().QueryRow(ctx, `
		SELECT curve_scalar, curve_power, message_reward, reply_reward, react_reward,
			voice_minute_reward, gain_cap, announce_channel_id
		FROM guild_settings WHERE guild_id = $1
	`, int64(s.guild)).Scan(
		&out.CurveScalar,
		&out.CurvePower,
		&out.MessageReward,
		&out.ReplyReward,
		&out.ReactReward,
		&out.VoiceMinuteReward,
		&out.GainCap,
		&channel,
	)
	if IsNoRows(err) {
		return experience.StoredSettings{}, nil
	}
	if err != nil {
		return experience.StoredSettings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if channel != nil {
		ch := shared.ChannelID(*channel)
		out.AnnounceChannel = &ch
	}
	return out, nil
}

// SaveSettings implements experience.SettingsRepository.
func (s *Store) SaveSettings(ctx context.Context, settings experience.StoredSettings) error {
	return s.saveSettings(ctx, s.conn.Pool(), settings)
}

func (s *Store) saveSettings(ctx context.Context, q Querier, settings experience.StoredSettings) error {
	var channel *int64
	if settings.AnnounceChannel != nil {
		v := int64(*settings.AnnounceChannel)
		channel = &v
	}

	_, err := q.Exec(ctx, `
		INSERT INTO guild_settings (
			guild_id, curve_scalar, curve_power, message_reward, reply_reward, react_reward,
			voice_minute_reward, gain_cap, announce_channel_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (guild_id) DO UPDATE SET
			curve_scalar = EXCLUDED.curve_scalar,
			curve_power = EXCLUDED.curve_power,
			message_reward = EXCLUDED.message_reward,
			reply_reward = EXCLUDED.reply_reward,
			react_reward = EXCLUDED.react_reward,
			voice_minute_reward = EXCLUDED.voice_minute_reward,
			gain_cap = EXCLUDED.gain_cap,
			announce_channel_id = EXCLUDED.announce_channel_id,
			updated_at = NOW()
	`,
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
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ApplyCurveMigration implements experience.CurveMigrator.
func (s *Store) ApplyCurveMigration(ctx context.Context, entries map[shared.PrincipalID]experience.Progress, settings experience.StoredSettings) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if len(entries) > 0 {
			if err := s.upsertBatch(ctx, tx, entries); err != nil {
				return err
			}
		}
		return s.saveSettings(ctx, tx, settings)
	})
}
