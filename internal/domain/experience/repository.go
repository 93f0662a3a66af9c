package experience

import (
	"context"
	"errors"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ErrRecordNotFound is returned by GetRecord and GetRank when the principal has never been written.
var ErrRecordNotFound = shared.NewDomainError("experience", "GetRecord", shared.ErrNotFound, "experience record not found")

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// RecordRepository stores per-principal experience for one guild.
type RecordRepository interface {
	// GetRecord returns ErrRecordNotFound for principals never written.
	GetRecord(ctx context.Context, id shared.PrincipalID) (Record, error)

	// GetRecordsBatch returns the stored records among ids. Absent principals are omitted.
	GetRecordsBatch(ctx context.Context, ids []shared.PrincipalID) ([]Record, error)

	// UpsertRecord inserts or updates one record.
	UpsertRecord(ctx context.Context, id shared.PrincipalID, p Progress) error

	// UpsertRecordsBatch writes all entries in one logical operation.
	UpsertRecordsBatch(ctx context.Context, entries map[shared.PrincipalID]Progress) error

	// GetRankedRange returns records with dense rank in [fromRank, toRank], best first.
	GetRankedRange(ctx context.Context, fromRank, toRank int) ([]RankedRecord, error)

	// GetRank returns one principal's ranked record or ErrRecordNotFound.
	GetRank(ctx context.Context, id shared.PrincipalID) (RankedRecord, error)

	// CountRecords returns the number of tracked principals.
	CountRecords(ctx context.Context) (int, error)

	// ScanRecords calls fn for every stored record. Returning an error from fn stops the scan.
	ScanRecords(ctx context.Context, fn func(Record) error) error
}

// SettingsRepository stores the guild settings singleton.
type SettingsRepository interface {
	// LoadSettings returns the stored row. A guild with no row yields all-nil fields.
	LoadSettings(ctx context.Context) (StoredSettings, error)

	// SaveSettings replaces the stored row.
	SaveSettings(ctx context.Context, s StoredSettings) error
}

// CurveMigrator rewrites records and settings together.
type CurveMigrator interface {
	// ApplyCurveMigration writes the migrated records and new settings in one transaction.
	ApplyCurveMigration(ctx context.Context, entries map[shared.PrincipalID]Progress, s StoredSettings) error
}

// Store is everything the aggregator needs from persistence.
type Store interface {
	RecordRepository
	SettingsRepository
	CurveMigrator
}

// IsRecordNotFound reports whether err means the principal has no record.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) || shared.IsNotFound(err)
}
