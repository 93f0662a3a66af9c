// Package memory provides in-process implementations of the persistence
// interfaces. They back tests and single-node runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store keeps one guild's records, settings and rules in maps.
type Store struct {
	mu        sync.RWMutex
	records   map[shared.PrincipalID]experience.Record
	settings  experience.StoredSettings
	scalars   map[shared.RoleID]rolescalar.Rule
	autoroles map[shared.RoleID]autorole.Rule
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:   make(map[shared.PrincipalID]experience.Record),
		scalars:   make(map[shared.RoleID]rolescalar.Rule),
		autoroles: make(map[shared.RoleID]autorole.Rule),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// GetRecord implements experience.RecordRepository.
func (s *Store) GetRecord(ctx context.Context, id shared.PrincipalID) (experience.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return experience.Record{}, experience.ErrRecordNotFound
	}
	return rec, nil
}

// GetRecordsBatch implements experience.RecordRepository.
func (s *Store) GetRecordsBatch(ctx context.Context, ids []shared.PrincipalID) ([]experience.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]experience.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// UpsertRecord implements experience.RecordRepository.
func (s *Store) UpsertRecord(ctx context.Context, id shared.PrincipalID, p experience.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = experience.NewRecord(id).Apply(p)
	return nil
}

// UpsertRecordsBatch implements experience.RecordRepository.
func (s *Store) UpsertRecordsBatch(ctx context.Context, entries map[shared.PrincipalID]experience.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range entries {
		s.records[id] = experience.NewRecord(id).Apply(p)
	}
	return nil
}

// ranked returns every record with its dense rank, best first. Caller holds mu.
func (s *Store) ranked() []experience.RankedRecord {
	all := make([]experience.RankedRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, experience.RankedRecord{Record: rec})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Experience != all[j].Experience {
			return all[i].Experience > all[j].Experience
		}
		return all[i].PrincipalID < all[j].PrincipalID
	})

	rank := 0
	for i := range all {
		if i == 0 || all[i].Experience != all[i-1].Experience {
			rank++
		}
		all[i].Rank = rank
	}
	return all
}

// GetRankedRange implements experience.RecordRepository.
func (s *Store) GetRankedRange(ctx context.Context, fromRank, toRank int) ([]experience.RankedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []experience.RankedRecord
	for _, r := range s.ranked() {
		if r.Rank > toRank {
			break
		}
		if r.Rank >= fromRank {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetRank implements experience.RecordRepository.
func (s *Store) GetRank(ctx context.Context, id shared.PrincipalID) (experience.RankedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.ranked() {
		if r.PrincipalID == id {
			return r, nil
		}
	}
	return experience.RankedRecord{}, experience.ErrRecordNotFound
}

// CountRecords implements experience.RecordRepository.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ScanRecords implements experience.RecordRepository.
func (s *Store) ScanRecords(ctx context.Context, fn func(experience.Record) error) error {
	s.mu.RLock()
	snapshot := make([]experience.Record, 0, len(s.records))
	for _, rec := range s.records {
		snapshot = append(snapshot, rec)
	}
	s.mu.RUnlock()

	for _, rec := range snapshot {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings
// ─────────────────────────────────────────────────────────────────────────────

// LoadSettings implements experience.SettingsRepository.
func (s *Store) LoadSettings(ctx context.Context) (experience.StoredSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// SaveSettings implements experience.SettingsRepository.
func (s *Store) SaveSettings(ctx context.Context, settings experience.StoredSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// ApplyCurveMigration implements experience.CurveMigrator.
func (s *Store) ApplyCurveMigration(ctx context.Context, entries map[shared.PrincipalID]experience.Progress, settings experience.StoredSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range entries {
		s.records[id] = experience.NewRecord(id).Apply(p)
	}
	s.settings = settings
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scalar rules
// ─────────────────────────────────────────────────────────────────────────────

// ListScalarRules implements rolescalar.Repository.
func (s *Store) ListScalarRules(ctx context.Context) ([]rolescalar.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rolescalar.Rule, 0, len(s.scalars))
	for _, r := range s.scalars {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

// CreateScalarRule implements rolescalar.Repository.
func (s *Store) CreateScalarRule(ctx context.Context, r rolescalar.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scalars[r.RoleID]; ok {
		return shared.ErrScalarRuleExists
	}
	s.scalars[r.RoleID] = r
	return nil
}

// UpdateScalarRule implements rolescalar.Repository.
func (s *Store) UpdateScalarRule(ctx context.Context, role shared.RoleID, p rolescalar.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.scalars[role]
	if !ok {
		return shared.ErrScalarRuleNotFound
	}
	if p.Scalar != nil {
		r.Scalar = *p.Scalar
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	s.scalars[role] = r
	return nil
}

// DeleteScalarRule implements rolescalar.Repository.
func (s *Store) DeleteScalarRule(ctx context.Context, role shared.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scalars[role]; !ok {
		return shared.ErrScalarRuleNotFound
	}
	delete(s.scalars, role)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Autorole rules
// ─────────────────────────────────────────────────────────────────────────────

// ListAutoroleRules implements autorole.Repository.
func (s *Store) ListAutoroleRules(ctx context.Context) ([]autorole.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]autorole.Rule, 0, len(s.autoroles))
	for _, r := range s.autoroles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

// CreateAutoroleRule implements autorole.Repository.
func (s *Store) CreateAutoroleRule(ctx context.Context, r autorole.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.autoroles[r.RoleID]; ok {
		return shared.ErrAutoroleExists
	}
	s.autoroles[r.RoleID] = r
	return nil
}

// UpdateAutoroleRule implements autorole.Repository.
func (s *Store) UpdateAutoroleRule(ctx context.Context, role shared.RoleID, p autorole.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.autoroles[role]
	if !ok {
		return shared.ErrAutoroleNotFound
	}
	if p.AssignAt != nil {
		r.AssignAt = *p.AssignAt
	}
	if p.RemoveAt != nil {
		r.RemoveAt = *p.RemoveAt
	}
	s.autoroles[role] = r
	return nil
}

// DeleteAutoroleRule implements autorole.Repository.
func (s *Store) DeleteAutoroleRule(ctx context.Context, role shared.RoleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.autoroles[role]; !ok {
		return shared.ErrAutoroleNotFound
	}
	delete(s.autoroles, role)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
