package command

import (
	"context"
	"errors"
	"sync"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/guild"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/infrastructure/persistence/memory"
)

var errStoreDown = errors.New("connection refused")

// fakeStore wraps the in-memory store with failure injection and call counters.
type fakeStore struct {
	*memory.Store

	mu              sync.Mutex
	failBatchWrite  bool
	failBatchRead   bool
	failScan        bool
	scanStarted     chan struct{}
	scanRelease     chan struct{}
	upserts         int
	batchWrites     int
	migrations      int
	settingsWritten int
}

func newFakeStore() *fakeStore {
	return &fakeStore{Store: memory.NewStore()}
}

func (s *fakeStore) GetRecordsBatch(ctx context.Context, ids []shared.PrincipalID) ([]experience.Record, error) {
	s.mu.Lock()
	fail := s.failBatchRead
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.GetRecordsBatch(ctx, ids)
}

func (s *fakeStore) UpsertRecord(ctx context.Context, id shared.PrincipalID, p experience.Progress) error {
	s.mu.Lock()
	s.upserts++
	s.mu.Unlock()
	return s.Store.UpsertRecord(ctx, id, p)
}

func (s *fakeStore) UpsertRecordsBatch(ctx context.Context, entries map[shared.PrincipalID]experience.Progress) error {
	s.mu.Lock()
	fail := s.failBatchWrite
	s.batchWrites++
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.Store.UpsertRecordsBatch(ctx, entries)
}

func (s *fakeStore) ScanRecords(ctx context.Context, fn func(experience.Record) error) error {
	if s.failScan {
		return errStoreDown
	}
	if s.scanRelease != nil {
		close(s.scanStarted)
		<-s.scanRelease
	}
	return s.Store.ScanRecords(ctx, fn)
}

func (s *fakeStore) SaveSettings(ctx context.Context, settings experience.StoredSettings) error {
	s.mu.Lock()
	s.settingsWritten++
	s.mu.Unlock()
	return s.Store.SaveSettings(ctx, settings)
}

func (s *fakeStore) ApplyCurveMigration(ctx context.Context, entries map[shared.PrincipalID]experience.Progress, settings experience.StoredSettings) error {
	s.mu.Lock()
	s.migrations++
	s.mu.Unlock()
	return s.Store.ApplyCurveMigration(ctx, entries, settings)
}

// blockScan makes the next ScanRecords signal on the returned channel and wait for release.
func (s *fakeStore) blockScan() (started <-chan struct{}, release func()) {
	s.scanStarted = make(chan struct{})
	s.scanRelease = make(chan struct{})
	return s.scanStarted, func() { close(s.scanRelease) }
}

func (s *fakeStore) batchWriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchWrites
}

func (s *fakeStore) seed(id shared.PrincipalID, xp float64) {
	_ = s.Store.UpsertRecord(context.Background(), id, experience.ProgressFor(experience.DefaultCurve(), xp))
}

// fakeGuild answers role lookups from a static table.
type fakeGuild struct {
	mu      sync.Mutex
	roles   map[shared.PrincipalID]shared.RoleSet
	missing map[shared.PrincipalID]bool
	broken  map[shared.PrincipalID]bool
	lookups int
}

func newFakeGuild() *fakeGuild {
	return &fakeGuild{
		roles:   make(map[shared.PrincipalID]shared.RoleSet),
		missing: make(map[shared.PrincipalID]bool),
		broken:  make(map[shared.PrincipalID]bool),
	}
}

func (g *fakeGuild) FetchRoles(ctx context.Context, p shared.PrincipalID) (shared.RoleSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lookups++
	if g.missing[p] {
		return nil, guild.ErrMemberNotFound
	}
	if g.broken[p] {
		return nil, errors.New("gateway timeout")
	}
	return g.roles[p], nil
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.LevelEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e shared.LevelEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) PublishAsync(ctx context.Context, e shared.LevelEvent) {
	p.Publish(ctx, e)
}

func (p *recordingPublisher) Events() []shared.LevelEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]shared.LevelEvent(nil), p.events...)
}

// countingObserver counts RecordsChanged calls.
type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (o *countingObserver) RecordsChanged(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return nil
}
