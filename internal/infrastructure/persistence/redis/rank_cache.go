package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANK CACHE
// Ranked pages are cached under a generation number. Bumping the generation
// invalidates every page at once; stale pages expire by TTL.
//
// Keys:
//   rank:{guild}:gen                 current generation counter
//   rank:{guild}:{gen}:{from}-{to}   JSON []RankedRecord
// ══════════════════════════════════════════════════════════════════════════════

// RankCache caches leaderboard pages for one guild.
type RankCache struct {
	cache  *Cache
	guild  shared.GuildID
	ttl    time.Duration
	logger *slog.Logger
}

// NewRankCache creates a rank cache. ttl <= 0 uses TTLRankPage.
func NewRankCache(cache *Cache, guild shared.GuildID, ttl time.Duration, logger *slog.Logger) *RankCache {
	if ttl <= 0 {
		ttl = TTLRankPage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RankCache{
		cache:  cache,
		guild:  guild,
		ttl:    ttl,
		logger: logger.With("component", "rank_cache"),
	}
}

func (r *RankCache) genKey() string {
	return guildKey(PrefixRank, r.guild, "gen")
}

func (r *RankCache) pageKey(gen int64, from, to int) string {
	return guildKey(PrefixRank, r.guild, strconv.FormatInt(gen, 10), fmt.Sprintf("%d-%d", from, to))
}

// GetPage returns the cached page for ranks [from, to]. ok is false on a miss.
func (r *RankCache) GetPage(ctx context.Context, from, to int) ([]experience.RankedRecord, bool, error) {
	gen, err := r.cache.GetInt64(ctx, r.genKey())
	if err != nil {
		return nil, false, err
	}

	var page []experience.RankedRecord
	if err := r.cache.Get(ctx, r.pageKey(gen, from, to), &page); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return page, true, nil
}

// PutPage stores the page for ranks [from, to] under the current generation.
func (r *RankCache) PutPage(ctx context.Context, from, to int, page []experience.RankedRecord) error {
	gen, err := r.cache.GetInt64(ctx, r.genKey())
	if err != nil {
		return err
	}
	if page == nil {
		page = []experience.RankedRecord{}
	}
	return r.cache.Set(ctx, r.pageKey(gen, from, to), page, r.ttl)
}

// Invalidate drops every cached page by advancing the generation.
func (r *RankCache) Invalidate(ctx context.Context) error {
	gen, err := r.cache.Incr(ctx, r.genKey())
	if err != nil {
		return fmt.Errorf("invalidate rank cache: %w", err)
	}
	r.logger.Debug("rank cache invalidated", "generation", gen)
	return nil
}

// RecordsChanged invalidates the cache after experience writes.
func (r *RankCache) RecordsChanged(ctx context.Context) error {
	return r.Invalidate(ctx)
}
