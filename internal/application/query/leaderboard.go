// Package query contains read operations. Queries never modify state.
package query

import (
	"context"
	"log/slog"
	"math"

	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD QUERIES
// Ranked pages by dense rank, the window around one member, and a member's
// own progress.
// ══════════════════════════════════════════════════════════════════════════════

// Page size bounds.
const (
	MinPageSize     = 3
	MaxPageSize     = 20
	DefaultPageSize = 10
)

// RankReader is the read side of the record store.
type RankReader interface {
	GetRecord(ctx context.Context, id shared.PrincipalID) (experience.Record, error)
	GetRankedRange(ctx context.Context, fromRank, toRank int) ([]experience.RankedRecord, error)
	GetRank(ctx context.Context, id shared.PrincipalID) (experience.RankedRecord, error)
	CountRecords(ctx context.Context) (int, error)
}

// RankCache caches ranked pages. Implemented by redis.RankCache.
type RankCache interface {
	GetPage(ctx context.Context, from, to int) ([]experience.RankedRecord, bool, error)
	PutPage(ctx context.Context, from, to int, page []experience.RankedRecord) error
}

// CurveSource supplies the guild's current level curve.
type CurveSource interface {
	Curve() experience.Curve
}

// LeaderboardPage is one window of the ranking.
type LeaderboardPage struct {
	FromRank int                       `json:"from_rank"`
	ToRank   int                       `json:"to_rank"`
	Entries  []experience.RankedRecord `json:"entries"`
	Total    int                       `json:"total"`
	Cached   bool                      `json:"cached"`
}

// MemberInfo is one member's standing.
type MemberInfo struct {
	PrincipalID shared.PrincipalID `json:"principal_id"`
	Experience  float64            `json:"experience"`
	Level       int                `json:"level"`
	Rank        *int               `json:"rank,omitempty"`
	// Progress is the fraction of the current level completed, in [0,1).
	Progress        float64 `json:"progress"`
	NextRequirement float64 `json:"next_requirement"`
	Display         string  `json:"display"`
}

// Leaderboard serves ranking reads.
type Leaderboard struct {
	records RankReader
	curve   CurveSource
	cache   RankCache
	logger  *slog.Logger
}

// NewLeaderboard creates the leaderboard queries. cache may be nil.
func NewLeaderboard(records RankReader, curve CurveSource, cache RankCache, logger *slog.Logger) *Leaderboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leaderboard{
		records: records,
		curve:   curve,
		cache:   cache,
		logger:  logger.With("component", "leaderboard"),
	}
}

// ClampPageSize bounds n to [MinPageSize, MaxPageSize]; 0 means DefaultPageSize.
func ClampPageSize(n int) int {
	if n == 0 {
		return DefaultPageSize
	}
	return max(MinPageSize, min(n, MaxPageSize))
}

// Top returns ranks 1..n.
func (l *Leaderboard) Top(ctx context.Context, n int) (LeaderboardPage, error) {
	n = ClampPageSize(n)
	return l.page(ctx, 1, n)
}

// Around returns n ranks centred on the member. An unranked member gets Top(n).
func (l *Leaderboard) Around(ctx context.Context, principal shared.PrincipalID, n int) (LeaderboardPage, error) {
	n = ClampPageSize(n)

	me, err := l.records.GetRank(ctx, principal)
	if experience.IsRecordNotFound(err) {
		return l.page(ctx, 1, n)
	}
	if err != nil {
		return LeaderboardPage{}, shared.StoreError("leaderboard", "Around", err)
	}

	low := max(me.Rank-int(math.Ceil(float64(n)/2)), 1)
	return l.page(ctx, low, low+n-1)
}

// MemberInfo reports the member's experience, level, rank and progress.
// Unknown members read as zero experience with no rank.
func (l *Leaderboard) MemberInfo(ctx context.Context, principal shared.PrincipalID) (MemberInfo, error) {
	curve := l.curve.Curve()
	info := MemberInfo{PrincipalID: principal}

	ranked, err := l.records.GetRank(ctx, principal)
	switch {
	case experience.IsRecordNotFound(err):
	case err != nil:
		return MemberInfo{}, shared.StoreError("leaderboard", "MemberInfo", err)
	default:
		rank := ranked.Rank
		info.Rank = &rank
		info.Experience = ranked.Experience
	}

	info.Level = curve.FlooredLevel(info.Experience)
	info.Progress = curve.ProgressWithinLevel(info.Experience)
	info.NextRequirement = curve.NextRequirement(info.Experience)
	info.Display = experience.FormatQuantity(info.Experience)
	return info, nil
}

func (l *Leaderboard) page(ctx context.Context, from, to int) (LeaderboardPage, error) {
	out := LeaderboardPage{FromRank: from, ToRank: to}

	total, err := l.records.CountRecords(ctx)
	if err != nil {
		return LeaderboardPage{}, shared.StoreError("leaderboard", "Page", err)
	}
	out.Total = total

	if l.cache != nil {
		entries, ok, err := l.cache.GetPage(ctx, from, to)
		if err != nil {
			// cache trouble degrades to a store read
			l.logger.Warn("rank cache read failed", "from", from, "to", to, "error", err)
		} else if ok {
			out.Entries = entries
			out.Cached = true
			return out, nil
		}
	}

	entries, err := l.records.GetRankedRange(ctx, from, to)
	if err != nil {
		return LeaderboardPage{}, shared.StoreError("leaderboard", "Page", err)
	}
	if entries == nil {
		entries = []experience.RankedRecord{}
	}
	out.Entries = entries

	if l.cache != nil {
		if err := l.cache.PutPage(ctx, from, to, entries); err != nil {
			l.logger.Warn("rank cache write failed", "from", from, "to", to, "error", err)
		}
	}
	return out, nil
}
