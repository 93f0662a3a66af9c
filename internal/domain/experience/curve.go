// Package experience contains the experience domain: the level curve, per-principal
// records, guild settings and the persistence contract the aggregator is written against.
package experience

import (
	"math"

	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEVEL CURVE
// ══════════════════════════════════════════════════════════════════════════════

// Default curve parameters.
const (
	DefaultCurveScalar = 100.0
	DefaultCurvePower  = 2.0
)

// MaxLevel is the highest level a curve reports. Experience beyond
// Requirement(MaxLevel) still counts but no longer raises the level.
const MaxLevel = math.MaxInt32

// boundaryEpsilon is the relative distance under which a computed level is
// treated as landing exactly on an integer boundary.
const boundaryEpsilon = 1e-9

// Curve converts between experience and level.
// Requirement(level) = Scalar * level^Power.
type Curve struct {
	Scalar float64 `json:"scalar" yaml:"scalar"`
	Power  float64 `json:"power" yaml:"power"`
}

// DefaultCurve returns the curve new guilds start with.
func DefaultCurve() Curve {
	return Curve{Scalar: DefaultCurveScalar, Power: DefaultCurvePower}
}

// Validate checks that both parameters are finite and positive.
func (c Curve) Validate() error {
	if !isPositive(c.Scalar) {
		return shared.Validationf("experience", "ValidateCurve", "curve scalar must be positive, got %v", c.Scalar)
	}
	if !isPositive(c.Power) {
		return shared.Validationf("experience", "ValidateCurve", "curve power must be positive, got %v", c.Power)
	}
	return nil
}

// Requirement returns the experience needed to reach level.
// Negative levels are treated as zero; overflow saturates at MaxFloat64.
func (c Curve) Requirement(level float64) float64 {
	if level <= 0 || math.IsNaN(level) {
		return 0
	}
	req := c.Scalar * math.Pow(level, c.Power)
	if math.IsInf(req, 1) {
		return math.MaxFloat64
	}
	return req
}

// LevelFromExperience is the continuous inverse of Requirement, clamped to MaxLevel.
// It returns 0 when xp/Scalar is not positive.
func (c Curve) LevelFromExperience(xp float64) float64 {
	ratio := xp / c.Scalar
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		return 0
	}

	level := math.Exp(math.Log(ratio) / c.Power)
	switch {
	case math.IsNaN(level):
		return 0
	case level >= MaxLevel:
		return MaxLevel
	}

	// exp/ln drifts by a few ulps around integers; snap when xp really is on the boundary.
	nearest := math.Round(level)
	if nearest > 0 && math.Abs(level-nearest) <= boundaryEpsilon*nearest && c.Requirement(nearest) <= xp {
		return nearest
	}
	return level
}

// FlooredLevel returns the whole level reached with xp.
// The result always satisfies Requirement(L) <= xp < Requirement(L+1).
func (c Curve) FlooredLevel(xp float64) int {
	if !(xp > 0) || math.IsInf(xp, 0) || c.Validate() != nil {
		return 0
	}

	lf := c.LevelFromExperience(xp)
	if lf >= MaxLevel {
		return MaxLevel
	}
	level := int(math.Floor(lf))
	if level < 0 {
		level = 0
	}

	// The float estimate is off by at most one around a boundary.
	for i := 0; i < 2 && level > 0 && c.Requirement(float64(level)) > xp; i++ {
		level--
	}
	for i := 0; i < 2 && level < MaxLevel && c.Requirement(float64(level+1)) <= xp; i++ {
		level++
	}
	return level
}

// ProgressWithinLevel returns how far xp is between the current and next level, in [0,1).
func (c Curve) ProgressWithinLevel(xp float64) float64 {
	level := float64(c.FlooredLevel(xp))
	low := c.Requirement(level)
	high := c.Requirement(level + 1)
	if high <= low {
		return 0
	}

	p := (xp - low) / (high - low)
	switch {
	case p < 0 || math.IsNaN(p):
		return 0
	case p >= 1:
		return math.Nextafter(1, 0)
	}
	return p
}

// NextRequirement returns the experience needed for the level after the one reached with xp.
func (c Curve) NextRequirement(xp float64) float64 {
	return c.Requirement(float64(c.FlooredLevel(xp) + 1))
}

// Equal reports whether two curves have identical parameters.
func (c Curve) Equal(other Curve) bool {
	return c.Scalar == other.Scalar && c.Power == other.Power
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
