package experience

import (
	"github.com/guild-hub/guild-xp/internal/domain/shared"
)

// Record is one principal's progression in a guild.
// Level always equals the curve's floored level for Experience at write time.
type Record struct {
	PrincipalID shared.PrincipalID `json:"principal_id"`
	Experience  float64            `json:"experience"`
	Level       int                `json:"level"`
}

// NewRecord returns the implicit record of a principal that was never written.
func NewRecord(id shared.PrincipalID) Record {
	return Record{PrincipalID: id}
}

// Progress is the (experience, level) pair written for one principal.
type Progress struct {
	Experience float64 `json:"experience"`
	Level      int     `json:"level"`
}

// ProgressFor derives the progress for xp under curve.
func ProgressFor(curve Curve, xp float64) Progress {
	if xp < 0 {
		xp = 0
	}
	return Progress{Experience: xp, Level: curve.FlooredLevel(xp)}
}

// Apply returns the record with progress written into it.
func (r Record) Apply(p Progress) Record {
	r.Experience = p.Experience
	r.Level = p.Level
	return r
}

// RankedRecord is a record with its dense rank by experience, descending.
type RankedRecord struct {
	Record
	Rank int `json:"rank"`
}
