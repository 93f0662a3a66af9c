package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Level notification channels.
const (
	// EventLevelUp fires when reward-driven progression crosses a level boundary.
	EventLevelUp EventType = "experience.level_up"

	// EventLevelChanged fires on administrative or migration-driven level changes, up or down.
	EventLevelChanged EventType = "experience.level_changed"
)

// ChangeCause records which write path produced a level event.
type ChangeCause string

const (
	CauseFlush     ChangeCause = "flush"
	CauseAdminAdd  ChangeCause = "admin_add"
	CauseAdminSet  ChangeCause = "admin_set"
	CauseMigration ChangeCause = "curve_migration"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelEvent is published on both level channels.
type LevelEvent struct {
	BaseEvent
	Guild      GuildID     `json:"guild_id"`
	Principal  PrincipalID `json:"principal_id"`
	OldLevel   int         `json:"old_level"`
	NewLevel   int         `json:"new_level"`
	Experience float64     `json:"experience"`
	Cause      ChangeCause `json:"cause"`
}

// NewLevelUpEvent creates a level-up event.
func NewLevelUpEvent(guild GuildID, principal PrincipalID, oldLevel, newLevel int, xp float64) LevelEvent {
	return LevelEvent{
		BaseEvent:  NewBaseEvent(EventLevelUp, principal.String()),
		Guild:      guild,
		Principal:  principal,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		Experience: xp,
		Cause:      CauseFlush,
	}
}

// NewLevelChangedEvent creates a level-changed event.
func NewLevelChangedEvent(guild GuildID, principal PrincipalID, oldLevel, newLevel int, xp float64, cause ChangeCause) LevelEvent {
	return LevelEvent{
		BaseEvent:  NewBaseEvent(EventLevelChanged, principal.String()),
		Guild:      guild,
		Principal:  principal,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		Experience: xp,
		Cause:      cause,
	}
}

// Increased reports whether the level went up.
func (e LevelEvent) Increased() bool {
	return e.NewLevel > e.OldLevel
}
