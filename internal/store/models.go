package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmfontes/skuld/internal/engine"
)

// Project is the tenant boundary. All lookups are project-scoped.
type Project struct {
	ID        uuid.UUID
	Key       string
	Name      string
	SDKKey    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Environment is one deployment environment of a project.
type Environment struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	Key        string
	Name       string
	Production bool
	Position   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Flag is the per-project flag record. Per-environment state lives on the
// FlagEnvironment overlay.
type Flag struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Key         string
	Name        string
	Description string
	Type        engine.FlagType
	Tags        []string
	Archived    bool
	Permanent   bool
	OwnerEmail  string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Populated by GetFlag.
	Variants     []FlagVariant
	Environments []FlagEnvironment
}

// FlagVariant is one arm of a variant flag.
type FlagVariant struct {
	ID       uuid.UUID
	FlagID   uuid.UUID
	Key      string
	Name     string
	Payload  []byte
	Weight   int
	Position int
}

// FlagEnvironment is the per-environment overlay of a flag.
type FlagEnvironment struct {
	ID               uuid.UUID
	FlagID           uuid.UUID
	EnvironmentID    uuid.UUID
	EnvironmentKey   string
	Enabled          bool
	Percentage       int
	DefaultVariantID *uuid.UUID
	EnableAt         *time.Time
	DisableAt        *time.Time
	Metadata         []byte
	UpdatedAt        time.Time

	// Populated by GetFlag.
	Rules []FlagRule
}

// FlagRule is one ordered targeting rule of an overlay, stored wide-row.
// The in-memory evaluation model is the tagged engine.Rule; conversion
// happens at snapshot build time.
type FlagRule struct {
	ID                uuid.UUID
	FlagEnvironmentID uuid.UUID
	Type              engine.RuleType
	Position          int
	SegmentID         *uuid.UUID
	AttributeName     *string
	Operator          *string
	AttributeValue    *string
	UserIDs           []string
	ServeEnabled      bool
	ServeVariantID    *uuid.UUID
	ServePercentage   *int
}

// Segment is a reusable, named rule set.
type Segment struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Key       string
	Name      string
	MatchType engine.MatchType
	CreatedAt time.Time
	UpdatedAt time.Time

	Rules []SegmentRule
}

// SegmentRule is one predicate of a segment.
type SegmentRule struct {
	ID            uuid.UUID
	SegmentID     uuid.UUID
	AttributeName string
	Operator      string
	Value         string
	Position      int
}

// TransitionKind discriminates scheduled transitions.
type TransitionKind string

const (
	TransitionEnable  TransitionKind = "enable"
	TransitionDisable TransitionKind = "disable"
)

// ScheduledTransition is a pending wall-clock enable/disable. The row id is
// the schedule handle.
type ScheduledTransition struct {
	ID                uuid.UUID
	FlagEnvironmentID uuid.UUID
	Kind              TransitionKind
	FireAt            time.Time
	Attempts          int
	CreatedAt         time.Time
}

// OutboxRow is one pending propagation unit: cache keys to invalidate plus
// the change-bus event payload.
type OutboxRow struct {
	ID             int64
	ProjectKey     string
	EnvironmentKey string
	FlagKey        string
	Action         string
	Enabled        bool
	CacheKeys      []string
	CreatedAt      time.Time
}

// Outbox actions, mirrored into change-bus events.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionToggled   = "toggled"
	ActionScheduled = "scheduled"
	ActionArchived  = "archived"
	ActionDeleted   = "deleted"
)
