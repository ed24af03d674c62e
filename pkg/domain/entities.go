// Package domain defines the core persistent entities, authorization
// primitives, and rule evaluation machinery used by kintree.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityMember identifies a family member record.
	EntityMember EntityType = "member"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member represents one person in the family structure. ParentID owns the
// child relationship; SpouseID is a one-directional pointer as stored, and
// mutual consistency is the lifecycle controller's responsibility, not a
// guarantee of the data.
type Member struct {
	Base
	Name      string     `json:"name"`
	Gender    string     `json:"gender,omitempty"`
	Born      *time.Time `json:"born,omitempty"`
	Died      *time.Time `json:"died,omitempty"`
	Bio       *string    `json:"bio,omitempty"`
	ParentID  *string    `json:"parent_id"`
	SpouseID  *string    `json:"spouse_id"`
	ImageURL  *string    `json:"image_url,omitempty"`
	CreatedBy string     `json:"created_by"`
}

// Identity describes the acting user as reported by the auth provider.
type Identity struct {
	UID   string `json:"uid"`
	Admin bool   `json:"admin"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Warnings returns the non-blocking violations for logging.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// CloneMember returns a deep copy so callers never alias stored state.
func CloneMember(m Member) Member {
	cp := m
	cp.Born = cloneTimePtr(m.Born)
	cp.Died = cloneTimePtr(m.Died)
	cp.Bio = cloneStringPtr(m.Bio)
	cp.ParentID = cloneStringPtr(m.ParentID)
	cp.SpouseID = cloneStringPtr(m.SpouseID)
	cp.ImageURL = cloneStringPtr(m.ImageURL)
	return cp
}

func cloneStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
