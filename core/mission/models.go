package mission

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core/user"
)

// Status is a mission lifecycle state.
type Status string

// Mission lifecycle states.
// Success path: Requested -> Accepted -> Assigned -> InTransit -> Delivered.
// Failure path: Requested -> Rejected; any non-terminal -> Failed.
const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusAssigned  Status = "assigned"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusRejected, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

type transitionKey struct {
	from, to Status
}

// transitionActors is the single source of truth for the transition graph
// and the roles permitted to drive each edge. Failed is handled separately:
// it is reachable from any non-terminal state by admin/system.
var transitionActors = map[transitionKey][]string{
	{StatusRequested, StatusAccepted}:  {user.RoleClinic},
	{StatusRequested, StatusRejected}:  {user.RoleClinic},
	{StatusAccepted, StatusAssigned}:   {user.RoleClinic, user.RoleAdmin},
	{StatusAssigned, StatusInTransit}:  {user.RoleAdmin, user.RoleSystem},
	{StatusInTransit, StatusDelivered}: {user.RoleAdmin, user.RoleSystem},
}

var failureActors = []string{user.RoleAdmin, user.RoleSystem}

// CanTransition reports whether the edge from -> to exists in the graph,
// regardless of actor.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return !from.Terminal()
	}
	_, ok := transitionActors[transitionKey{from, to}]
	return ok
}

// Allowed is the capability predicate: may `role` drive the edge from -> to?
func Allowed(role string, from, to Status) bool {
	if to == StatusFailed {
		if from.Terminal() {
			return false
		}
		return roleIn(role, failureActors)
	}
	actors, ok := transitionActors[transitionKey{from, to}]
	return ok && roleIn(role, actors)
}

func roleIn(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// TransitionRecord is one append-only audit entry. A mission's audit log
// always contains one record per transition plus the creation record.
type TransitionRecord struct {
	ID        string    `json:"id"`
	MissionID string    `json:"mission_id"`
	Status    Status    `json:"status"`
	ActorID   string    `json:"actor_id"` // user ID, or "system"
	ActorRole string    `json:"actor_role"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

type Mission struct {
	ID        string      `json:"id"`
	PatientID string      `json:"patient_id"`
	ClinicID  null.String `json:"clinic_id,omitempty"` // set on Accept
	DroneID   null.String `json:"drone_id,omitempty"`  // set on Assign
	Status    Status      `json:"status"`
	Version   int         `json:"version"` // optimistic concurrency guard

	Priority     string `json:"priority"`
	MedicalItems string `json:"medical_items"`
	ContactPhone string `json:"contact_phone"`
	Notes        string `json:"notes,omitempty"`

	DeliveryAddress string       `json:"delivery_address"`
	DeliveryLat     null.Float64 `json:"delivery_lat,omitempty"`
	DeliveryLon     null.Float64 `json:"delivery_lon,omitempty"`

	// per-transition timestamps
	RequestedAt time.Time `json:"requested_at"`
	AcceptedAt  null.Time `json:"accepted_at,omitempty"`
	AssignedAt  null.Time `json:"assigned_at,omitempty"`
	LaunchedAt  null.Time `json:"launched_at,omitempty"`
	CompletedAt null.Time `json:"completed_at,omitempty"`

	Audit []TransitionRecord `json:"audit,omitempty"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (m *Mission) Closed() bool {
	return m.Status.Terminal()
}

// Priorities
const (
	PriorityLow       = "low"
	PriorityNormal    = "normal"
	PriorityHigh      = "high"
	PriorityEmergency = "emergency"
)

var allPriorities = []string{PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency}

type NewMission struct {
	MedicalItems    string  `json:"medical_items" validate:"required"`
	DeliveryAddress string  `json:"delivery_address" validate:"required"`
	ContactPhone    string  `json:"contact_phone" validate:"required"`
	Priority        string  `json:"priority" validate:"omitempty,priority"`
	Notes           string  `json:"notes"`
	DeliveryLat     float64 `json:"delivery_lat"`
	DeliveryLon     float64 `json:"delivery_lon"`
}

type QueryFilter struct {
	PatientID string
	ClinicID  string
	Status    Status
}
