package notification

import (
	"context"
	"time"

	"github.com/volatiletech/null/v8"
)

// Kind selects the email template used for an event.
type Kind string

const (
	KindOTP          Kind = "otp"
	KindStatusChange Kind = "mission_status"
	KindMaintenance  Kind = "maintenance"
	KindFeedback     Kind = "feedback"
	KindWelcome      Kind = "welcome"
)

// Outcome is the terminal delivery result of an event.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
)

// Event records one attempted outbound email. Events tied to a mission
// transition carry the mission id; broadcasts do not.
type Event struct {
	ID        string            `json:"id"`
	MissionID null.String       `json:"mission_id,omitempty"`
	Recipient string            `json:"recipient"`
	Kind      Kind              `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Retries   int               `json:"retries"` // attempts beyond the first
	CreatedAt time.Time         `json:"created_at"` // UTC
	UpdatedAt time.Time         `json:"updated_at"` // UTC
}

// EventRepository persists the notification audit trail. Recording failures
// must never surface to the business transition that triggered the event.
type EventRepository interface {
	SaveEvent(ctx context.Context, evt Event) (Event, error)
	QueryEventsByMission(ctx context.Context, missionID string) ([]Event, error)
}
