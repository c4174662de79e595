package drone

import (
	"time"

	"github.com/volatiletech/null/v8"
)

// Drone fleet statuses.
const (
	StatusAvailable   = "available"
	StatusAssigned    = "assigned"
	StatusInFlight    = "in_flight"
	StatusMaintenance = "maintenance"
	StatusOffline     = "offline"
)

var allStatuses = []string{StatusAvailable, StatusAssigned, StatusInFlight, StatusMaintenance, StatusOffline}

func ValidStatus(s string) bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Drone struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	SerialNumber string    `json:"serial_number"`
	Status       string    `json:"status"`
	BatteryLevel int       `json:"battery_level"`
	MaxPayloadKg float64   `json:"max_payload_kg"`
	LastSeen     null.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

func (d *Drone) Available() bool {
	return d.Status == StatusAvailable
}

type NewDrone struct {
	Name         string  `json:"name" validate:"required"`
	Model        string  `json:"model" validate:"required"`
	SerialNumber string  `json:"serial_number" validate:"required"`
	MaxPayloadKg float64 `json:"max_payload_kg"`
}
