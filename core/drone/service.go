package drone

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

var (
	// errors
	ErrNotFound      = errors.New("drone not found")
	ErrSerialExists  = errors.New("a drone with this serial number already exists")
	ErrNotAvailable  = errors.New("drone is not available")
	ErrInvalidStatus = errors.New("invalid drone status")
)

type (
	// Repository is the fleet store contract. ClaimDrone must flip an
	// available drone to assigned as one atomic check-and-set: concurrent
	// claims of the same drone yield exactly one winner, the rest get
	// ErrNotAvailable.
	Repository interface {
		CreateDrone(ctx context.Context, d Drone) (Drone, error)
		GetDrone(ctx context.Context, id string) (Drone, error)
		QueryDrones(ctx context.Context, status string) ([]Drone, error)
		UpdateDrone(ctx context.Context, d Drone) (Drone, error)
		ClaimDrone(ctx context.Context, id string) (Drone, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) Register(ctx context.Context, nd NewDrone) (Drone, error) {
	now := time.Now().UTC()
	d := Drone{
		Name:         nd.Name,
		Model:        nd.Model,
		SerialNumber: nd.SerialNumber,
		Status:       StatusAvailable,
		BatteryLevel: 100,
		MaxPayloadKg: nd.MaxPayloadKg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return svc.repo.CreateDrone(ctx, d)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Drone, error) {
	return svc.repo.GetDrone(ctx, id)
}

func (svc *Service) QueryAll(ctx context.Context) ([]Drone, error) {
	return svc.repo.QueryDrones(ctx, "")
}

func (svc *Service) QueryAvailable(ctx context.Context) ([]Drone, error) {
	return svc.repo.QueryDrones(ctx, StatusAvailable)
}

func (svc *Service) Query(ctx context.Context, status string) ([]Drone, error) {
	if status != "" && !ValidStatus(status) {
		return nil, ErrInvalidStatus
	}
	return svc.repo.QueryDrones(ctx, status)
}

// Claim reserves an available drone for a mission, flipping it to assigned.
// The check-and-set is atomic at the store: of two concurrent claims only
// one wins, the other gets ErrNotAvailable.
func (svc *Service) Claim(ctx context.Context, id string) (Drone, error) {
	return svc.repo.ClaimDrone(ctx, id)
}

// SetStatus transitions a drone's fleet status; mission transitions drive
// available -> assigned -> in_flight -> available.
func (svc *Service) SetStatus(ctx context.Context, id, status string) (Drone, error) {
	if !ValidStatus(status) {
		return Drone{}, ErrInvalidStatus
	}
	d, err := svc.repo.GetDrone(ctx, id)
	if err != nil {
		return Drone{}, err
	}
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateDrone(ctx, d)
}

// Heartbeat records a telemetry check-in from the drone's ground station.
func (svc *Service) Heartbeat(ctx context.Context, id string, battery int) (Drone, error) {
	d, err := svc.repo.GetDrone(ctx, id)
	if err != nil {
		return Drone{}, err
	}
	d.BatteryLevel = battery
	d.LastSeen = null.TimeFrom(time.Now().UTC())
	d.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateDrone(ctx, d)
}
