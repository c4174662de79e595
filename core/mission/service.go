package mission

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/drone"
	"github.com/sierrawings/backend/core/user"
)

var (
	// caller-correctable errors, surfaced synchronously
	ErrNotFound               = errors.New("mission not found")
	ErrInvalidTransition      = errors.New("transition not permitted from the mission's current status")
	ErrUnauthorized           = errors.New("actor is not permitted to perform this transition")
	ErrMissionClosed          = errors.New("mission has reached a terminal status")
	ErrConcurrentModification = errors.New("mission was modified concurrently; reload and retry")
	ErrNoDroneAvailable       = errors.New("no available drone")
	ErrClinicNotEligible      = errors.New("clinic is not eligible to accept missions")
)

type (
	// Repository is the mission store contract. AppendTransition must persist
	// the new status and the audit record as one unit, guarded by an optimistic
	// version check: when the stored version differs from m.Version the write
	// is rejected with ErrConcurrentModification and nothing is recorded.
	Repository interface {
		CreateMission(ctx context.Context, m Mission) (Mission, error)
		GetMission(ctx context.Context, id string) (Mission, error)
		QueryMissions(ctx context.Context, filter QueryFilter) ([]Mission, error)
		AppendTransition(ctx context.Context, m Mission, rec TransitionRecord) (Mission, error)
	}

	// UserDirectory resolves notification recipients. Implemented by user.Service.
	UserDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
		Query(ctx context.Context, filter user.QueryFilter) ([]user.User, error)
	}

	// Fleet is the drone pool consulted for assignment. Claim must be an
	// atomic available-to-assigned check-and-set so the same drone can
	// never serve two missions. Implemented by drone.Service.
	Fleet interface {
		GetByID(ctx context.Context, id string) (drone.Drone, error)
		Claim(ctx context.Context, id string) (drone.Drone, error)
		SetStatus(ctx context.Context, id, status string) (drone.Drone, error)
	}

	// Notifier delivers status-change email for a committed transition.
	// It must never fail the transition: outcomes are recorded and logged
	// on the dispatcher side. Implemented by notification.Dispatcher.
	Notifier interface {
		MissionStatus(ctx context.Context, m Mission, rec TransitionRecord, to user.User)
	}

	Service struct {
		repo     Repository
		users    UserDirectory
		fleet    Fleet
		notifier Notifier
		logger   core.Logger
	}
)

func NewService(repo Repository, users UserDirectory, fleet Fleet, notifier Notifier, logger core.Logger) *Service {
	return &Service{repo: repo, users: users, fleet: fleet, notifier: notifier, logger: logger}
}

// Request creates a mission in StatusRequested on behalf of a patient.
// The audit log starts with the creation record.
func (svc *Service) Request(ctx context.Context, actor user.User, nm NewMission) (Mission, error) {
	if !actor.IsPatient() {
		return Mission{}, ErrUnauthorized
	}

	now := time.Now().UTC()
	priority := nm.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	m := Mission{
		PatientID:       actor.ID,
		Status:          StatusRequested,
		Version:         1,
		Priority:        priority,
		MedicalItems:    core.CleanString(nm.MedicalItems),
		ContactPhone:    core.CleanString(nm.ContactPhone),
		Notes:           core.CleanString(nm.Notes),
		DeliveryAddress: core.CleanString(nm.DeliveryAddress),
		RequestedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if nm.DeliveryLat != 0 || nm.DeliveryLon != 0 {
		m.DeliveryLat = null.Float64From(nm.DeliveryLat)
		m.DeliveryLon = null.Float64From(nm.DeliveryLon)
	}

	m, err := svc.repo.CreateMission(ctx, m)
	if err != nil {
		return Mission{}, errors.Wrap(err, "creating mission")
	}

	rec := m.Audit[0]
	svc.notify(ctx, m, rec)
	return m, nil
}

// Accept assigns the mission to the acting clinic.
// Precondition: the clinic is active and license-verified.
func (svc *Service) Accept(ctx context.Context, actor user.User, id string) (Mission, error) {
	if actor.IsClinic() && !actor.CanHandleMissions() {
		return Mission{}, ErrClinicNotEligible
	}
	return svc.transition(ctx, actor, id, StatusAccepted, "", func(m *Mission, now time.Time) error {
		m.ClinicID = null.StringFrom(actor.ID)
		m.AcceptedAt = null.TimeFrom(now)
		return nil
	})
}

// Reject declines a requested mission. The patient must create a new mission
// to re-request; a rejected mission id is closed for good.
func (svc *Service) Reject(ctx context.Context, actor user.User, id, reason string) (Mission, error) {
	return svc.transition(ctx, actor, id, StatusRejected, reason, func(m *Mission, now time.Time) error {
		m.CompletedAt = null.TimeFrom(now)
		return nil
	})
}

// AssignDrone attaches an available drone to an accepted mission. The drone
// is claimed (atomic available-to-assigned flip) before the transition so two
// concurrent assignments cannot both take the same drone; if the transition
// is then refused the claim is released.
func (svc *Service) AssignDrone(ctx context.Context, actor user.User, id, droneID string) (Mission, error) {
	d, err := svc.fleet.Claim(ctx, droneID)
	if err != nil {
		return Mission{}, err
	}

	m, err := svc.transition(ctx, actor, id, StatusAssigned, "drone "+d.Name, func(m *Mission, now time.Time) error {
		m.DroneID = null.StringFrom(d.ID)
		m.AssignedAt = null.TimeFrom(now)
		return nil
	})
	if err != nil {
		if _, rerr := svc.fleet.SetStatus(ctx, d.ID, drone.StatusAvailable); rerr != nil {
			svc.logger.Error("releasing claimed drone: "+rerr.Error(), rerr)
		}
		return Mission{}, err
	}
	return m, nil
}

// MarkInTransit records launch confirmation from drone telemetry.
func (svc *Service) MarkInTransit(ctx context.Context, actor user.User, id string) (Mission, error) {
	m, err := svc.transition(ctx, actor, id, StatusInTransit, "", func(m *Mission, now time.Time) error {
		m.LaunchedAt = null.TimeFrom(now)
		return nil
	})
	if err != nil {
		return Mission{}, err
	}
	svc.setDroneStatus(ctx, m, drone.StatusInFlight)
	return m, nil
}

// MarkDelivered records delivery confirmation and releases the drone.
func (svc *Service) MarkDelivered(ctx context.Context, actor user.User, id string) (Mission, error) {
	m, err := svc.transition(ctx, actor, id, StatusDelivered, "", func(m *Mission, now time.Time) error {
		m.CompletedAt = null.TimeFrom(now)
		return nil
	})
	if err != nil {
		return Mission{}, err
	}
	svc.setDroneStatus(ctx, m, drone.StatusAvailable)
	return m, nil
}

// MarkFailed closes a mission after an irrecoverable fault; permitted from
// any non-terminal status. The drone, if any, is released.
func (svc *Service) MarkFailed(ctx context.Context, actor user.User, id, reason string) (Mission, error) {
	m, err := svc.transition(ctx, actor, id, StatusFailed, reason, func(m *Mission, now time.Time) error {
		m.CompletedAt = null.TimeFrom(now)
		return nil
	})
	if err != nil {
		return Mission{}, err
	}
	svc.setDroneStatus(ctx, m, drone.StatusAvailable)
	return m, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Mission, error) {
	return svc.repo.GetMission(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Mission, error) {
	return svc.repo.QueryMissions(ctx, filter)
}

// transition validates and commits one state change. Check order matters:
// a terminal mission reports ErrMissionClosed before anything else; an edge
// missing from the graph reports ErrInvalidTransition; only then is the
// actor's capability checked.
func (svc *Service) transition(
	ctx context.Context,
	actor user.User,
	id string,
	to Status,
	note string,
	apply func(m *Mission, now time.Time) error,
) (Mission, error) {
	m, err := svc.repo.GetMission(ctx, id)
	if err != nil {
		return Mission{}, err
	}

	if m.Closed() {
		return Mission{}, ErrMissionClosed
	}
	if !CanTransition(m.Status, to) {
		return Mission{}, ErrInvalidTransition
	}
	if !Allowed(actor.Role, m.Status, to) {
		return Mission{}, ErrUnauthorized
	}

	now := time.Now().UTC()
	m.Status = to
	m.UpdatedAt = now
	if apply != nil {
		if err = apply(&m, now); err != nil {
			return Mission{}, err
		}
	}

	rec := TransitionRecord{
		MissionID: m.ID,
		Status:    to,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Note:      note,
		CreatedAt: now,
	}

	// The store persists status + audit atomically; losers of a concurrent
	// race get ErrConcurrentModification and nothing is sent for them.
	m, err = svc.repo.AppendTransition(ctx, m, rec)
	if err != nil {
		return Mission{}, err
	}

	// Committed. Notification failure from here on is logged, never rolled back.
	svc.notify(ctx, m, m.Audit[len(m.Audit)-1])
	return m, nil
}

func (svc *Service) setDroneStatus(ctx context.Context, m Mission, status string) {
	if !m.DroneID.Valid {
		return
	}
	if _, err := svc.fleet.SetStatus(ctx, m.DroneID.String, status); err != nil {
		svc.logger.Error("updating drone status: "+err.Error(), err)
	}
}

// notify fans out status email for a committed transition: the patient is
// informed on every change; every mission-capable clinic is alerted on new
// requests; the handling clinic is copied on assignment and terminal outcomes.
func (svc *Service) notify(ctx context.Context, m Mission, rec TransitionRecord) {
	patient, err := svc.users.GetByID(ctx, m.PatientID)
	if err != nil {
		svc.logger.Error("resolving mission patient: "+err.Error(), err)
	} else {
		svc.notifier.MissionStatus(ctx, m, rec, patient)
	}

	switch m.Status {
	case StatusRequested:
		active := true
		clinics, err := svc.users.Query(ctx, user.QueryFilter{Role: user.RoleClinic, IsActive: &active})
		if err != nil {
			svc.logger.Error("resolving clinics: "+err.Error(), err)
			return
		}
		for _, c := range clinics {
			svc.notifier.MissionStatus(ctx, m, rec, c)
		}
	case StatusAssigned, StatusDelivered, StatusFailed:
		if !m.ClinicID.Valid {
			return
		}
		clinic, err := svc.users.GetByID(ctx, m.ClinicID.String)
		if err != nil {
			svc.logger.Error("resolving mission clinic: "+err.Error(), err)
			return
		}
		svc.notifier.MissionStatus(ctx, m, rec, clinic)
	}
}
