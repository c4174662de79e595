package mission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/drone"
	"github.com/sierrawings/backend/core/mission"
	"github.com/sierrawings/backend/core/notification"
	"github.com/sierrawings/backend/core/user"
	"github.com/sierrawings/backend/storage/database/inmem"
)

// --- test doubles ---

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type fakeDirectory struct {
	users map[string]user.User
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (user.User, error) {
	usr, ok := d.users[id]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (d *fakeDirectory) Query(_ context.Context, filter user.QueryFilter) ([]user.User, error) {
	var users []user.User
	for _, usr := range d.users {
		if filter.Role != "" && usr.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		users = append(users, usr)
	}
	return users, nil
}

type notice struct {
	missionID string
	status    mission.Status
	toID      string
	toRole    string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) MissionStatus(_ context.Context, m mission.Mission, rec mission.TransitionRecord, to user.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{missionID: m.ID, status: rec.Status, toID: to.ID, toRole: to.Role})
}

func (n *recordingNotifier) sentTo(id string, status mission.Status) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ntc := range n.notices {
		if ntc.toID == id && ntc.status == status {
			return true
		}
	}
	return false
}

// --- fixtures ---

type fixtures struct {
	patient user.User
	clinic  user.User
	clinic2 user.User // eligible as well
	dormant user.User // inactive clinic, never notified
	rookie  user.User // active but unverified clinic
	admin   user.User
	system  user.User
	drone   drone.Drone
}

func setup(t *testing.T) (*mission.Service, *drone.Service, *inmem.MissionRepository, *recordingNotifier, fixtures) {
	t.Helper()

	fx := fixtures{
		patient: user.User{ID: "pat-1", Name: "Aminata", Role: user.RolePatient, IsActive: true, EmailVerified: true, Email: "aminata@test.sl"},
		clinic:  user.User{ID: "cli-1", Name: "Connaught", Role: user.RoleClinic, IsActive: true, ClinicVerified: true, Email: "connaught@test.sl"},
		clinic2: user.User{ID: "cli-2", Name: "Lumley", Role: user.RoleClinic, IsActive: true, ClinicVerified: true, Email: "lumley@test.sl"},
		dormant: user.User{ID: "cli-3", Name: "Closed Clinic", Role: user.RoleClinic, IsActive: false, ClinicVerified: true},
		rookie:  user.User{ID: "cli-4", Name: "New Clinic", Role: user.RoleClinic, IsActive: true, ClinicVerified: false, Email: "new@test.sl"},
		admin:   user.User{ID: "adm-1", Name: "Ops", Role: user.RoleAdmin, IsActive: true},
		system:  user.User{ID: "system", Role: user.RoleSystem, IsActive: true},
	}
	users := &fakeDirectory{users: map[string]user.User{
		fx.patient.ID: fx.patient,
		fx.clinic.ID:  fx.clinic,
		fx.clinic2.ID: fx.clinic2,
		fx.dormant.ID: fx.dormant,
		fx.rookie.ID:  fx.rookie,
		fx.admin.ID:   fx.admin,
	}}

	droneRepo := inmem.NewDroneRepository()
	droneSvc := drone.NewService(droneRepo)
	d, err := droneSvc.Register(context.Background(), drone.NewDrone{Name: "SW-07", Model: "Hexacopter", SerialNumber: "SW-07-001", MaxPayloadKg: 2.5})
	require.NoError(t, err)
	fx.drone = d

	repo := inmem.NewMissionRepository()
	notifier := &recordingNotifier{}
	svc := mission.NewService(repo, users, droneSvc, notifier, nopLogger{})
	return svc, droneSvc, repo, notifier, fx
}

func request(t *testing.T, svc *mission.Service, patient user.User) mission.Mission {
	t.Helper()
	m, err := svc.Request(context.Background(), patient, mission.NewMission{
		MedicalItems:    "insulin, 2 vials",
		DeliveryAddress: "12 Kissy Rd, Freetown",
		ContactPhone:    "+23276000000",
		Priority:        mission.PriorityHigh,
	})
	require.NoError(t, err)
	return m
}

// --- tests ---

func Test_Service_Request(t *testing.T) {
	svc, _, _, notifier, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)

	assert.Equal(t, mission.StatusRequested, m.Status)
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, fx.patient.ID, m.PatientID)
	require.Len(t, m.Audit, 1)
	assert.Equal(t, mission.StatusRequested, m.Audit[0].Status)
	assert.Equal(t, fx.patient.ID, m.Audit[0].ActorID)

	// patient and every active clinic are alerted; inactive ones are not
	assert.True(t, notifier.sentTo(fx.patient.ID, mission.StatusRequested))
	assert.True(t, notifier.sentTo(fx.clinic.ID, mission.StatusRequested))
	assert.True(t, notifier.sentTo(fx.clinic2.ID, mission.StatusRequested))
	assert.True(t, notifier.sentTo(fx.rookie.ID, mission.StatusRequested))
	assert.False(t, notifier.sentTo(fx.dormant.ID, mission.StatusRequested))

	// non-patients cannot open missions
	_, err := svc.Request(ctx, fx.clinic, mission.NewMission{MedicalItems: "x", DeliveryAddress: "y", ContactPhone: "z"})
	assert.Equal(t, mission.ErrUnauthorized, err)
	_, err = svc.Request(ctx, fx.admin, mission.NewMission{MedicalItems: "x", DeliveryAddress: "y", ContactPhone: "z"})
	assert.Equal(t, mission.ErrUnauthorized, err)
}

func Test_Service_fullDeliveryFlow(t *testing.T) {
	svc, droneSvc, _, notifier, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)

	m, err := svc.Accept(ctx, fx.clinic, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAccepted, m.Status)
	assert.Equal(t, fx.clinic.ID, m.ClinicID.String)
	assert.True(t, m.AcceptedAt.Valid)

	m, err = svc.AssignDrone(ctx, fx.admin, m.ID, fx.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAssigned, m.Status)
	assert.Equal(t, fx.drone.ID, m.DroneID.String)
	assert.True(t, m.AssignedAt.Valid)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAssigned)

	m, err = svc.MarkInTransit(ctx, fx.system, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusInTransit, m.Status)
	assert.True(t, m.LaunchedAt.Valid)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusInFlight)

	m, err = svc.MarkDelivered(ctx, fx.admin, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusDelivered, m.Status)
	assert.True(t, m.CompletedAt.Valid)
	assert.True(t, m.Closed())
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAvailable)

	// audit log: one record per transition plus the creation record
	require.Len(t, m.Audit, 5)
	wantTrail := []mission.Status{
		mission.StatusRequested,
		mission.StatusAccepted,
		mission.StatusAssigned,
		mission.StatusInTransit,
		mission.StatusDelivered,
	}
	for i, rec := range m.Audit {
		assert.Equal(t, wantTrail[i], rec.Status, "audit[%d]", i)
		assert.Equal(t, m.ID, rec.MissionID)
	}
	assert.Equal(t, 5, m.Version)

	// patient notified on every change; handling clinic on assignment and delivery
	for _, s := range wantTrail {
		assert.True(t, notifier.sentTo(fx.patient.ID, s), "patient not notified of %s", s)
	}
	assert.True(t, notifier.sentTo(fx.clinic.ID, mission.StatusAssigned))
	assert.True(t, notifier.sentTo(fx.clinic.ID, mission.StatusDelivered))
	assert.False(t, notifier.sentTo(fx.clinic2.ID, mission.StatusDelivered))
}

func assertDroneStatus(t *testing.T, svc *drone.Service, id, want string) {
	t.Helper()
	d, err := svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, d.Status)
}

func Test_Service_rejectFlow(t *testing.T) {
	svc, _, _, notifier, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)

	m, err := svc.Reject(ctx, fx.clinic, m.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, mission.StatusRejected, m.Status)
	assert.True(t, m.Closed())
	require.Len(t, m.Audit, 2)
	assert.Equal(t, "out of stock", m.Audit[1].Note)
	assert.True(t, notifier.sentTo(fx.patient.ID, mission.StatusRejected))

	// a closed mission accepts nothing, not even failure
	_, err = svc.Accept(ctx, fx.clinic, m.ID)
	assert.Equal(t, mission.ErrMissionClosed, err)
	_, err = svc.MarkFailed(ctx, fx.admin, m.ID, "too late")
	assert.Equal(t, mission.ErrMissionClosed, err)
}

func Test_Service_transitionErrors(t *testing.T) {
	svc, _, _, _, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)

	tests := []struct {
		name    string
		do      func() error
		wantErr error
	}{
		{
			name:    "patient cannot accept",
			do:      func() error { _, err := svc.Accept(ctx, fx.patient, m.ID); return err },
			wantErr: mission.ErrUnauthorized,
		},
		{
			name:    "admin cannot accept",
			do:      func() error { _, err := svc.Accept(ctx, fx.admin, m.ID); return err },
			wantErr: mission.ErrUnauthorized,
		},
		{
			name:    "unverified clinic cannot accept",
			do:      func() error { _, err := svc.Accept(ctx, fx.rookie, m.ID); return err },
			wantErr: mission.ErrClinicNotEligible,
		},
		{
			name:    "cannot deliver a requested mission",
			do:      func() error { _, err := svc.MarkDelivered(ctx, fx.admin, m.ID); return err },
			wantErr: mission.ErrInvalidTransition,
		},
		{
			name:    "cannot assign a requested mission",
			do:      func() error { _, err := svc.AssignDrone(ctx, fx.admin, m.ID, fx.drone.ID); return err },
			wantErr: mission.ErrInvalidTransition,
		},
		{
			name:    "patient cannot fail",
			do:      func() error { _, err := svc.MarkFailed(ctx, fx.patient, m.ID, ""); return err },
			wantErr: mission.ErrUnauthorized,
		},
		{
			name:    "unknown mission",
			do:      func() error { _, err := svc.Accept(ctx, fx.clinic, "nope"); return err },
			wantErr: mission.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.do())
		})
	}

	// none of the failed attempts touched the audit log
	m, err := svc.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusRequested, m.Status)
	assert.Len(t, m.Audit, 1)
	assert.Equal(t, 1, m.Version)
}

func Test_Service_assignUnavailableDrone(t *testing.T) {
	svc, _, _, _, fx := setup(t)
	ctx := context.Background()

	m1 := request(t, svc, fx.patient)
	m2 := request(t, svc, fx.patient)

	_, err := svc.Accept(ctx, fx.clinic, m1.ID)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, fx.clinic, m2.ID)
	require.NoError(t, err)

	_, err = svc.AssignDrone(ctx, fx.admin, m1.ID, fx.drone.ID)
	require.NoError(t, err)

	// the drone is now flagged assigned and cannot serve a second mission
	_, err = svc.AssignDrone(ctx, fx.admin, m2.ID, fx.drone.ID)
	assert.Equal(t, drone.ErrNotAvailable, err)
}

func Test_Service_failReleasesDrone(t *testing.T) {
	svc, droneSvc, _, _, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)
	_, err := svc.Accept(ctx, fx.clinic, m.ID)
	require.NoError(t, err)
	_, err = svc.AssignDrone(ctx, fx.clinic, m.ID, fx.drone.ID)
	require.NoError(t, err)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAssigned)

	m, err = svc.MarkFailed(ctx, fx.admin, m.ID, "battery fault")
	require.NoError(t, err)
	assert.Equal(t, mission.StatusFailed, m.Status)
	assert.Equal(t, "battery fault", m.Audit[len(m.Audit)-1].Note)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAvailable)
}

// rendezvousFleet forces two concurrent assignments to race for the same
// drone claim.
type rendezvousFleet struct {
	*drone.Service
	barrier *sync.WaitGroup
}

func (f rendezvousFleet) Claim(ctx context.Context, id string) (drone.Drone, error) {
	f.barrier.Done()
	f.barrier.Wait()
	return f.Service.Claim(ctx, id)
}

func Test_Service_concurrentAssignSingleWinner(t *testing.T) {
	svc, droneSvc, repo, _, fx := setup(t)
	ctx := context.Background()

	m1 := request(t, svc, fx.patient)
	m2 := request(t, svc, fx.patient)
	_, err := svc.Accept(ctx, fx.clinic, m1.ID)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, fx.clinic2, m2.ID)
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	users := &fakeDirectory{users: map[string]user.User{
		fx.patient.ID: fx.patient,
		fx.clinic.ID:  fx.clinic,
		fx.clinic2.ID: fx.clinic2,
	}}
	raceSvc := mission.NewService(
		repo, users,
		rendezvousFleet{Service: droneSvc, barrier: &barrier},
		&recordingNotifier{}, nopLogger{},
	)

	type result struct {
		missionID string
		err       error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for _, id := range []string{m1.ID, m2.ID} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := raceSvc.AssignDrone(ctx, fx.admin, id, fx.drone.ID)
			results <- result{missionID: id, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var winners, losers int
	for res := range results {
		m, err := svc.GetByID(ctx, res.missionID)
		require.NoError(t, err)
		switch res.err {
		case nil:
			winners++
			assert.Equal(t, mission.StatusAssigned, m.Status)
			assert.Equal(t, fx.drone.ID, m.DroneID.String)
		case drone.ErrNotAvailable:
			losers++
			assert.Equal(t, mission.StatusAccepted, m.Status, "loser must keep its status")
			assert.False(t, m.DroneID.Valid)
		default:
			t.Fatalf("unexpected error: %v", res.err)
		}
	}
	assert.Equal(t, 1, winners, "the drone must serve exactly one mission")
	assert.Equal(t, 1, losers)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAssigned)
}

func Test_Service_assignReleasesDroneOnRefusedTransition(t *testing.T) {
	svc, droneSvc, _, _, fx := setup(t)
	ctx := context.Background()

	// still Requested, so the transition to Assigned is refused after
	// the drone was claimed
	m := request(t, svc, fx.patient)

	_, err := svc.AssignDrone(ctx, fx.admin, m.ID, fx.drone.ID)
	assert.Equal(t, mission.ErrInvalidTransition, err)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAvailable)

	// the released drone can serve the mission once it is accepted
	_, err = svc.Accept(ctx, fx.clinic, m.ID)
	require.NoError(t, err)
	_, err = svc.AssignDrone(ctx, fx.admin, m.ID, fx.drone.ID)
	require.NoError(t, err)
	assertDroneStatus(t, droneSvc, fx.drone.ID, drone.StatusAssigned)
}

// rendezvousRepo forces two concurrent transitions to read the same mission
// version before either write lands.
type rendezvousRepo struct {
	mission.Repository
	barrier *sync.WaitGroup
}

func (r rendezvousRepo) GetMission(ctx context.Context, id string) (mission.Mission, error) {
	m, err := r.Repository.GetMission(ctx, id)
	r.barrier.Done()
	r.barrier.Wait()
	return m, err
}

func Test_Service_concurrentAcceptSingleWinner(t *testing.T) {
	svc, _, repo, _, fx := setup(t)
	ctx := context.Background()

	m := request(t, svc, fx.patient)

	var barrier sync.WaitGroup
	barrier.Add(2)
	users := &fakeDirectory{users: map[string]user.User{
		fx.patient.ID: fx.patient,
		fx.clinic.ID:  fx.clinic,
		fx.clinic2.ID: fx.clinic2,
	}}
	droneSvc := drone.NewService(inmem.NewDroneRepository())
	raceSvc := mission.NewService(
		rendezvousRepo{Repository: repo, barrier: &barrier},
		users, droneSvc, &recordingNotifier{}, nopLogger{},
	)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, clinic := range []user.User{fx.clinic, fx.clinic2} {
		clinic := clinic
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := raceSvc.Accept(ctx, clinic, m.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch err {
		case nil:
			wins++
		case mission.ErrConcurrentModification:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one transition must win")
	assert.Equal(t, 1, conflicts, "the loser must observe the conflict")

	// the loser left no trace
	m, err := svc.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAccepted, m.Status)
	assert.Equal(t, 2, m.Version)
	assert.Len(t, m.Audit, 2)
}

// deadTransport rejects every send, as if the mail host were down.
type deadTransport struct {
	mu    sync.Mutex
	calls int
}

func (tr *deadTransport) Send(*core.EmailMessage) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls++
	return core.ErrTransportUnreachable
}

func (tr *deadTransport) callCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls
}

func Test_Service_dispatchFailureDoesNotRevert(t *testing.T) {
	ctx := context.Background()

	conf := &core.Config{
		Env:             "TEST",
		TestMode:        true,
		AppName:         "SierraWings",
		FrontendBaseURL: "http://localhost:3000",
		WorkDir:         "../..",
		Notification: core.NotificationConfig{
			MaxRetries:   2,
			RetryBackoff: time.Millisecond,
		},
	}
	core.ParseEmailTemplates(nopLogger{}, conf)

	fx := fixtures{
		patient: user.User{ID: "pat-1", Name: "Aminata", Role: user.RolePatient, IsActive: true, EmailVerified: true, Email: "aminata@test.sl"},
		clinic:  user.User{ID: "cli-1", Name: "Connaught", Role: user.RoleClinic, IsActive: true, ClinicVerified: true, Email: "connaught@test.sl"},
	}
	users := &fakeDirectory{users: map[string]user.User{
		fx.patient.ID: fx.patient,
		fx.clinic.ID:  fx.clinic,
	}}
	transport := &deadTransport{}
	events := inmem.NewEventRepository()
	dispatcher := notification.NewDispatcher(transport, events, nopLogger{}, conf)
	repo := inmem.NewMissionRepository()
	droneSvc := drone.NewService(inmem.NewDroneRepository())
	svc := mission.NewService(repo, users, droneSvc, dispatcher, nopLogger{})

	m := request(t, svc, fx.patient)

	m, err := svc.Accept(ctx, fx.clinic, m.ID)
	require.NoError(t, err, "delivery failure must not surface to the transition")

	// the transition stayed committed
	m, err = svc.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, mission.StatusAccepted, m.Status)
	assert.Equal(t, 2, m.Version)
	assert.Len(t, m.Audit, 2)

	// every attempt was made and recorded failed, and the breaker stayed
	// open: an unreachable host is not a credential problem
	assert.Greater(t, transport.callCount(), 0, "the transport must have been exercised")
	recorded, err := events.QueryEventsByMission(ctx, m.ID)
	require.NoError(t, err)
	require.NotEmpty(t, recorded)
	for _, evt := range recorded {
		assert.Equal(t, notification.OutcomeFailed, evt.Outcome)
	}
	assert.False(t, dispatcher.Disabled())
}
