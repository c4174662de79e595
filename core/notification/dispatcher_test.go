package notification

import (
	"context"
	"net/mail"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/mission"
	"github.com/sierrawings/backend/core/user"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// scriptedTransport fails `failures` times, then succeeds.
type scriptedTransport struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (tr *scriptedTransport) Send(*core.EmailMessage) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls++
	if tr.calls <= tr.failures {
		return tr.err
	}
	return nil
}

func (tr *scriptedTransport) callCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.calls
}

type memEventRepo struct {
	mu     sync.Mutex
	events []Event
}

func (r *memEventRepo) SaveEvent(_ context.Context, evt Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return evt, nil
}

func (r *memEventRepo) QueryEventsByMission(_ context.Context, missionID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []Event
	for _, evt := range r.events {
		if evt.MissionID.String == missionID {
			events = append(events, evt)
		}
	}
	return events, nil
}

func (r *memEventRepo) last(t *testing.T) Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

func testConf() *core.Config {
	return &core.Config{
		Env:             "TEST",
		TestMode:        true,
		AppName:         "SierraWings",
		FrontendBaseURL: "http://localhost:3000",
		Notification: core.NotificationConfig{
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
		},
	}
}

func newTestDispatcher(transport core.EmailTransport) (*Dispatcher, *memEventRepo, *[]time.Duration) {
	events := &memEventRepo{}
	d := NewDispatcher(transport, events, nopLogger{}, testConf())
	slept := new([]time.Duration)
	d.sleep = func(delay time.Duration) { *slept = append(*slept, delay) }
	return d, events, slept
}

func textMsg(to string) *core.EmailMessage {
	return &core.EmailMessage{
		To:      []mail.Address{{Address: to}},
		Subject: "test",
		BodyStr: "hello",
	}
}

func Test_Dispatcher_sendsFirstTry(t *testing.T) {
	transport := &scriptedTransport{}
	d, events, slept := newTestDispatcher(transport)

	outcome := d.Dispatch(context.Background(), Event{Recipient: "a@b.sl", Kind: KindWelcome}, textMsg("a@b.sl"))

	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, 1, transport.callCount())
	assert.Empty(t, *slept)

	evt := events.last(t)
	assert.Equal(t, OutcomeSent, evt.Outcome)
	assert.Equal(t, 0, evt.Retries)
}

func Test_Dispatcher_retriesWithLinearBackoff(t *testing.T) {
	transport := &scriptedTransport{failures: 2, err: core.ErrTransportUnreachable}
	d, events, slept := newTestDispatcher(transport)

	outcome := d.Dispatch(context.Background(), Event{Recipient: "a@b.sl", Kind: KindWelcome}, textMsg("a@b.sl"))

	assert.Equal(t, OutcomeSent, outcome)
	assert.Equal(t, 3, transport.callCount())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)

	evt := events.last(t)
	assert.Equal(t, OutcomeSent, evt.Outcome)
	assert.Equal(t, 2, evt.Retries)
}

func Test_Dispatcher_exhaustsRetryBudget(t *testing.T) {
	transport := &scriptedTransport{failures: 100, err: core.ErrTransportUnreachable}
	d, events, _ := newTestDispatcher(transport)

	outcome := d.Dispatch(context.Background(), Event{Recipient: "a@b.sl", Kind: KindWelcome}, textMsg("a@b.sl"))

	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 3, transport.callCount(), "attempts must stop at the budget")

	evt := events.last(t)
	assert.Equal(t, OutcomeFailed, evt.Outcome)
}

func Test_Dispatcher_authFailureTripsBreaker(t *testing.T) {
	transport := &scriptedTransport{failures: 100, err: core.ErrTransportAuth}
	d, events, slept := newTestDispatcher(transport)

	outcome := d.Dispatch(context.Background(), Event{Recipient: "a@b.sl", Kind: KindOTP}, textMsg("a@b.sl"))

	// credential rejections are not retried
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, transport.callCount())
	assert.Empty(t, *slept)
	assert.True(t, d.Disabled())
	assert.Equal(t, OutcomeFailed, events.last(t).Outcome)

	// while tripped, dispatches are dropped without touching the transport
	outcome = d.Dispatch(context.Background(), Event{Recipient: "c@d.sl", Kind: KindOTP}, textMsg("c@d.sl"))
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 1, transport.callCount())

	// operator fixed the credentials
	d.Reset()
	transport.mu.Lock()
	transport.failures = 0
	transport.mu.Unlock()

	outcome = d.Dispatch(context.Background(), Event{Recipient: "c@d.sl", Kind: KindOTP}, textMsg("c@d.sl"))
	assert.Equal(t, OutcomeSent, outcome)
	assert.False(t, d.Disabled())
}

func Test_Dispatcher_recordsEventPerDispatch(t *testing.T) {
	transport := &scriptedTransport{}
	d, events, _ := newTestDispatcher(transport)

	evt := Event{
		MissionID: null.StringFrom("m-1"),
		Recipient: "a@b.sl",
		Kind:      KindStatusChange,
		Payload:   map[string]string{"status": "accepted"},
	}
	d.Dispatch(context.Background(), evt, textMsg("a@b.sl"))

	recorded, err := events.QueryEventsByMission(context.Background(), "m-1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, KindStatusChange, recorded[0].Kind)
	assert.Equal(t, "accepted", recorded[0].Payload["status"])
	assert.False(t, recorded[0].UpdatedAt.IsZero())
}

func Test_Dispatcher_missionStatusFanout(t *testing.T) {
	transport := &scriptedTransport{}
	d, events, _ := newTestDispatcher(transport)

	patient := user.User{ID: "pat-1", Name: "Aminata", Email: "aminata@test.sl", Role: user.RolePatient}
	m := mission.Mission{
		ID:              "m-7",
		PatientID:       patient.ID,
		Status:          mission.StatusDelivered,
		MedicalItems:    "insulin",
		DeliveryAddress: "12 Kissy Rd, Freetown",
	}
	rec := mission.TransitionRecord{MissionID: m.ID, Status: mission.StatusDelivered}

	d.MissionStatus(context.Background(), m, rec, patient)

	// delivery completion sends the status email plus a feedback prompt
	recorded, err := events.QueryEventsByMission(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, KindStatusChange, recorded[0].Kind)
	assert.Equal(t, KindFeedback, recorded[1].Kind)
}

func Test_Dispatcher_sendMessagesAsync(t *testing.T) {
	transport := &scriptedTransport{}
	d, events, _ := newTestDispatcher(transport)

	d.SendMessages(textMsg("a@b.sl"), textMsg("c@d.sl"), textMsg("e@f.sl"))
	d.Flush()

	assert.Equal(t, 3, transport.callCount())
	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Len(t, events.events, 3)
}

func Test_kindForTemplate(t *testing.T) {
	assert.Equal(t, KindOTP, kindForTemplate("otp"))
	assert.Equal(t, KindStatusChange, kindForTemplate("mission_status"))
	assert.Equal(t, Kind("adhoc"), kindForTemplate(""))
	assert.Equal(t, Kind("adhoc"), kindForTemplate("unknown"))
}
