package notification

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/mission"
	"github.com/sierrawings/backend/core/user"
)

// Dispatcher sends transactional email through a scoped transport with a
// bounded retry budget and records every attempt as an Event. Delivery is
// at-least-once: an abandoned dispatch may be re-driven later and recipients
// may occasionally see duplicate status emails.
//
// A credential rejection (core.ErrTransportAuth) trips a breaker that
// disables the notification path - events are recorded failed and logged -
// until an operator fixes the configuration and calls Reset. The rest of
// the process keeps serving transitions.
type Dispatcher struct {
	transport core.EmailTransport
	events    EventRepository
	logger    core.Logger
	conf      *core.Config

	sleep      func(time.Duration) // mockable
	authFailed int32               // atomic breaker flag
	wg         sync.WaitGroup      // in-flight async sends
}

var _ core.EmailService = (*Dispatcher)(nil)
var _ mission.Notifier = (*Dispatcher)(nil)

func NewDispatcher(transport core.EmailTransport, events EventRepository, logger core.Logger, conf *core.Config) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		events:    events,
		logger:    logger,
		conf:      conf,
		sleep:     time.Sleep,
	}
}

// Disabled reports whether the notification path is tripped on an
// authentication failure.
func (d *Dispatcher) Disabled() bool {
	return atomic.LoadInt32(&d.authFailed) == 1
}

// Reset re-enables the notification path after an operator corrected the
// transport credentials.
func (d *Dispatcher) Reset() {
	atomic.StoreInt32(&d.authFailed, 0)
}

// Dispatch renders and transmits exactly one outbound message for evt,
// retrying transport errors up to the configured budget with linear backoff.
// Exhaustion is reported as OutcomeFailed and never as an error to the
// business operation that produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event, msg *core.EmailMessage) Outcome {
	evt.Outcome = OutcomeFailed
	now := time.Now().UTC()
	evt.CreatedAt = now
	evt.UpdatedAt = now

	if d.Disabled() {
		d.logger.Warn(fmt.Sprintf("notification path disabled (auth failure); dropping %s to %s", evt.Kind, evt.Recipient))
		d.record(ctx, evt)
		return OutcomeFailed
	}

	if err := msg.Render(d.conf); err != nil {
		d.logger.Error(fmt.Sprintf("rendering %s email: %v", evt.Kind, err), err)
		d.record(ctx, evt)
		return OutcomeFailed
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		d.record(ctx, evt)
		return OutcomeFailed
	}

	maxAttempts := d.conf.Notification.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.transport.Send(msg)
		if err == nil {
			evt.Outcome = OutcomeSent
			evt.Retries = attempt - 1
			d.record(ctx, evt)
			return OutcomeSent
		}
		lastErr = err

		if errors.Cause(err) == core.ErrTransportAuth {
			atomic.StoreInt32(&d.authFailed, 1)
			d.logger.Error("mail transport credentials rejected; notifications disabled until reset", err)
			break
		}
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		delay := d.conf.Notification.RetryBackoff * time.Duration(attempt)
		d.logger.Warn(fmt.Sprintf("sending %s email to %s failed (attempt %d/%d), retrying in %s: %v",
			evt.Kind, evt.Recipient, attempt, maxAttempts, delay, err))
		d.sleep(delay)
		evt.Retries = attempt
	}

	d.logger.Error(fmt.Sprintf("sending %s email to %s failed permanently: %v", evt.Kind, evt.Recipient, lastErr), lastErr)
	d.record(ctx, evt)
	return OutcomeFailed
}

// MissionStatus delivers a status-change email for a committed transition.
// Called by the mission service strictly after the transition is durable.
func (d *Dispatcher) MissionStatus(ctx context.Context, m mission.Mission, rec mission.TransitionRecord, to user.User) {
	evt := Event{
		MissionID: null.StringFrom(m.ID),
		Recipient: to.Email,
		Kind:      KindStatusChange,
		Payload: map[string]string{
			"status":  m.Status.String(),
			"address": m.DeliveryAddress,
			"items":   m.MedicalItems,
		},
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: to.Name, Address: to.Email}},
		Subject:      fmt.Sprintf("Delivery Update - Mission %s %s", shortID(m.ID), strings.ReplaceAll(m.Status.String(), "_", " ")),
		TemplateName: string(KindStatusChange),
		TemplateData: struct {
			Name    string
			Role    string
			Mission mission.Mission
			Record  mission.TransitionRecord
		}{to.Name, to.Role, m, rec},
	}
	d.Dispatch(ctx, evt, msg)

	// delivered missions prompt the patient for feedback
	if m.Status == mission.StatusDelivered && to.ID == m.PatientID {
		d.Dispatch(ctx, Event{
			MissionID: null.StringFrom(m.ID),
			Recipient: to.Email,
			Kind:      KindFeedback,
		}, &core.EmailMessage{
			To:           []mail.Address{{Name: to.Name, Address: to.Email}},
			Subject:      "How was your delivery?",
			TemplateName: string(KindFeedback),
			TemplateData: struct {
				Name    string
				Mission mission.Mission
			}{to.Name, m},
		})
	}
}

// SendMessages implements core.EmailService for non-mission mail (welcome,
// OTP, broadcasts). Messages go out concurrently, fire-and-forget.
func (d *Dispatcher) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			evt := Event{
				Recipient: joinRecipients(msg.To),
				Kind:      kindForTemplate(msg.TemplateName),
			}
			d.Dispatch(context.Background(), evt, msg)
		}()
	}
}

// Flush blocks until all asynchronous sends have completed. Used by
// short-lived callers (CLI, tests) before exiting.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

// EventsByMission returns the delivery audit trail for a mission's
// notifications, oldest first.
func (d *Dispatcher) EventsByMission(ctx context.Context, missionID string) ([]Event, error) {
	return d.events.QueryEventsByMission(ctx, missionID)
}

func (d *Dispatcher) record(ctx context.Context, evt Event) {
	evt.UpdatedAt = time.Now().UTC()
	if _, err := d.events.SaveEvent(ctx, evt); err != nil {
		d.logger.Error("recording notification event: "+err.Error(), err)
	}
}

func kindForTemplate(name string) Kind {
	switch name {
	case string(KindOTP), string(KindStatusChange), string(KindMaintenance), string(KindFeedback), string(KindWelcome):
		return Kind(name)
	}
	return Kind("adhoc")
}

func joinRecipients(addrs []mail.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Address)
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
