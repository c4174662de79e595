// Package maintenance broadcasts platform maintenance alerts to all active
// users through the notification dispatcher.
package maintenance

import (
	"context"
	"net/mail"
	"time"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/user"
)

// Alert kinds.
const (
	AlertScheduled = "scheduled"
	AlertEmergency = "emergency"
	AlertCompleted = "completed"
)

type (
	Alert struct {
		Kind    string
		Title   string
		Message string
		StartAt time.Time
		EndAt   time.Time
	}

	// UserDirectory lists broadcast recipients. Implemented by user.Service.
	UserDirectory interface {
		Query(ctx context.Context, filter user.QueryFilter) ([]user.User, error)
	}

	Service struct {
		users   UserDirectory
		mailSvc core.EmailService
	}
)

func NewService(users UserDirectory, mailSvc core.EmailService) *Service {
	return &Service{users: users, mailSvc: mailSvc}
}

// Broadcast emails the alert to every active user. Delivery is best effort;
// failures are handled by the dispatcher's retry policy.
func (svc *Service) Broadcast(ctx context.Context, alert Alert) (int, error) {
	active := true
	users, err := svc.users.Query(ctx, user.QueryFilter{IsActive: &active})
	if err != nil {
		return 0, err
	}

	msgs := make([]*core.EmailMessage, 0, len(users))
	for _, u := range users {
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: u.Name, Address: u.Email}},
			Subject:      "Maintenance Alert - " + alert.Title,
			TemplateName: "maintenance",
			TemplateData: struct {
				Name  string
				Alert Alert
			}{u.Name, alert},
		})
	}
	svc.mailSvc.SendMessages(msgs...)
	return len(msgs), nil
}
