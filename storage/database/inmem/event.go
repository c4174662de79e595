package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sierrawings/backend/core/notification"
)

type EventRepository struct {
	mu     sync.Mutex
	events []notification.Event
}

var _ notification.EventRepository = (*EventRepository)(nil)

func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

func (repo *EventRepository) SaveEvent(ctx context.Context, evt notification.Event) (notification.Event, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	repo.events = append(repo.events, evt)
	return evt, nil
}

func (repo *EventRepository) QueryEventsByMission(ctx context.Context, missionID string) ([]notification.Event, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	events := make([]notification.Event, 0)
	for _, evt := range repo.events {
		if evt.MissionID.String == missionID {
			events = append(events, evt)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	return events, nil
}

// Events returns a snapshot of everything recorded, for assertions.
func (repo *EventRepository) Events() []notification.Event {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return append([]notification.Event(nil), repo.events...)
}
