package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/notification"
)

type eventRow struct {
	ID        string      `db:"id"`
	MissionID null.String `db:"mission_id"`
	Recipient string      `db:"recipient"`
	Kind      string      `db:"kind"`
	Payload   null.JSON   `db:"payload"`
	Outcome   string      `db:"outcome"`
	Retries   int         `db:"retries"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

type eventRepository struct {
	db *sqlx.DB
}

var _ notification.EventRepository = (*eventRepository)(nil)

func NewEventRepository(db *sql.DB) *eventRepository {
	return &eventRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo eventRepository) row(evt notification.Event) (eventRow, error) {
	r := eventRow{
		ID:        evt.ID,
		MissionID: evt.MissionID,
		Recipient: evt.Recipient,
		Kind:      string(evt.Kind),
		Outcome:   string(evt.Outcome),
		Retries:   evt.Retries,
		CreatedAt: evt.CreatedAt.UTC(),
		UpdatedAt: evt.UpdatedAt.UTC(),
	}
	if len(evt.Payload) > 0 {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			return eventRow{}, errors.Wrap(err, "encoding event payload")
		}
		r.Payload = null.JSONFrom(raw)
	}
	return r, nil
}

func (repo eventRepository) unrow(r eventRow) (notification.Event, error) {
	evt := notification.Event{
		ID:        r.ID,
		MissionID: r.MissionID,
		Recipient: r.Recipient,
		Kind:      notification.Kind(r.Kind),
		Outcome:   notification.Outcome(r.Outcome),
		Retries:   r.Retries,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Payload.Valid {
		if err := json.Unmarshal(r.Payload.JSON, &evt.Payload); err != nil {
			return notification.Event{}, errors.Wrap(err, "decoding event payload")
		}
	}
	return evt, nil
}

const insertEventQuery = `
INSERT INTO notification_event (id, mission_id, recipient, kind, payload, outcome, retries, created_at, updated_at)
VALUES (:id, :mission_id, :recipient, :kind, :payload, :outcome, :retries, :created_at, :updated_at)`

func (repo eventRepository) SaveEvent(ctx context.Context, evt notification.Event) (notification.Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	row, err := repo.row(evt)
	if err != nil {
		return notification.Event{}, err
	}
	if _, err = repo.db.NamedExecContext(ctx, insertEventQuery, row); err != nil {
		return notification.Event{}, errors.Wrap(err, "inserting notification event")
	}
	return evt, nil
}

func (repo eventRepository) QueryEventsByMission(ctx context.Context, missionID string) ([]notification.Event, error) {
	if _, err := uuid.Parse(missionID); err != nil {
		return nil, nil
	}

	var rows []eventRow
	ord := core.DBOrdering{Field: "created_at", Ascending: true}
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM notification_event WHERE mission_id = $1 ORDER BY `+ord.String(), missionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying notification events")
	}

	events := make([]notification.Event, 0, len(rows))
	for _, r := range rows {
		evt, err := repo.unrow(r)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}
