package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core/drone"
)

type droneRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Model        string    `db:"model"`
	SerialNumber string    `db:"serial_number"`
	Status       string    `db:"status"`
	BatteryLevel int       `db:"battery_level"`
	MaxPayloadKg float64   `db:"max_payload_kg"`
	LastSeen     null.Time `db:"last_seen"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type droneRepository struct {
	db *sqlx.DB
}

var _ drone.Repository = (*droneRepository)(nil)

func NewDroneRepository(db *sql.DB) *droneRepository {
	return &droneRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo droneRepository) row(d drone.Drone) droneRow {
	return droneRow{
		ID:           d.ID,
		Name:         d.Name,
		Model:        d.Model,
		SerialNumber: d.SerialNumber,
		Status:       d.Status,
		BatteryLevel: d.BatteryLevel,
		MaxPayloadKg: d.MaxPayloadKg,
		LastSeen:     d.LastSeen,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (repo droneRepository) unrow(r droneRow) drone.Drone {
	return drone.Drone{
		ID:           r.ID,
		Name:         r.Name,
		Model:        r.Model,
		SerialNumber: r.SerialNumber,
		Status:       r.Status,
		BatteryLevel: r.BatteryLevel,
		MaxPayloadKg: r.MaxPayloadKg,
		LastSeen:     r.LastSeen,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const insertDroneQuery = `
INSERT INTO drone (id, name, model, serial_number, status, battery_level, max_payload_kg, last_seen, created_at, updated_at)
VALUES (:id, :name, :model, :serial_number, :status, :battery_level, :max_payload_kg, :last_seen, :created_at, :updated_at)`

func (repo droneRepository) CreateDrone(ctx context.Context, d drone.Drone) (drone.Drone, error) {
	d.ID = uuid.New().String()
	if _, err := repo.db.NamedExecContext(ctx, insertDroneQuery, repo.row(d)); err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return drone.Drone{}, drone.ErrSerialExists
		}
		return drone.Drone{}, errors.Wrap(err, "inserting drone")
	}
	return d, nil
}

func (repo droneRepository) GetDrone(ctx context.Context, id string) (drone.Drone, error) {
	if _, err := uuid.Parse(id); err != nil {
		return drone.Drone{}, drone.ErrNotFound
	}

	var row droneRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM drone WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return drone.Drone{}, drone.ErrNotFound
		}
		return drone.Drone{}, errors.Wrap(err, "finding drone")
	}
	return repo.unrow(row), nil
}

func (repo droneRepository) QueryDrones(ctx context.Context, status string) ([]drone.Drone, error) {
	q := `SELECT * FROM drone`
	args := make([]interface{}, 0, 1)
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY name`

	var rows []droneRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying drones")
	}

	drones := make([]drone.Drone, 0, len(rows))
	for _, r := range rows {
		drones = append(drones, repo.unrow(r))
	}
	return drones, nil
}

// The status guard in the WHERE clause makes the claim atomic: of two
// concurrent claims of the same drone only one update lands.
const claimDroneQuery = `
UPDATE drone SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
RETURNING *`

func (repo droneRepository) ClaimDrone(ctx context.Context, id string) (drone.Drone, error) {
	if _, err := uuid.Parse(id); err != nil {
		return drone.Drone{}, drone.ErrNotFound
	}

	var row droneRow
	err := repo.db.GetContext(ctx, &row, claimDroneQuery,
		id, drone.StatusAssigned, time.Now().UTC(), drone.StatusAvailable)
	if err == nil {
		return repo.unrow(row), nil
	}
	if err != sql.ErrNoRows {
		return drone.Drone{}, errors.Wrap(err, "claiming drone")
	}

	// zero rows: either the drone is gone or someone else holds it
	if _, err = repo.GetDrone(ctx, id); err != nil {
		return drone.Drone{}, err
	}
	return drone.Drone{}, drone.ErrNotAvailable
}

const updateDroneQuery = `
UPDATE drone SET
	name = :name, model = :model, serial_number = :serial_number, status = :status,
	battery_level = :battery_level, max_payload_kg = :max_payload_kg,
	last_seen = :last_seen, updated_at = :updated_at
WHERE id = :id`

func (repo droneRepository) UpdateDrone(ctx context.Context, d drone.Drone) (drone.Drone, error) {
	d.UpdatedAt = time.Now().UTC()
	res, err := repo.db.NamedExecContext(ctx, updateDroneQuery, repo.row(d))
	if err != nil {
		return drone.Drone{}, errors.Wrap(err, "updating drone")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return drone.Drone{}, drone.ErrNotFound
	}
	return d, nil
}
