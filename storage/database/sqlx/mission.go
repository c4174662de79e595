package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sierrawings/backend/core"
	"github.com/sierrawings/backend/core/mission"
)

type missionRow struct {
	ID              string       `db:"id"`
	PatientID       string       `db:"patient_id"`
	ClinicID        null.String  `db:"clinic_id"`
	DroneID         null.String  `db:"drone_id"`
	Status          string       `db:"status"`
	Version         int          `db:"version"`
	Priority        string       `db:"priority"`
	MedicalItems    string       `db:"medical_items"`
	ContactPhone    string       `db:"contact_phone"`
	Notes           string       `db:"notes"`
	DeliveryAddress string       `db:"delivery_address"`
	DeliveryLat     null.Float64 `db:"delivery_lat"`
	DeliveryLon     null.Float64 `db:"delivery_lon"`
	RequestedAt     time.Time    `db:"requested_at"`
	AcceptedAt      null.Time    `db:"accepted_at"`
	AssignedAt      null.Time    `db:"assigned_at"`
	LaunchedAt      null.Time    `db:"launched_at"`
	CompletedAt     null.Time    `db:"completed_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

type transitionRow struct {
	ID        string    `db:"id"`
	MissionID string    `db:"mission_id"`
	Status    string    `db:"status"`
	ActorID   string    `db:"actor_id"`
	ActorRole string    `db:"actor_role"`
	Note      string    `db:"note"`
	CreatedAt time.Time `db:"created_at"`
}

type missionRepository struct {
	db *sqlx.DB
}

var _ mission.Repository = (*missionRepository)(nil)

func NewMissionRepository(db *sql.DB) *missionRepository {
	return &missionRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo missionRepository) row(m mission.Mission) missionRow {
	return missionRow{
		ID:              m.ID,
		PatientID:       m.PatientID,
		ClinicID:        m.ClinicID,
		DroneID:         m.DroneID,
		Status:          m.Status.String(),
		Version:         m.Version,
		Priority:        m.Priority,
		MedicalItems:    m.MedicalItems,
		ContactPhone:    m.ContactPhone,
		Notes:           m.Notes,
		DeliveryAddress: m.DeliveryAddress,
		DeliveryLat:     m.DeliveryLat,
		DeliveryLon:     m.DeliveryLon,
		RequestedAt:     m.RequestedAt.UTC(),
		AcceptedAt:      m.AcceptedAt,
		AssignedAt:      m.AssignedAt,
		LaunchedAt:      m.LaunchedAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}
}

func (repo missionRepository) unrow(r missionRow) mission.Mission {
	return mission.Mission{
		ID:              r.ID,
		PatientID:       r.PatientID,
		ClinicID:        r.ClinicID,
		DroneID:         r.DroneID,
		Status:          mission.Status(r.Status),
		Version:         r.Version,
		Priority:        r.Priority,
		MedicalItems:    r.MedicalItems,
		ContactPhone:    r.ContactPhone,
		Notes:           r.Notes,
		DeliveryAddress: r.DeliveryAddress,
		DeliveryLat:     r.DeliveryLat,
		DeliveryLon:     r.DeliveryLon,
		RequestedAt:     r.RequestedAt,
		AcceptedAt:      r.AcceptedAt,
		AssignedAt:      r.AssignedAt,
		LaunchedAt:      r.LaunchedAt,
		CompletedAt:     r.CompletedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (repo missionRepository) unrowTransition(r transitionRow) mission.TransitionRecord {
	return mission.TransitionRecord{
		ID:        r.ID,
		MissionID: r.MissionID,
		Status:    mission.Status(r.Status),
		ActorID:   r.ActorID,
		ActorRole: r.ActorRole,
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
	}
}

const insertMissionQuery = `
INSERT INTO mission (
	id, patient_id, clinic_id, drone_id, status, version, priority, medical_items,
	contact_phone, notes, delivery_address, delivery_lat, delivery_lon,
	requested_at, accepted_at, assigned_at, launched_at, completed_at, created_at, updated_at
) VALUES (
	:id, :patient_id, :clinic_id, :drone_id, :status, :version, :priority, :medical_items,
	:contact_phone, :notes, :delivery_address, :delivery_lat, :delivery_lon,
	:requested_at, :accepted_at, :assigned_at, :launched_at, :completed_at, :created_at, :updated_at
)`

const insertTransitionQuery = `
INSERT INTO mission_transition (id, mission_id, status, actor_id, actor_role, note, created_at)
VALUES (:id, :mission_id, :status, :actor_id, :actor_role, :note, :created_at)`

// CreateMission inserts the mission and its creation audit record as one unit.
func (repo missionRepository) CreateMission(ctx context.Context, m mission.Mission) (mission.Mission, error) {
	m.ID = uuid.New().String()

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return mission.Mission{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.NamedExecContext(ctx, insertMissionQuery, repo.row(m)); err != nil {
		return mission.Mission{}, errors.Wrap(err, "inserting mission")
	}

	rec := transitionRow{
		ID:        uuid.New().String(),
		MissionID: m.ID,
		Status:    m.Status.String(),
		ActorID:   m.PatientID,
		ActorRole: "patient",
		CreatedAt: m.CreatedAt.UTC(),
	}
	if _, err = tx.NamedExecContext(ctx, insertTransitionQuery, rec); err != nil {
		return mission.Mission{}, errors.Wrap(err, "inserting creation record")
	}

	if err = tx.Commit(); err != nil {
		return mission.Mission{}, errors.Wrap(err, "committing tx")
	}
	return repo.GetMission(ctx, m.ID)
}

func (repo missionRepository) GetMission(ctx context.Context, id string) (mission.Mission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return mission.Mission{}, mission.ErrNotFound
	}

	var row missionRow
	err := repo.db.GetContext(ctx, &row, `SELECT * FROM mission WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return mission.Mission{}, mission.ErrNotFound
		}
		return mission.Mission{}, errors.Wrap(err, "finding mission")
	}
	m := repo.unrow(row)

	var recs []transitionRow
	err = repo.db.SelectContext(ctx, &recs,
		`SELECT * FROM mission_transition WHERE mission_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return mission.Mission{}, errors.Wrap(err, "loading audit log")
	}
	m.Audit = make([]mission.TransitionRecord, 0, len(recs))
	for _, r := range recs {
		m.Audit = append(m.Audit, repo.unrowTransition(r))
	}
	return m, nil
}

func (repo missionRepository) QueryMissions(ctx context.Context, filter mission.QueryFilter) ([]mission.Mission, error) {
	q := `SELECT * FROM mission WHERE 1=1`
	args := make([]interface{}, 0, 3)

	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		q += ` AND patient_id = $` + strconv.Itoa(len(args))
	}
	if filter.ClinicID != "" {
		args = append(args, filter.ClinicID)
		q += ` AND clinic_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status.String())
		q += ` AND status = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY ` + core.DBOrdering{Field: "created_at"}.String() // newest first

	var rows []missionRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying missions")
	}

	missions := make([]mission.Mission, 0, len(rows))
	for _, r := range rows {
		missions = append(missions, repo.unrow(r))
	}
	return missions, nil
}

const appendTransitionQuery = `
UPDATE mission SET
	clinic_id = :clinic_id, drone_id = :drone_id, status = :status, version = version + 1,
	accepted_at = :accepted_at, assigned_at = :assigned_at, launched_at = :launched_at,
	completed_at = :completed_at, updated_at = :updated_at
WHERE id = :id AND version = :version`

// AppendTransition persists the new status and the audit record atomically,
// guarded by the optimistic version check. The loser of a concurrent race
// matches zero rows and gets mission.ErrConcurrentModification.
func (repo missionRepository) AppendTransition(ctx context.Context, m mission.Mission, rec mission.TransitionRecord) (mission.Mission, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return mission.Mission{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, appendTransitionQuery, repo.row(m))
	if err != nil {
		return mission.Mission{}, errors.Wrap(err, "updating mission")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mission.Mission{}, errors.Wrap(err, "checking rows affected")
	}
	if n == 0 {
		// stale version or vanished row; disambiguate for the caller
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT true FROM mission WHERE id = $1`, m.ID); err != nil {
			if err == sql.ErrNoRows {
				return mission.Mission{}, mission.ErrNotFound
			}
			return mission.Mission{}, errors.Wrap(err, "checking mission existence")
		}
		return mission.Mission{}, mission.ErrConcurrentModification
	}

	row := transitionRow{
		ID:        uuid.New().String(),
		MissionID: m.ID,
		Status:    rec.Status.String(),
		ActorID:   rec.ActorID,
		ActorRole: rec.ActorRole,
		Note:      rec.Note,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if _, err = tx.NamedExecContext(ctx, insertTransitionQuery, row); err != nil {
		return mission.Mission{}, errors.Wrap(err, "inserting transition record")
	}

	if err = tx.Commit(); err != nil {
		return mission.Mission{}, errors.Wrap(err, "committing tx")
	}
	return repo.GetMission(ctx, m.ID)
}

