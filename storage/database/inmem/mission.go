// Package inmem provides mutex-guarded map repositories with the same
// contracts as the SQL-backed ones. They back tests and local development
// without a database.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sierrawings/backend/core/mission"
)

type MissionRepository struct {
	mu       sync.Mutex
	missions map[string]mission.Mission
	audits   map[string][]mission.TransitionRecord
}

var _ mission.Repository = (*MissionRepository)(nil)

func NewMissionRepository() *MissionRepository {
	return &MissionRepository{
		missions: make(map[string]mission.Mission),
		audits:   make(map[string][]mission.TransitionRecord),
	}
}

func (repo *MissionRepository) CreateMission(ctx context.Context, m mission.Mission) (mission.Mission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	m.ID = uuid.New().String()
	rec := mission.TransitionRecord{
		ID:        uuid.New().String(),
		MissionID: m.ID,
		Status:    m.Status,
		ActorID:   m.PatientID,
		ActorRole: "patient",
		CreatedAt: m.CreatedAt,
	}
	repo.missions[m.ID] = m
	repo.audits[m.ID] = []mission.TransitionRecord{rec}
	return repo.load(m.ID), nil
}

func (repo *MissionRepository) GetMission(ctx context.Context, id string) (mission.Mission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.missions[id]; !ok {
		return mission.Mission{}, mission.ErrNotFound
	}
	return repo.load(id), nil
}

func (repo *MissionRepository) QueryMissions(ctx context.Context, filter mission.QueryFilter) ([]mission.Mission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	missions := make([]mission.Mission, 0, len(repo.missions))
	for id, m := range repo.missions {
		if filter.PatientID != "" && m.PatientID != filter.PatientID {
			continue
		}
		if filter.ClinicID != "" && m.ClinicID.String != filter.ClinicID {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		missions = append(missions, repo.load(id))
	}
	sort.Slice(missions, func(i, j int) bool { return missions[i].CreatedAt.After(missions[j].CreatedAt) })
	return missions, nil
}

// AppendTransition applies the optimistic version check under the lock:
// a stale m.Version loses the race and gets ErrConcurrentModification,
// leaving the stored mission and its audit log untouched.
func (repo *MissionRepository) AppendTransition(ctx context.Context, m mission.Mission, rec mission.TransitionRecord) (mission.Mission, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	stored, ok := repo.missions[m.ID]
	if !ok {
		return mission.Mission{}, mission.ErrNotFound
	}
	if stored.Version != m.Version {
		return mission.Mission{}, mission.ErrConcurrentModification
	}

	m.Version++
	m.Audit = nil
	rec.ID = uuid.New().String()
	rec.MissionID = m.ID
	repo.missions[m.ID] = m
	repo.audits[m.ID] = append(repo.audits[m.ID], rec)
	return repo.load(m.ID), nil
}

// load returns a copy with its audit log attached. Callers hold the lock.
func (repo *MissionRepository) load(id string) mission.Mission {
	m := repo.missions[id]
	m.Audit = append([]mission.TransitionRecord(nil), repo.audits[id]...)
	return m
}
