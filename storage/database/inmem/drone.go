package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sierrawings/backend/core/drone"
)

type DroneRepository struct {
	mu     sync.Mutex
	drones map[string]drone.Drone
}

var _ drone.Repository = (*DroneRepository)(nil)

func NewDroneRepository() *DroneRepository {
	return &DroneRepository{drones: make(map[string]drone.Drone)}
}

func (repo *DroneRepository) CreateDrone(ctx context.Context, d drone.Drone) (drone.Drone, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	for _, existing := range repo.drones {
		if existing.SerialNumber == d.SerialNumber {
			return drone.Drone{}, drone.ErrSerialExists
		}
	}
	d.ID = uuid.New().String()
	repo.drones[d.ID] = d
	return d, nil
}

func (repo *DroneRepository) GetDrone(ctx context.Context, id string) (drone.Drone, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	d, ok := repo.drones[id]
	if !ok {
		return drone.Drone{}, drone.ErrNotFound
	}
	return d, nil
}

func (repo *DroneRepository) QueryDrones(ctx context.Context, status string) ([]drone.Drone, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	drones := make([]drone.Drone, 0, len(repo.drones))
	for _, d := range repo.drones {
		if status != "" && d.Status != status {
			continue
		}
		drones = append(drones, d)
	}
	sort.Slice(drones, func(i, j int) bool { return drones[i].Name < drones[j].Name })
	return drones, nil
}

func (repo *DroneRepository) ClaimDrone(ctx context.Context, id string) (drone.Drone, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	d, ok := repo.drones[id]
	if !ok {
		return drone.Drone{}, drone.ErrNotFound
	}
	if d.Status != drone.StatusAvailable {
		return drone.Drone{}, drone.ErrNotAvailable
	}
	d.Status = drone.StatusAssigned
	d.UpdatedAt = time.Now().UTC()
	repo.drones[id] = d
	return d, nil
}

func (repo *DroneRepository) UpdateDrone(ctx context.Context, d drone.Drone) (drone.Drone, error) {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.drones[d.ID]; !ok {
		return drone.Drone{}, drone.ErrNotFound
	}
	repo.drones[d.ID] = d
	return d, nil
}
