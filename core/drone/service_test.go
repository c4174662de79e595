package drone_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sierrawings/backend/core/drone"
	"github.com/sierrawings/backend/storage/database/inmem"
)

func setup() *drone.Service {
	return drone.NewService(inmem.NewDroneRepository())
}

func registerDrone(t *testing.T, svc *drone.Service, name, serial string) drone.Drone {
	t.Helper()
	d, err := svc.Register(context.Background(), drone.NewDrone{
		Name:         name,
		Model:        "Wingspan X4",
		SerialNumber: serial,
		MaxPayloadKg: 2.5,
	})
	require.NoError(t, err)
	return d
}

func Test_Service_Register(t *testing.T) {
	ctx := context.Background()
	svc := setup()

	d := registerDrone(t, svc, "SW-07", "SN-SW-07")
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, drone.StatusAvailable, d.Status)
	assert.Equal(t, 100, d.BatteryLevel)

	_, err := svc.Register(ctx, drone.NewDrone{Name: "SW-08", Model: "Wingspan X4", SerialNumber: "SN-SW-07"})
	assert.Equal(t, drone.ErrSerialExists, err)
}

func Test_Service_SetStatus(t *testing.T) {
	ctx := context.Background()
	svc := setup()
	d := registerDrone(t, svc, "SW-07", "SN-SW-07")

	d, err := svc.SetStatus(ctx, d.ID, drone.StatusMaintenance)
	require.NoError(t, err)
	assert.Equal(t, drone.StatusMaintenance, d.Status)
	assert.False(t, d.Available())

	_, err = svc.SetStatus(ctx, d.ID, "grounded")
	assert.Equal(t, drone.ErrInvalidStatus, err)

	_, err = svc.SetStatus(ctx, "unknown-id", drone.StatusOffline)
	assert.Equal(t, drone.ErrNotFound, err)
}

func Test_Service_Claim(t *testing.T) {
	ctx := context.Background()
	svc := setup()
	d := registerDrone(t, svc, "SW-07", "SN-SW-07")

	claimed, err := svc.Claim(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, drone.StatusAssigned, claimed.Status)

	// a claimed drone cannot be claimed again until released
	_, err = svc.Claim(ctx, d.ID)
	assert.Equal(t, drone.ErrNotAvailable, err)

	_, err = svc.SetStatus(ctx, d.ID, drone.StatusAvailable)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, d.ID)
	assert.NoError(t, err)

	_, err = svc.Claim(ctx, "unknown-id")
	assert.Equal(t, drone.ErrNotFound, err)
}

func Test_Service_Claim_concurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	svc := setup()
	d := registerDrone(t, svc, "SW-07", "SN-SW-07")

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Claim(ctx, d.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, refused int
	for err := range errs {
		switch err {
		case nil:
			wins++
		case drone.ErrNotAvailable:
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one claim must win")
	assert.Equal(t, 3, refused)
}

func Test_Service_Query(t *testing.T) {
	ctx := context.Background()
	svc := setup()
	available := registerDrone(t, svc, "SW-07", "SN-SW-07")
	grounded := registerDrone(t, svc, "SW-08", "SN-SW-08")
	_, err := svc.SetStatus(ctx, grounded.ID, drone.StatusMaintenance)
	require.NoError(t, err)

	all, err := svc.QueryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	free, err := svc.QueryAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, available.ID, free[0].ID)

	_, err = svc.Query(ctx, "grounded")
	assert.Equal(t, drone.ErrInvalidStatus, err)
}

func Test_Service_Heartbeat(t *testing.T) {
	ctx := context.Background()
	svc := setup()
	d := registerDrone(t, svc, "SW-07", "SN-SW-07")
	require.False(t, d.LastSeen.Valid)

	d, err := svc.Heartbeat(ctx, d.ID, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, d.BatteryLevel)
	assert.True(t, d.LastSeen.Valid)
}
