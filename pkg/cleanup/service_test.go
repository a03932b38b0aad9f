package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/store"
)

func finishedMission(t *testing.T, s *store.MemoryStore, status models.MissionStatus) string {
	t.Helper()
	ctx := context.Background()
	evt, err := s.CreateMission(ctx, &models.Mission{
		ObjectiveText: "research something " + string(status),
		OwnerID:       "owner-1",
		Domain:        models.DomainResearch,
	})
	require.NoError(t, err)
	if !status.IsTerminal() {
		return evt.MissionID
	}
	_, err = s.AppendEvent(ctx, evt.MissionID, models.EventMissionStop, models.MissionStopPayload{Status: status})
	require.NoError(t, err)
	return evt.MissionID
}

func TestService_SweepPrunesTerminalMissions(t *testing.T) {
	s := store.NewMemoryStore(0)
	done := finishedMission(t, s, models.MissionStatusCompleted)
	failed := finishedMission(t, s, models.MissionStatusFailed)
	live := finishedMission(t, s, models.MissionStatusProposed)

	svc := NewService(config.RetentionConfig{
		Enabled:       true,
		MissionTTL:    time.Millisecond,
		SweepInterval: time.Hour,
	}, s, nil)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, svc.Sweep(context.Background()))

	_, err := s.GetMission(context.Background(), done)
	assert.ErrorIs(t, err, store.ErrMissionNotFound)
	_, err = s.GetMission(context.Background(), failed)
	assert.ErrorIs(t, err, store.ErrMissionNotFound)
	_, err = s.GetMission(context.Background(), live)
	assert.NoError(t, err)
}

func TestService_DisabledSweeperDoesNotStart(t *testing.T) {
	s := store.NewMemoryStore(0)
	svc := NewService(config.RetentionConfig{Enabled: false}, s, nil)
	svc.Start(context.Background())
	svc.Stop() // no goroutine to wait on
}

func TestService_StartStop(t *testing.T) {
	s := store.NewMemoryStore(0)
	svc := NewService(config.RetentionConfig{
		Enabled:       true,
		MissionTTL:    time.Hour,
		SweepInterval: 10 * time.Millisecond,
	}, s, nil)
	svc.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	svc.Stop()
}
