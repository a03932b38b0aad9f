package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/services"
)

// chatInput builds the default owner's chat message.
func chatInput(text string) services.ChatInput {
	return services.ChatInput{OwnerID: ownerID, Text: text}
}

// spawn pushes one chat message through intake and returns the mission it
// created.
func spawn(t *testing.T, a *app, objective string) string {
	t.Helper()
	_, env, err := a.chat.HandleMessage(context.Background(), services.ChatInput{
		OwnerID: ownerID,
		Text:    objective,
	})
	require.NoError(t, err)
	require.Equal(t, "accepted", env.Status)
	require.Len(t, env.MissionsSpawned, 1)
	return env.MissionsSpawned[0]
}

// approve releases a proposed mission into the scheduler queue.
func approve(t *testing.T, a *app, missionID string) {
	t.Helper()
	_, err := a.missions.Approve(context.Background(), missionID, operatorID)
	require.NoError(t, err)
}

// waitMission blocks until the mission projection reaches the wanted status.
func waitMission(t *testing.T, a *app, missionID string, want models.MissionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		m, err := a.store.GetMission(context.Background(), missionID)
		return err == nil && m.Status == want
	}, waitTimeout, waitTick, "mission %s never reached %s", missionID, want)
}

// mission fetches the current mission projection.
func mission(t *testing.T, a *app, missionID string) *models.Mission {
	t.Helper()
	m, err := a.store.GetMission(context.Background(), missionID)
	require.NoError(t, err)
	return m
}

// tasksOf fetches the mission's task projections in scheduling order.
func tasksOf(t *testing.T, a *app, missionID string) []*models.Task {
	t.Helper()
	tasks, err := a.store.ListTasks(context.Background(), missionID)
	require.NoError(t, err)
	return tasks
}

// eventsOf replays the full persisted log of a mission.
func eventsOf(t *testing.T, a *app, missionID string) []*models.Event {
	t.Helper()
	events, err := a.store.ListEvents(context.Background(), missionID, 0, 1000)
	require.NoError(t, err)
	return events
}
