package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/session"
)

func newChatFixture(t *testing.T) (*missionFixture, *ChatService, *session.Manager) {
	t.Helper()
	f := newMissionFixture(t)
	sessions := session.NewManager(time.Hour, nil)
	return f, NewChatService(f.svc, sessions, nil), sessions
}

func TestChatService_SpawnsMission(t *testing.T) {
	f, chat, sessions := newChatFixture(t)
	ctx := context.Background()

	sessionID, env, err := chat.HandleMessage(ctx, ChatInput{
		OwnerID: "owner-1",
		Text:    "research competitor pricing for our product",
	})
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, "accepted", env.Status)
	require.Len(t, env.MissionsSpawned, 1)
	assert.Equal(t, env.MissionsSpawned[0], env.LiveStreamID)

	mission, err := f.store.GetMission(ctx, env.MissionsSpawned[0])
	require.NoError(t, err)
	assert.Equal(t, "owner-1", mission.OwnerID)

	sess, ok := sessions.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, []string{mission.MissionID}, sess.Clone().MissionIDs)
}

func TestChatService_ReusesSession(t *testing.T) {
	_, chat, sessions := newChatFixture(t)
	ctx := context.Background()

	sessionID, _, err := chat.HandleMessage(ctx, ChatInput{
		OwnerID: "owner-1",
		Text:    "research competitor pricing",
	})
	require.NoError(t, err)

	again, _, err := chat.HandleMessage(ctx, ChatInput{
		SessionID: sessionID,
		OwnerID:   "owner-1",
		Text:      "research supplier landscape",
	})
	require.NoError(t, err)
	assert.Equal(t, sessionID, again)

	sess, ok := sessions.Get(sessionID)
	require.True(t, ok)
	assert.Len(t, sess.Clone().MissionIDs, 2)
}

func TestChatService_RejectionBecomesEnvelope(t *testing.T) {
	_, chat, _ := newChatFixture(t)
	ctx := context.Background()

	_, env, err := chat.HandleMessage(ctx, ChatInput{OwnerID: "owner-1", Text: ""})
	require.NoError(t, err)
	assert.Equal(t, "rejected", env.Status)
	assert.Empty(t, env.MissionsSpawned)
}

func TestChatService_DuplicateBecomesEnvelope(t *testing.T) {
	_, chat, _ := newChatFixture(t)
	ctx := context.Background()

	_, first, err := chat.HandleMessage(ctx, ChatInput{OwnerID: "owner-1", Text: "research market trends"})
	require.NoError(t, err)
	require.Equal(t, "accepted", first.Status)

	_, env, err := chat.HandleMessage(ctx, ChatInput{OwnerID: "owner-1", Text: "research market trends"})
	require.NoError(t, err)
	assert.Equal(t, "duplicate", env.Status)
}

func TestChatService_ClarificationStatus(t *testing.T) {
	_, chat, _ := newChatFixture(t)

	_, env, err := chat.HandleMessage(context.Background(), ChatInput{
		OwnerID: "owner-1",
		Text:    "frobnicate the widgets",
	})
	require.NoError(t, err)
	assert.Equal(t, "clarification_needed", env.Status)
	require.Len(t, env.MissionsSpawned, 1)
}
