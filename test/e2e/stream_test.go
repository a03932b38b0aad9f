package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/api"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// httpApp exposes the engine over a real listener so the stream tests can
// dial actual websockets.
type httpApp struct {
	*app
	base string
}

func startHTTPApp(t *testing.T) *httpApp {
	t.Helper()
	a := startApp(t)
	srv := httptest.NewServer(a.server.Handler())
	t.Cleanup(srv.Close)
	return &httpApp{app: a, base: srv.URL}
}

func (h *httpApp) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, h.base+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-User", operatorID)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *httpApp) dial(t *testing.T, missionID string, afterSeq int64) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.base, "http") + "/ws/stream/" + missionID
	if afterSeq > 0 {
		wsURL += "?after=" + strconv.FormatInt(afterSeq, 10)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) events.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg events.ServerMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestE2E_StreamReplaysAndFollowsMission(t *testing.T) {
	h := startHTTPApp(t)

	resp := h.post(t, "/api/v1/chat", api.ChatRequest{Text: "research competitor pricing for our product"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var chat api.ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&chat))
	require.Len(t, chat.Response.MissionsSpawned, 1)
	missionID := chat.Response.MissionsSpawned[0]

	conn := h.dial(t, missionID, 0)
	first := readMessage(t, conn)
	assert.Equal(t, events.MessageTypeEstablished, first.Type)
	assert.Equal(t, missionID, first.MissionID)

	// Intake already wrote events; the catchup must replay them from seq 1.
	catchup := readMessage(t, conn)
	require.Equal(t, events.MessageTypeEvent, catchup.Type)
	require.NotNil(t, catchup.Event)
	assert.Equal(t, int64(1), catchup.Event.SequenceNumber)
	assert.Equal(t, models.EventMissionStart, catchup.Event.EventKind)

	approveResp := h.post(t, "/api/v1/missions/"+missionID+"/approve", nil)
	require.Equal(t, http.StatusOK, approveResp.StatusCode)

	// Follow the live stream to the end of the mission. Sequence numbers
	// must stay gapless across the catchup/live boundary.
	lastSeq := catchup.Event.SequenceNumber
	deadline := time.Now().Add(waitTimeout)
	for {
		require.True(t, time.Now().Before(deadline), "mission stop never arrived")
		msg := readMessage(t, conn)
		if msg.Type != events.MessageTypeEvent {
			continue
		}
		require.Equal(t, lastSeq+1, msg.Event.SequenceNumber)
		lastSeq = msg.Event.SequenceNumber
		if msg.Event.EventKind == models.EventMissionStop {
			break
		}
	}
	waitMission(t, h.app, missionID, models.MissionStatusCompleted)
}

func TestE2E_StreamResumesAfterSequence(t *testing.T) {
	h := startHTTPApp(t)

	missionID := spawn(t, h.app, "research competitor pricing for our product")
	approve(t, h.app, missionID)
	waitMission(t, h.app, missionID, models.MissionStatusCompleted)

	log := eventsOf(t, h.app, missionID)
	require.Greater(t, len(log), 3)
	resumeFrom := log[2].SequenceNumber

	conn := h.dial(t, missionID, resumeFrom)
	require.Equal(t, events.MessageTypeEstablished, readMessage(t, conn).Type)

	// Only events after the client's last seen sequence are replayed.
	msg := readMessage(t, conn)
	require.Equal(t, events.MessageTypeEvent, msg.Type)
	assert.Equal(t, resumeFrom+1, msg.Event.SequenceNumber)
}

func TestE2E_StreamAnswersPing(t *testing.T) {
	h := startHTTPApp(t)
	missionID := spawn(t, h.app, "research competitor pricing for our product")

	conn := h.dial(t, missionID, 0)
	require.Equal(t, events.MessageTypeEstablished, readMessage(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))

	for {
		msg := readMessage(t, conn)
		if msg.Type == events.MessageTypePong {
			return
		}
	}
}
