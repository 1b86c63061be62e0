package stream_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/stream"
)

func dial(t *testing.T, srv *httptest.Server, project string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?project=" + project
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *stream.Hub, project string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients(project) == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_PublishToProject(t *testing.T) {
	hub := stream.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	alpha := dial(t, srv, "alpha")
	beta := dial(t, srv, "beta")
	waitForClients(t, hub, "alpha", 1)
	waitForClients(t, hub, "beta", 1)

	hub.Publish(core.TrainingEvent{
		Type:      core.EventSlotUpdate,
		ProjectID: "alpha",
		Timestamp: time.Unix(0, 0).UTC(),
		Data:      core.SlotUpdate{ThreadID: "t1", SlotCount: 3},
	})

	require.NoError(t, alpha.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := alpha.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "slot_update", got["type"])
	assert.Equal(t, "alpha", got["projectId"])
	assert.Equal(t, "t1", got["data"].(map[string]any)["threadId"])

	require.NoError(t, beta.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = beta.ReadMessage()
	assert.Error(t, err, "beta must not receive alpha's events")
}

func TestHub_RequiresProject(t *testing.T) {
	hub := stream.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	hub := stream.NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "p")
	waitForClients(t, hub, "p", 1)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	waitForClients(t, hub, "p", 0)
}
