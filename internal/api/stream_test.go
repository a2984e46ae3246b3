package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/funneldash/dashcore/internal/eventbus"
	"github.com/funneldash/dashcore/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/dashboard/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_StreamsSelectedTopics(t *testing.T) {
	dash := newFakeDashboard()
	hub := NewHub(dash, nil, quietLogger)
	defer hub.Close()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	conn := dialStream(t, server, "?topics=alerts,metrics")

	first := readMessage(t, conn)
	assert.Equal(t, stateMessageType, first.Type)
	assert.Equal(t, 1, hub.Clients())

	ctx := context.Background()
	dash.registry.Notify(ctx, eventbus.TopicEvent, models.Event{ID: "ev-1", Type: models.EventSessionStarted})
	dash.registry.Notify(ctx, eventbus.TopicAlerts, models.Alert{ID: "al-1", Severity: models.SeverityCritical, Message: "boom"})

	msg := readMessage(t, conn)
	assert.Equal(t, "alerts", msg.Type, "event topic was not selected")

	payload, err := json.Marshal(msg.Payload)
	require.NoError(t, err)
	var alert models.Alert
	require.NoError(t, json.Unmarshal(payload, &alert))
	assert.Equal(t, "al-1", alert.ID)
}

func TestHub_RejectsUnknownTopic(t *testing.T) {
	dash := newFakeDashboard()
	hub := NewHub(dash, nil, quietLogger)
	defer hub.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stream?topics=clicks", nil)
	w := httptest.NewRecorder()
	hub.ServeWs(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	dash := newFakeDashboard()
	hub := NewHub(dash, nil, quietLogger)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWs))
	defer server.Close()

	conn := dialStream(t, server, "")
	readMessage(t, conn)

	hub.Close()
	assert.Zero(t, hub.Clients())
	assert.Zero(t, dash.registry.Count(eventbus.TopicAlerts))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	hub.Close()
}

func TestHub_OriginCheck(t *testing.T) {
	check := originChecker([]string{"https://dash.example"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://dash.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}
