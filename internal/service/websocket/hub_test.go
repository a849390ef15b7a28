package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stereomeasure/internal/dto"
	"stereomeasure/internal/logger"
)

func TestHubBroadcastsEvents(t *testing.T) {
	l, err := logger.New(t.TempDir())
	require.NoError(t, err)
	defer l.Close()

	hub := NewHubService(l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastEvent(dto.JobEvent{JobID: "job-1", State: "waiting", Countdown: 3})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)

	var event dto.JobEvent
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, "waiting", event.State)
	assert.Equal(t, 3, event.Countdown)
}
