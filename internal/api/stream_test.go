package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savi/m/internal/events"
)

func (e *testEnv) streamURL() string {
	return "ws" + strings.TrimPrefix(e.srvURL, "http") + "/api/v1/events/ws"
}

// nextEvent keeps emitting until the stream delivers one, since the server subscribes only after the upgrade.
func nextEvent(t *testing.T, env *testEnv, conn *websocket.Conn) events.Event {
	t.Helper()
	got := make(chan events.Event, 1)
	go func() {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err == nil {
			got <- ev
		}
	}()

	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, events.Emit(context.Background(), env.bus, events.AlertsGenerated, map[string]int{"created": 1}))
		select {
		case ev := <-got:
			return ev
		case <-deadline:
			t.Fatal("no event reached the websocket")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestEventStreamRejectsMissingToken(t *testing.T) {
	env := setup(t)

	_, resp, err := websocket.DefaultDialer.Dial(env.streamURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(env.streamURL()+"?access_token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventStreamAcceptsHeaderToken(t *testing.T) {
	env := setup(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.client.Token())
	conn, resp, err := websocket.DefaultDialer.Dial(env.streamURL(), header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	ev := nextEvent(t, env, conn)
	assert.Equal(t, events.AlertsGenerated, ev.Type)
	assert.NotEmpty(t, ev.ID)
}

func TestEventStreamAcceptsQueryToken(t *testing.T) {
	env := setup(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.streamURL()+"?access_token="+env.client.Token(), nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := nextEvent(t, env, conn)
	assert.Equal(t, events.AlertsGenerated, ev.Type)
	var payload struct{ Created int }
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, 1, payload.Created)
}
