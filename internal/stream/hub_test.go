package stream

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/kef-hub-go/internal/kef"
)

func newTestHub(t *testing.T, snapshots SnapshotFunc) (*Hub, string) {
	t.Helper()
	hub := NewHub(snapshots, log.New(&bytes.Buffer{}, "", 0))
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Len() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_BroadcastsChanges(t *testing.T) {
	hub, url := newTestHub(t, nil)
	conn := dial(t, hub, url, 1)

	volume := 25
	status := kef.DefaultStatus()
	status.Volume = volume
	hub.SpeakerChanged("10.0.0.7", kef.SpeakerChange{Volume: &volume}, status)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeChanged, msg.Type)
	assert.Equal(t, "10.0.0.7", msg.IP)
	assert.Equal(t, []string{"volume"}, msg.Fields)
	require.NotNil(t, msg.Change)
	require.NotNil(t, msg.Change.Volume)
	assert.Equal(t, 25, *msg.Change.Volume)
	assert.Equal(t, 25, msg.Status.Volume)
}

func TestHub_SendsSnapshotsOnConnect(t *testing.T) {
	standby := kef.DefaultStatus()
	hub, url := newTestHub(t, func() map[string]kef.SpeakerStatus {
		return map[string]kef.SpeakerStatus{"10.0.0.7": standby, "10.0.0.8": standby}
	})

	conn := dial(t, hub, url+"?ip=10.0.0.8", 1)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeSnapshot, msg.Type)
	assert.Equal(t, "10.0.0.8", msg.IP)
	assert.Nil(t, msg.Change)
}

func TestHub_FiltersByIP(t *testing.T) {
	hub, url := newTestHub(t, nil)
	conn := dial(t, hub, url+"?ip=10.0.0.8", 1)

	muted := true
	hub.SpeakerChanged("10.0.0.7", kef.SpeakerChange{Muted: &muted}, kef.DefaultStatus())
	hub.SpeakerChanged("10.0.0.8", kef.SpeakerChange{Muted: &muted}, kef.DefaultStatus())

	msg := readMessage(t, conn)
	assert.Equal(t, "10.0.0.8", msg.IP)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub, url := newTestHub(t, nil)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, url := newTestHub(t, nil)
	conn := dial(t, hub, url, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
