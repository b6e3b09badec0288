package editor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenBenjamin97/pose-tracker/pkg/pose"
	"github.com/chenBenjamin97/pose-tracker/pkg/tracker"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(hclog.NewNullLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("session"))
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func attach(t *testing.T, hub *Hub, url, session string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?session="+session, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Editors(session) == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	msg := Message{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubFansOutPerSession(t *testing.T) {
	hub, url := startHub(t)
	a1 := attach(t, hub, url, "a", 1)
	a2 := attach(t, hub, url, "a", 2)
	b := attach(t, hub, url, "b", 1)

	positions := pose.ConvertedPosition{{10, -20, 30}}
	require.NoError(t, hub.SetPoseFromLandmarks(context.Background(), "a", positions))

	for _, conn := range []*websocket.Conn{a1, a2} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessagePose, msg.Type)
		assert.Equal(t, "a", msg.Session)
		assert.Nil(t, msg.Timestamp, "still images carry no timestamp")
		assert.Equal(t, positions, msg.Positions)
	}

	require.NoError(t, hub.PublishFrame(context.Background(), "b", tracker.Frame{Timestamp: 40 * time.Millisecond, Positions: positions}))
	msg := readMessage(t, b)
	require.NotNil(t, msg.Timestamp)
	assert.InDelta(t, 0.04, *msg.Timestamp, 1e-9)

	require.NoError(t, hub.Complete("b"))
	assert.Equal(t, MessageComplete, readMessage(t, b).Type)
}

func TestHubCancelledContext(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.SetPoseFromLandmarks(ctx, "a", nil), context.Canceled)
	assert.ErrorIs(t, hub.PublishFrame(ctx, "a", tracker.Frame{}), context.Canceled)
	assert.NoError(t, hub.Complete("nobody"), "a session without editors is fine")
}

func TestHubSlowEditorStillCompletes(t *testing.T) {
	hub := NewHub(nil)
	//an editor whose write loop is stuck, so nothing drains its queue
	slow := &client{send: make(chan []byte, sendBuffer)}
	hub.register("a", slow)

	for i := 0; i <= sendBuffer; i++ {
		require.NoError(t, hub.PublishFrame(context.Background(), "a", tracker.Frame{Timestamp: time.Duration(i) * time.Second}))
	}
	require.NoError(t, hub.Complete("a"))

	require.Len(t, slow.send, sendBuffer)
	slow.close()

	var got []Message
	for data := range slow.send {
		msg := Message{}
		require.NoError(t, json.Unmarshal(data, &msg))
		got = append(got, msg)
	}

	require.Len(t, got, sendBuffer)
	assert.Equal(t, MessageComplete, got[len(got)-1].Type)
	require.NotNil(t, got[0].Timestamp)
	assert.Equal(t, 1.0, *got[0].Timestamp, "the oldest pose made room")
	require.NotNil(t, got[len(got)-2].Timestamp)
	assert.Equal(t, float64(sendBuffer-1), *got[len(got)-2].Timestamp, "poses past the full queue are dropped")
}

func TestHubClose(t *testing.T) {
	hub, url := startHub(t)
	conn := attach(t, hub, url, "a", 1)

	hub.Close("a")
	assert.Equal(t, 0, hub.Editors("a"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestHubEditorDisconnects(t *testing.T) {
	hub, url := startHub(t)
	conn := attach(t, hub, url, "a", 1)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Editors("a") == 0 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, hub.SetPoseFromLandmarks(context.Background(), "a", nil))
}
