package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/distqueue/distqueue/internal/api"
	"github.com/distqueue/distqueue/internal/coordinator"
	"github.com/distqueue/distqueue/internal/event"
	"github.com/distqueue/distqueue/internal/taskdb"
	"github.com/distqueue/distqueue/internal/taskdb/memorydb"
)

func newTestServer(t *testing.T) (*httptest.Server, *api.Client) {
	t.Helper()
	c := coordinator.New(memorydb.New(), coordinator.DefaultConfig(), nil, nil)
	srv := api.NewServer(c, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, api.NewClient(ts.URL, 2*time.Second)
}

func TestClientServerRoundTrip(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.SubmitTask(ctx, "prime", []byte(`{"limit":1000}`))
	require.NoError(t, err)
	require.NotZero(t, id)

	res, err := client.Claim(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, id, res.Task.ID)

	lease, ok, err := client.SaveCheckpoint(ctx, "w1", id, []byte("partial"), 500)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, lease.After(time.Now()))

	ack, err := client.SubmitResult(ctx, "w1", id, taskdb.OutcomeSuccess, []byte("168"))
	require.NoError(t, err)
	require.True(t, ack)

	got, err := client.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, taskdb.StatusCompleted, got.Status)
}

func TestClientSubmitResultRejectedOnStaleLease(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	id, err := client.SubmitTask(ctx, "prime", nil)
	require.NoError(t, err)
	_, err = client.Claim(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	ack, err := client.SubmitResult(ctx, "w1", id, taskdb.OutcomeSuccess, nil)
	require.NoError(t, err)
	require.False(t, ack, "expired lease must REJECT, not ACK")
}

func TestEventsWebsocketStreamsTaskLifecycle(t *testing.T) {
	ts, client := newTestServer(t)
	ctx := context.Background()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	id, err := client.SubmitTask(ctx, "prime", nil)
	require.NoError(t, err)

	var ev event.TaskEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, event.KindSubmitted, ev.Kind)
	require.Equal(t, id, ev.TaskID)
}

func TestHeartbeatAndHealth(t *testing.T) {
	ts, client := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, client.Heartbeat(ctx, "w1"))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
