package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/dmitrijs2005/readkeeper/internal/client/models"
	"github.com/dmitrijs2005/readkeeper/internal/client/store"
	"github.com/dmitrijs2005/readkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(logging.Discard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
}

func readMessage(t *testing.T, ctx context.Context, c *websocket.Conn) Message {
	t.Helper()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var m Message
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHub_DeliversStoreEvents(t *testing.T) {
	h, url := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	assert.Equal(t, TypeHello, readMessage(t, ctx, c).Type)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	h.Observe(store.Event{
		Type:       store.EventProgressUpdated,
		BookmarkID: "b1",
		Progress:   &models.ReadProgress{BookmarkID: "b1", ScrollPercent: 42, LastReadAt: at, PendingPush: true},
		At:         at,
	})

	m := readMessage(t, ctx, c)
	assert.Equal(t, "progress_updated", m.Type)
	assert.Equal(t, "b1", m.BookmarkID)
	assert.True(t, at.Equal(m.Timestamp))
	data, ok := m.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 42.0, data["scroll_percent"])
	assert.Equal(t, true, data["pending_push"])

	h.SyncState("pulling", "")
	m = readMessage(t, ctx, c)
	assert.Equal(t, TypeSyncState, m.Type)
	assert.Equal(t, "pulling", m.Data.(map[string]any)["state"])
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	h, url := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	readMessage(t, ctx, c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastNeverBlocks(t *testing.T) {
	h := NewHub(logging.Discard(), nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Broadcast(Message{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}

func TestHub_Health(t *testing.T) {
	h := NewHub(logging.Discard(), nil)
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clients":0`)
}

func TestHub_ObserveWiredToStore(t *testing.T) {
	h := NewHub(logging.Discard(), nil)
	h.Observe(store.Event{Type: store.EventBookmarkDeleted, BookmarkID: "b9", At: time.Now()})

	select {
	case m := <-h.broadcast:
		assert.Equal(t, "bookmark_deleted", m.Type)
		assert.Nil(t, m.Data)
	default:
		t.Fatal("event not queued")
	}
}
