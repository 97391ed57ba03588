package api

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

	"autopilot/internal/shared/eventbus"
	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
)

func newFeedFixture(t *testing.T) (*storage.MemoryStore, *eventbus.InProcessFeed, *httptest.Server) {
	t.Helper()
	store := storage.NewMemoryStore()
	feed := eventbus.NewInProcessFeed()
	h := NewFeedHandler(store, feed)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return store, feed, srv
}

func dialFeed(t *testing.T, srv *httptest.Server, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?run_id=" + runID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFeedMessage(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type, msg.Data
}

func feedEntry(id, runID, message string) *model.LogEntry {
	return &model.LogEntry{
		ID:        id,
		RunID:     runID,
		Level:     model.LogLevelInfo,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// 连接后先收到完整历史，再收到订阅建立之后发布的增量
func TestFeedDeliversHistoryThenLive(t *testing.T) {
	ctx := context.Background()
	store, feed, srv := newFeedFixture(t)
	require.NoError(t, store.AppendLogEntries(ctx, []*model.LogEntry{
		feedEntry("e-1", "run-1", "Opening the sheet."),
	}))

	conn := dialFeed(t, srv, "run-1")

	typ, data := readFeedMessage(t, conn)
	require.Equal(t, "history", typ)
	var history []*model.LogEntry
	require.NoError(t, json.Unmarshal(data, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "e-1", history[0].ID)

	// 历史消息发出时订阅已建立，此处发布的条目必达
	require.NoError(t, feed.PublishEntry(ctx, feedEntry("e-2", "run-1", "Writing results.")))

	typ, data = readFeedMessage(t, conn)
	require.Equal(t, "entry", typ)
	var live model.LogEntry
	require.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, "e-2", live.ID)
	assert.Equal(t, "Writing results.", live.Message)
}

// 与历史重叠的增量按 ID 去重，只转发未见过的条目
func TestFeedDeduplicatesReplayedEntry(t *testing.T) {
	ctx := context.Background()
	store, feed, srv := newFeedFixture(t)
	require.NoError(t, store.AppendLogEntries(ctx, []*model.LogEntry{
		feedEntry("e-1", "run-1", "Opening the sheet."),
	}))

	conn := dialFeed(t, srv, "run-1")
	typ, _ := readFeedMessage(t, conn)
	require.Equal(t, "history", typ)

	// e-1 已在历史中，重放应被跳过；紧随其后的 e-2 正常到达
	require.NoError(t, feed.PublishEntry(ctx, feedEntry("e-1", "run-1", "Opening the sheet.")))
	require.NoError(t, feed.PublishEntry(ctx, feedEntry("e-2", "run-1", "Writing results.")))

	typ, data := readFeedMessage(t, conn)
	require.Equal(t, "entry", typ)
	var live model.LogEntry
	require.NoError(t, json.Unmarshal(data, &live))
	assert.Equal(t, "e-2", live.ID)
}

func TestFeedRequiresRunID(t *testing.T) {
	_, _, srv := newFeedFixture(t)
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
