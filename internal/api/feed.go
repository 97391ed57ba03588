// Package api 观察者接口
//
// 本文件提供 Run 日志流的 WebSocket 实时推送：客户端按 run_id 订阅，
// 服务端把事件总线上的日志条目原样转发。历史时间线走持久层查询，
// 这里只推增量。
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"autopilot/internal/shared/eventbus"
	"autopilot/internal/shared/storage"
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

// FeedMessage WebSocket 消息
type FeedMessage struct {
	Type      string      `json:"type"` // history, entry, error
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// FeedHandler Run 日志流 WebSocket 处理器
type FeedHandler struct {
	store storage.LogEntryStore
	feed  eventbus.LogFeed
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewFeedHandler 创建日志流处理器
func NewFeedHandler(store storage.LogEntryStore, feed eventbus.LogFeed) *FeedHandler {
	return &FeedHandler{
		store: store,
		feed:  feed,
		conns: make(map[*websocket.Conn]bool),
	}
}

// HandleWebSocket 处理 WebSocket 连接
//
// 路由: GET /ws/runs?run_id=<id>
func (h *FeedHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[RunFeedWS] Upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("[RunFeedWS] Client connected for run %s, total: %d", runID, total)

	ctx, cancel := context.WithCancel(r.Context())

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, runID)
}

// readPump 消费客户端消息维持连接，断开时取消订阅
func (h *FeedHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.conns, conn)
		remaining := len(h.conns)
		h.mu.Unlock()
		conn.Close()
		log.Printf("[RunFeedWS] Client disconnected, remaining: %d", remaining)
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 先推历史时间线，再转发订阅到的增量条目
//
// 订阅必须先于历史查询建立：反过来的顺序会漏掉两步之间落库的条目。
// 订阅建立后到历史发出前收到的增量可能与历史重叠，按条目 ID 去重。
func (h *FeedHandler) writePump(ctx context.Context, conn *websocket.Conn, runID string) {
	entries, err := h.feed.SubscribeEntries(ctx, runID)
	if err != nil {
		h.send(conn, FeedMessage{Type: "error", Data: "failed to subscribe", Timestamp: time.Now()})
		return
	}

	history, err := h.store.ListLogEntriesByRun(ctx, runID)
	if err != nil {
		h.send(conn, FeedMessage{Type: "error", Data: "failed to load history", Timestamp: time.Now()})
		return
	}
	sent := make(map[string]bool, len(history))
	for _, e := range history {
		sent[e.ID] = true
	}
	h.send(conn, FeedMessage{Type: "history", Data: history, Timestamp: time.Now()})

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry.ID != "" && sent[entry.ID] {
				continue
			}
			if !h.send(conn, FeedMessage{Type: "entry", Data: entry, Timestamp: time.Now()}) {
				return
			}
		}
	}
}

func (h *FeedHandler) send(conn *websocket.Conn, msg FeedMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	return true
}
