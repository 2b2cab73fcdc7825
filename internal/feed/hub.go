// Package feed streams published lessons to websocket subscribers.
package feed

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/metrics"
	"github.com/ashureev/codetutor/internal/scheduler"
)

const (
	defaultReplay = 5
	sendBuffer    = 16
	writeTimeout  = 10 * time.Second
	closeReason   = "feed closed"
)

// Event is the JSON frame sent for every published lesson.
type Event struct {
	Type        string        `json:"type"`
	Lesson      domain.Lesson `json:"lesson"`
	PublishedAt time.Time     `json:"published_at"`
}

type subscriber struct {
	id   int64
	send chan []byte
}

// Hub fans lessons out to connected clients. New clients first receive the
// most recent lessons, up to the replay limit.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]*subscriber
	nextID  int64
	history *list.List // recent frames, oldest first
	replay  int
	origins []string
	logger  *slog.Logger
}

// NewHub returns a hub that replays up to replay recent lessons to new
// clients. originPatterns are passed to websocket.Accept; nil allows only
// same-origin requests.
func NewHub(replay int, originPatterns []string, logger *slog.Logger) *Hub {
	if replay <= 0 {
		replay = defaultReplay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[int64]*subscriber),
		history: list.New(),
		replay:  replay,
		origins: originPatterns,
		logger:  logger,
	}
}

var _ scheduler.Mirror = (*Hub)(nil)

// Mirror broadcasts post to every subscriber. Slow subscribers whose buffers
// are full miss the frame.
func (h *Hub) Mirror(_ context.Context, post scheduler.Post) error {
	frame, err := json.Marshal(Event{Type: "lesson", Lesson: post.Lesson, PublishedAt: post.PublishedAt})
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.PushBack(frame)
	for h.history.Len() > h.replay {
		h.history.Remove(h.history.Front())
	}

	for _, sub := range h.subs {
		select {
		case sub.send <- frame:
		default:
			h.logger.Warn("Feed subscriber too slow, dropping lesson",
				"subscriber_id", sub.id,
				"lesson_index", post.Lesson.Index)
		}
	}
	return nil
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) register() *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &subscriber{id: h.nextID, send: make(chan []byte, sendBuffer+h.replay)}
	for e := h.history.Front(); e != nil; e = e.Next() {
		sub.send <- e.Value.([]byte)
	}
	h.subs[sub.id] = sub
	metrics.FeedClients.Set(float64(len(h.subs)))
	return sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub.id)
	metrics.FeedClients.Set(float64(len(h.subs)))
}

// ServeHTTP upgrades the request and streams lesson frames until the client
// disconnects or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Error("Failed to accept feed websocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, closeReason); closeErr != nil {
			h.logger.Debug("Failed to close feed websocket", "error", closeErr)
		}
	}()

	sub := h.register()
	defer h.unregister(sub)
	h.logger.Info("Feed subscriber connected", "subscriber_id", sub.id, "ip", r.RemoteAddr)

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case frame := <-sub.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.logger.Debug("Feed write failed", "subscriber_id", sub.id, "error", err)
				return
			}
		case <-ctx.Done():
			h.logger.Info("Feed subscriber disconnected", "subscriber_id", sub.id)
			return
		}
	}
}
