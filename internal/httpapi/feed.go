package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/agentworkforce/gtaskfs/internal/docfs"
)

const (
	FeedChanged = "changed"
	FeedRefresh = "refresh"
)

type FeedMessage struct {
	Type    string `json:"type"`
	Address string `json:"address,omitempty"`
}

// Hub fans document notifications out to change-feed subscribers. A
// subscriber that falls behind by more than its buffer is disconnected.
type Hub struct {
	mu     sync.Mutex
	subs   map[*feedSubscriber]struct{}
	buffer int
}

type feedSubscriber struct {
	ch     chan FeedMessage
	closed bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: map[*feedSubscriber]struct{}{}, buffer: buffer}
}

// Refresh satisfies docfs.Refresher.
func (h *Hub) Refresh() {
	h.Publish(FeedMessage{Type: FeedRefresh})
}

// HandleChanges is a docfs.Listener.
func (h *Hub) HandleChanges(events []docfs.ChangeEvent) {
	for _, event := range events {
		h.Publish(FeedMessage{Type: event.Type.String(), Address: event.Address})
	}
}

func (h *Hub) Publish(msg FeedMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			h.dropLocked(sub)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() (*feedSubscriber, func()) {
	sub := &feedSubscriber{ch: make(chan FeedMessage, h.buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropLocked(sub)
	}
}

func (h *Hub) dropLocked(sub *feedSubscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.ch)
}

// serveFeed streams hub messages to one websocket client until either side
// goes away.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		s.logf("httpapi: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	sub, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.ch:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
