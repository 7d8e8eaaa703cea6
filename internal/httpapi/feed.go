package httpapi

import (
	"net/http"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/flightline/reconcile/internal/reconcile"
)

const feedSubscriberBuffer = 64

// FeedHub implements reconcile.Monitor and streams every observation to the
// connected websocket subscribers. Delivery is best effort: a subscriber
// that cannot keep up loses observations rather than stalling the hub.
type FeedHub struct {
	mu   sync.Mutex
	subs map[chan reconcile.Observation]struct{}
}

func NewFeedHub() *FeedHub {
	return &FeedHub{subs: map[chan reconcile.Observation]struct{}{}}
}

func (h *FeedHub) Record(obs reconcile.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- obs:
		default:
		}
	}
}

func (h *FeedHub) subscribe() chan reconcile.Observation {
	ch := make(chan reconcile.Observation, feedSubscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *FeedHub) unsubscribe(ch chan reconcile.Observation) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, correlationID string) {
	if s.cfg.Feed == nil {
		writeError(w, http.StatusNotFound, "not_found", "outcome feed not enabled", correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	ch := s.cfg.Feed.subscribe()
	defer s.cfg.Feed.unsubscribe(ch)

	// The feed is write-only; CloseRead drains incoming frames and cancels
	// the context when the client goes away, so an idle feed does not hold
	// dead subscribers.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case obs := <-ch:
			if err := wsjson.Write(ctx, conn, obs); err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
