package social

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FeedEvent is one message pushed over a feed bridge.
type FeedEvent struct {
	Type    string `json:"type"` // "snapshot" | "error"
	State   string `json:"state"`
	Posts   []Post `json:"posts,omitempty"`
	HasMore bool   `json:"has_more"`
	Error   string `json:"error,omitempty"`
}

// FeedBridge forwards a session's visible sequence over a WebSocket
// connection: one full snapshot per visible-sequence change, coalesced
// through the session's update signal. The presentation layer owns the
// connection upgrade and close; the bridge only writes.
type FeedBridge struct {
	session  *FeedSession
	conn     *websocket.Conn
	done     chan struct{}
	stopOnce sync.Once
}

const bridgeWriteWait = 10 * time.Second

// NewFeedBridge ties a session to an open connection.
func NewFeedBridge(session *FeedSession, conn *websocket.Conn) *FeedBridge {
	return &FeedBridge{session: session, conn: conn, done: make(chan struct{})}
}

// Run pushes snapshots until Stop is called, the session closes, or a
// write fails. It blocks; run it on its own goroutine.
func (b *FeedBridge) Run() {
	// Initial snapshot so the client renders without waiting for a change.
	if !b.push() {
		return
	}
	for {
		select {
		case <-b.done:
			return
		case _, ok := <-b.session.Updates():
			if !ok {
				return
			}
			if !b.push() {
				return
			}
		}
	}
}

// Stop makes Run return. Safe to call from multiple goroutines.
func (b *FeedBridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

func (b *FeedBridge) push() bool {
	state := b.session.State()
	if state == StateClosed {
		return false
	}
	evt := FeedEvent{
		Type:    "snapshot",
		State:   state.String(),
		Posts:   b.session.Posts(),
		HasMore: b.session.HasMore(),
	}
	if err := b.session.Err(); err != nil {
		evt.Type = "error"
		evt.Error = err.Error()
	}

	_ = b.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	if err := b.conn.WriteJSON(evt); err != nil {
		log.Debug().Err(err).Msg("feed bridge write failed, stopping")
		return false
	}
	return true
}
