package social

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialBridgePeer upgrades one server-side connection and hands the client
// side to the test.
func dialBridgePeer(t *testing.T, events chan<- FeedEvent) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var evt FeedEvent
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestFeedBridge(t *testing.T) {
	t.Run("Pushes Snapshots", func(t *testing.T) {
		store := NewMemPostStore()
		seedPosts(t, store, "ann", 2)

		s := OpenFeed(store, PostFilter{}, nil)
		defer s.Close()
		waitReady(t, s)

		events := make(chan FeedEvent, 10)
		conn := dialBridgePeer(t, events)
		bridge := NewFeedBridge(s, conn)
		go bridge.Run()
		defer bridge.Stop()

		select {
		case evt := <-events:
			assert.Equal(t, "snapshot", evt.Type)
			assert.Equal(t, "ready", evt.State)
			assert.Len(t, evt.Posts, 2)
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for initial snapshot event")
		}

		// A new post reaches the peer through the session's update signal.
		_, err := CreatePost(context.Background(), store, "ann", AuthorSnapshot{}, "pushed", "")
		require.NoError(t, err)
		deadline := time.After(2 * time.Second)
		for {
			select {
			case evt := <-events:
				if len(evt.Posts) == 3 {
					assert.Equal(t, "pushed", evt.Posts[0].Text)
					return
				}
			case <-deadline:
				t.Fatal("Timeout waiting for post-change snapshot event")
			}
		}
	})

	t.Run("Concurrent Stop", func(t *testing.T) {
		store := NewMemPostStore()
		s := OpenFeed(store, PostFilter{}, nil)
		defer s.Close()
		waitReady(t, s)

		events := make(chan FeedEvent, 10)
		conn := dialBridgePeer(t, events)
		bridge := NewFeedBridge(s, conn)

		ran := make(chan struct{})
		go func() {
			bridge.Run()
			close(ran)
		}()

		// Racing stops must not panic, and Run must return.
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				bridge.Stop()
			}()
		}
		wg.Wait()

		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for bridge to stop")
		}
	})

	t.Run("Session Close Stops Bridge", func(t *testing.T) {
		store := NewMemPostStore()
		s := OpenFeed(store, PostFilter{}, nil)
		waitReady(t, s)

		events := make(chan FeedEvent, 10)
		conn := dialBridgePeer(t, events)
		bridge := NewFeedBridge(s, conn)

		ran := make(chan struct{})
		go func() {
			bridge.Run()
			close(ran)
		}()

		s.Close()
		select {
		case <-ran:
		case <-time.After(2 * time.Second):
			t.Fatal("Timeout waiting for bridge to observe session close")
		}
	})
}
