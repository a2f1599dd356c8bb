package eventbus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmptyURLIsNoOp(t *testing.T) {
	b := New(Config{})
	b.Publish(TaskCompleted("t1", "b1", 100))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	b.Run(ctx)
	b.Close()

	assert.False(t, b.Connected())
}

func TestBus_PublishesEventsOverWebSocket(t *testing.T) {
	received := make(chan Event, 4)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var evt Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			received <- evt
		}
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.ReconnectInitialDelay = time.Millisecond
	cfg.PingInterval = time.Hour

	b := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !b.Connected() {
		select {
		case <-deadline:
			t.Fatal("bus never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Publish(TaskCompleted("t1", "b1", 250))

	select {
	case evt := <-received:
		assert.Equal(t, EventTaskCompleted, evt.Type)
		assert.Equal(t, "t1", evt.Data["task_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}

	cancel()
	b.Close()
	<-done
}
