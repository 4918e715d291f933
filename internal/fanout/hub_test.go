package fanout

import (
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

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Subscribe(conn)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeRegistersSink(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	server := newTestServer(t, hub)

	dial(t, server)

	require.Eventually(t, func() bool { return hub.SinkCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPublishConnectedReachesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	server := newTestServer(t, hub)

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.SinkCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.PublishConnected("d1", true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"d1","data":true,"messageType":"connected"}`, string(payload))
}

func TestPublishPropertyStatusReachesAllSubscribers(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	server := newTestServer(t, hub)

	conns := []*websocket.Conn{dial(t, server), dial(t, server)}
	require.Eventually(t, func() bool { return hub.SinkCount() == 2 }, time.Second, 10*time.Millisecond)

	value := []byte("42")
	hub.PublishPropertyStatus("d1", "level", value)

	var wg sync.WaitGroup
	wg.Add(len(conns))
	for _, c := range conns {
		c := c
		go func() {
			defer wg.Done()
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, payload, err := c.ReadMessage()
			require.NoError(t, err)
			assert.JSONEq(t, `{"id":"d1","data":{"level":42},"messageType":"propertyStatus"}`, string(payload))
		}()
	}
	wg.Wait()
}

func TestDisconnectedSinkIsEvicted(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	server := newTestServer(t, hub)

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.SinkCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	// A broadcast after the peer closed should discover the dead sink and
	// evict it the next time writePump's write fails.
	require.Eventually(t, func() bool {
		hub.PublishConnected("d1", false)
		return hub.SinkCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}
