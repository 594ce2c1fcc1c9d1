package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSClientReconnectKeepsReplacementConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("waits through the reconnect backoff")
	}

	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		if conns.Add(1) == 1 {
			// Drop the first connection to force a reconnect.
			conn.Close()
			return
		}
		// Hold later connections open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client := NewWSClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	// One reconnect cycle is reconnectDelay. Wait long enough that a
	// third connection would have shown up if the replacement were being
	// torn down by the departing read loop.
	time.Sleep(3 * reconnectDelay)
	assert.Equal(t, int32(2), conns.Load())
}
