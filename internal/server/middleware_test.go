package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(0.01, 2)

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	assert.True(t, rl.Allow("10.0.0.2"), "each client has its own bucket")
}

func TestRateLimiterExpiresIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.Allow("stale")
	rl.mu.Lock()
	rl.clients["stale"].lastSeen = time.Now().Add(-2 * idleLimiterTTL)
	rl.lastScan = time.Now().Add(-2 * idleLimiterTTL)
	rl.mu.Unlock()

	rl.Allow("fresh")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "stale")
	assert.Contains(t, rl.clients, "fresh")
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.5:5555", "192.168.1.5"},
		{"[::1]:80", "::1"},
		{"unix-socket", "unix-socket"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		assert.Equal(t, tt.want, clientKey(r))
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	c := &wsClient{id: "c1", send: make(chan []byte, 1)}
	h.add(c)
	require.Equal(t, 1, h.Clients())

	h.Broadcast(map[string]string{"type": "vibe_created"})

	select {
	case msg := <-c.send:
		assert.JSONEq(t, `{"type":"vibe_created"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast was not delivered")
	}

	h.remove("c1")
	assert.Zero(t, h.Clients())
	_, open := <-c.send
	assert.False(t, open, "removing a client closes its queue")
}

func TestHubDropsSlowClients(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	slow := &wsClient{id: "slow", send: make(chan []byte)}
	h.add(slow)

	h.Broadcast("ping")
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubBroadcastUnmarshalable(t *testing.T) {
	h := NewHub()
	defer h.Stop()

	h.Broadcast(make(chan int))
	assert.Len(t, h.broadcast, 0)
}
