package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, origins ...string) (*Hub, string) {
	t.Helper()
	hub := NewHub(origins, zap.NewNop().Sugar(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func subscribed(hub *Hub, topic string) bool {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for c := range hub.clients {
		if c.isSubscribed(topic) {
			return true
		}
	}
	return false
}

func TestHubDeliversSubscribedTopics(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{
		Type:   "subscribe",
		Topics: []string{TopicPrice},
	}))
	require.Eventually(t, func() bool { return subscribed(hub, TopicPrice) }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish("price:BTC/USD", map[string]string{"price": "90000"}))
	require.NoError(t, hub.Publish(TopicPrice, map[string]string{"price": "3200.50"}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "update", msg.Type)
	assert.Equal(t, TopicPrice, msg.Topic)
	assert.JSONEq(t, `{"price":"3200.50"}`, string(msg.Data))
}

func TestHubSkipsUnsubscribedTopics(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(TopicPrice, map[string]string{"price": "3200"}))
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t, "http://localhost:3000")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func TestIsSubscribedWildcard(t *testing.T) {
	c := &Client{topics: map[string]bool{topicAllPrices: true}}
	assert.True(t, c.isSubscribed(TopicPrice))
	assert.False(t, c.isSubscribed("candles:ETH/USD"))
}
