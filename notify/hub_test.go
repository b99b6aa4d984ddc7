package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func decodeMessage(t *testing.T, payload []byte) Message {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		hub.Broadcast("order_created", map[string]int{"seq": i})
	}

	for i := 0; i < 5; i++ {
		select {
		case payload := <-sub.Events():
			msg := decodeMessage(t, payload)
			assert.Equal(t, "order_created", msg.Type)
			data := msg.Data.(map[string]interface{})
			assert.Equal(t, float64(i), data["seq"])
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestLateSubscriberReceivesNoBacklog(t *testing.T) {
	hub := NewHub(testLogger())

	early := hub.Subscribe()
	hub.Broadcast("order_created", map[string]string{"id": "first"})

	late := hub.Subscribe()
	defer hub.Unsubscribe(early)
	defer hub.Unsubscribe(late)

	select {
	case <-early.Events():
	case <-time.After(time.Second):
		t.Fatal("early subscriber did not receive the event")
	}

	select {
	case payload := <-late.Events():
		t.Fatalf("late subscriber unexpectedly received %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.SubscriberCount())

	// Channel is closed, and a second Unsubscribe is a no-op
	_, open := <-sub.Events()
	assert.False(t, open)
	hub.Unsubscribe(sub)
}

func TestSlowSubscriberIsDroppedNotSkipped(t *testing.T) {
	hub := NewHub(testLogger())
	sub := hub.Subscribe()

	// Fill the buffer and then some without the subscriber reading
	for i := 0; i < sendBuffer+10; i++ {
		hub.Broadcast("order_created", map[string]int{"seq": i})
	}

	assert.Equal(t, 0, hub.SubscriberCount())

	// Everything delivered before the drop is an ordered, gapless prefix
	next := 0
	for payload := range sub.Events() {
		msg := decodeMessage(t, payload)
		data := msg.Data.(map[string]interface{})
		require.Equal(t, float64(next), data["seq"])
		next++
	}
	assert.Equal(t, sendBuffer, next)
}

func TestConcurrentSubscribeBroadcastUnsubscribe(t *testing.T) {
	hub := NewHub(testLogger())

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe()
			for j := 0; j < 10; j++ {
				hub.Broadcast("order_created", map[string]int{"seq": j})
			}
			// Drain whatever arrived before leaving
			for {
				select {
				case <-sub.Events():
				default:
					hub.Unsubscribe(sub)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.SubscriberCount())
}

func TestServeSSEStreamsBroadcasts(t *testing.T) {
	hub := NewHub(testLogger())

	server := httptest.NewServer(http.HandlerFunc(hub.ServeSSE))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the handler to register its subscriber
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("order_created", map[string]string{"id": "abc"})

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			msg := decodeMessage(t, []byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")))
			assert.Equal(t, "order_created", msg.Type)
			return
		}
	}
}

func TestServeWSStreamsBroadcasts(t *testing.T) {
	hub := NewHub(testLogger())

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	wsURL := fmt.Sprintf("ws%s", strings.TrimPrefix(server.URL, "http"))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast("order_created", map[string]string{"id": "abc"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	msg := decodeMessage(t, payload)
	assert.Equal(t, "order_created", msg.Type)
}
