package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("geolife")
	defer hub.Unregister(client)

	hub.Broadcast("geolife", []byte("hello"))

	select {
	case msg := <-client.Send:
		if string(msg) != "hello" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}

	if hub.Subscribers("geolife") != 1 || hub.Subscribers("other") != 0 {
		t.Fatalf("unexpected subscriber counts")
	}
}

func TestHubBroadcastMessage(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("gpx")
	defer hub.Unregister(client)

	if err := hub.BroadcastMessage(Message{Type: "table", Collection: "gpx", Data: []int{1, 2}}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	var got Message
	if err := json.Unmarshal(<-client.Send, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "table" || got.Collection != "gpx" {
		t.Fatalf("unexpected message %+v", got)
	}
}

func TestHubHelpers(t *testing.T) {
	ch := redisChannel("abc")
	if ch != "collections:abc:broadcast" {
		t.Fatalf("unexpected channel %q", ch)
	}
	if collectionFromChannel(ch) != "abc" {
		t.Fatalf("unexpected collection")
	}
	if collectionFromChannel("bad") != "" {
		t.Fatalf("expected empty collection")
	}
	if collectionFromChannel("tracking:abc:broadcast") != "" {
		t.Fatalf("expected foreign channel to be ignored")
	}
}

func TestUnregisterCloses(t *testing.T) {
	hub := NewHub(nil)
	client := hub.Register("c2")
	hub.Unregister(client)
	_, ok := <-client.Send
	if ok {
		t.Fatalf("expected channel closed")
	}
	if hub.Subscribers("c2") != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestHubRedisBroadcastAndSubscribe(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	ws := hub.Register("geolife")
	defer hub.Unregister(ws)

	hub.Broadcast("geolife", []byte("ping"))

	select {
	case msg := <-ws.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for broadcast")
	}

	// a publish from another replica reaches local clients
	s.Publish("collections:geolife:broadcast", "pong")

	select {
	case msg := <-ws.Send:
		if string(msg) != "pong" {
			t.Fatalf("unexpected message from redis")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for redis message")
	}
}

func TestHubRedisUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	server.Close()
	defer client.Close()

	hub := NewHub(client)
	defer hub.Close()
	node := hub.Register("bad")
	defer hub.Unregister(node)

	hub.Broadcast("bad", []byte("ping"))
	select {
	case msg := <-node.Send:
		if string(msg) != "ping" {
			t.Fatalf("unexpected message")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected local delivery")
	}
}
