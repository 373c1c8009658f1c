package stream

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "collections:"
	channelSuffix  = ":broadcast"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub fans collection updates out to websocket clients. With a redis client
// every broadcast goes through pub/sub so all API replicas see it; without
// one it is delivered in-process.
type Hub struct {
	redis   *redis.Client
	pubsub  *redis.PubSub
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	Collection string
	Send       chan []byte
}

// Message is the payload pushed to clients.
type Message struct {
	Type       string `json:"type"`
	Collection string `json:"collection"`
	Data       any    `json:"data,omitempty"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx := context.Background()
		ps := redisClient.PSubscribe(ctx, channelPattern)
		if _, err := ps.Receive(ctx); err != nil {
			log.Printf("redis subscribe error, using local delivery: %v", err)
			_ = ps.Close()
		} else {
			h.redis, h.pubsub = redisClient, ps
			go h.subscribeRedis()
		}
	}
	return h
}

func (h *Hub) Register(collection string) *Client {
	client := &Client{
		Collection: collection,
		Send:       make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[collection] == nil {
		h.clients[collection] = map[*Client]struct{}{}
	}
	h.clients[collection][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if collectionClients, ok := h.clients[client.Collection]; ok {
		delete(collectionClients, client)
		if len(collectionClients) == 0 {
			delete(h.clients, client.Collection)
		}
	}
	close(client.Send)
}

// Subscribers returns the number of clients watching collection.
func (h *Hub) Subscribers(collection string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[collection])
}

func (h *Hub) Broadcast(collection string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(collection), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(collection, payload)
}

// BroadcastMessage encodes msg as JSON and broadcasts it.
func (h *Hub) BroadcastMessage(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(msg.Collection, payload)
	return nil
}

func (h *Hub) deliver(collection string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[collection] {
		select {
		case client.Send <- payload:
		default:
			log.Printf("stream client buffer full for %s", collection)
		}
	}
}

func (h *Hub) subscribeRedis() {
	for msg := range h.pubsub.Channel() {
		collection := collectionFromChannel(msg.Channel)
		if collection == "" {
			continue
		}
		h.deliver(collection, []byte(msg.Payload))
	}
}

// Close stops the redis subscription.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	return h.pubsub.Close()
}

func redisChannel(collection string) string {
	return channelPrefix + collection + channelSuffix
}

func collectionFromChannel(ch string) string {
	// collections:{name}:broadcast
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
