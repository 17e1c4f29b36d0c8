package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/slotter-org/alexus-backend/internal/logger"
)

// RedisPubSub fans hub broadcasts out to every node sharing one Redis.
type RedisPubSub struct {
	log        *logger.Logger
	client     *redis.Client
	channel    string
	pubsub     *redis.PubSub
	cancelFunc context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex
}

func NewRedisPubSub(log *logger.Logger, client *redis.Client, channel string) *RedisPubSub {
	return &RedisPubSub{
		log:     log.With("component", "RedisPubSub"),
		client:  client,
		channel: channel,
	}
}

// StartSubscriber subscribes and forwards every received message to the
// hub's local clients until Stop.
func (rp *RedisPubSub) StartSubscriber(hub *Hub) error {
	ctx, cancel := context.WithCancel(context.Background())

	pubsub := rp.client.Subscribe(ctx, rp.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channel: %w", err)
	}
	rp.log.Info("RedisPubSub subscribed successfully", "channel", rp.channel)

	rp.mu.Lock()
	rp.pubsub = pubsub
	rp.cancelFunc = cancel
	rp.done = make(chan struct{})
	done := rp.done
	rp.mu.Unlock()

	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				rp.log.Debug("Redis pubsub context done, stopping subscription goroutine")
				return
			case msg, ok := <-ch:
				if !ok {
					rp.log.Debug("PubSub channel closed, stopping subscription goroutine")
					return
				}
				broadcastMsg, err := decodePubSubMessage(msg.Payload)
				if err != nil {
					rp.log.Warn("Failed to decode pubsub message", "error", err)
					continue
				}
				hub.localBroadcast(broadcastMsg)
			}
		}
	}()
	return nil
}

func (rp *RedisPubSub) Publish(ctx context.Context, msg Message) error {
	payload, err := encodePubSubMessage(msg)
	if err != nil {
		return err
	}
	return rp.client.Publish(ctx, rp.channel, payload).Err()
}

func (rp *RedisPubSub) Stop() {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if rp.cancelFunc != nil {
		rp.cancelFunc()
		rp.cancelFunc = nil
	}
	if rp.pubsub != nil {
		_ = rp.pubsub.Close()
		rp.pubsub = nil
	}
	if rp.done != nil {
		<-rp.done
		rp.done = nil
	}
}

func encodePubSubMessage(m Message) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("json marshal failed: %w", err)
	}
	return string(raw), nil
}

// decodePubSubMessage leaves Data as generic JSON; clients only re-encode it.
func decodePubSubMessage(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("json unmarshal failed: %w", err)
	}
	return msg, nil
}
