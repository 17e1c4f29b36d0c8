package socket

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
)

// Conversation event actions pushed on a user's channel.
const (
	ActionConversationCreated = "conversation.created"
	ActionConversationUpdated = "conversation.updated"
	ActionConversationDeleted = "conversation.deleted"
)

type Message struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

type Event struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

func UserChannel(userID string) string {
	return "user:" + userID
}

type Hub struct {
	log      *logger.Logger
	mu       sync.RWMutex
	channels map[string]map[uuid.UUID]*Client

	redisPubSub *RedisPubSub
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:      log.With("component", "Hub"),
		channels: make(map[string]map[uuid.UUID]*Client),
	}
}

// SetRedisPubSub routes broadcasts through Redis so every node delivers them.
func (h *Hub) SetRedisPubSub(rp *RedisPubSub) {
	h.redisPubSub = rp
}

func (h *Hub) Subscribe(client *Client, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		if h.channels[ch] == nil {
			h.channels[ch] = make(map[uuid.UUID]*Client)
		}
		h.channels[ch][client.ID] = client
	}
	h.log.Debug("Client subscribed", "client", client.ID, "channels", channels)
}

func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, clientsMap := range h.channels {
		if _, ok := clientsMap[client.ID]; ok {
			delete(clientsMap, client.ID)
			if len(clientsMap) == 0 {
				delete(h.channels, ch)
			}
		}
	}
	h.log.Debug("Client unsubscribed from all channels", "client", client.ID)
}

func (h *Hub) UnsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clientsMap, ok := h.channels[channel]; ok {
		delete(clientsMap, client.ID)
		if len(clientsMap) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// localBroadcast never blocks; a client whose buffer is full misses msg.
func (h *Hub) localBroadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientsMap, ok := h.channels[msg.Channel]
	if !ok {
		return
	}
	for _, client := range clientsMap {
		select {
		case client.Outbound <- msg:
		default:
			h.log.Warn("Dropping message to client; outbound buffer full", "client", client.ID, "channel", msg.Channel)
		}
	}
}

// BroadcastGlobal delivers msg to subscribers on every node. With Redis the
// message is only published; this node receives it back through its own
// subscription.
func (h *Hub) BroadcastGlobal(ctx context.Context, msg Message) {
	if h.redisPubSub != nil {
		if err := h.redisPubSub.Publish(ctx, msg); err != nil {
			h.log.Warn("Failed to publish to Redis, delivering locally", "error", err)
			h.localBroadcast(msg)
		}
		return
	}
	h.localBroadcast(msg)
}

// PublishConversation tells the owner's open clients that a conversation
// changed. A nil Hub does nothing.
func (h *Hub) PublishConversation(ctx context.Context, action string, conv *types.Conversation) {
	if h == nil || conv == nil {
		return
	}
	h.BroadcastGlobal(ctx, Message{
		Channel: UserChannel(conv.UserID),
		Data:    Event{Action: action, Payload: conv},
	})
}
