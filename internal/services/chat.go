package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/locks"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/metrics"
	"github.com/slotter-org/alexus-backend/internal/prompt"
	"github.com/slotter-org/alexus-backend/internal/relay"
	"github.com/slotter-org/alexus-backend/internal/types"
)

// AnonymousUserID owns conversations started without a userId.
const AnonymousUserID = "anonymous"

const DefaultPersistTimeout = 10 * time.Second

type ChatRequest struct {
	UserID         string
	ConversationID *uint
	Message        string
	Image          string
}

// Turn is an exchange whose provider stream is open but not yet relayed.
type Turn struct {
	ConversationID uint
	// Conversation is nil when an existing conversation could not be
	// re-read at the start of the turn.
	Conversation *types.Conversation
	Created      bool
	Window       ContextWindow

	userText string
	image    *PreparedImage
	stream   FragmentStream
}

type TurnResult struct {
	ConversationID   uint
	Conversation     *types.Conversation
	UserMessage      *types.Message
	AssistantMessage *types.Message
	Relay            relay.Result
	// Discarded is set when the turn created its conversation and did not
	// complete, so that conversation was deleted again.
	Discarded bool
}

// ManualTurn is a client supplied pair of turns for the append endpoint.
type ManualTurn struct {
	UserMessage      string
	AssistantMessage string
	UserImage        string
}

type ChatService interface {
	StartTurn(ctx context.Context, req ChatRequest) (*Turn, error)
	FinishTurn(ctx context.Context, turn *Turn, sink relay.Sink) (*TurnResult, error)
	AppendTurn(ctx context.Context, conversationID uint, in ManualTurn) ([]*types.Message, error)
}

type chatService struct {
	log            *logger.Logger
	conversations  ConversationService
	assembler      ContextAssembler
	generation     GenerationService
	images         ImageService
	locker         locks.Locker
	prompts        prompt.Config
	metrics        *metrics.ChatMetrics
	persistTimeout time.Duration
}

func NewChatService(
	log *logger.Logger,
	conversations ConversationService,
	assembler ContextAssembler,
	generation GenerationService,
	images ImageService,
	locker locks.Locker,
	prompts prompt.Config,
	m *metrics.ChatMetrics,
	persistTimeout time.Duration,
) ChatService {
	if persistTimeout <= 0 {
		persistTimeout = DefaultPersistTimeout
	}
	if locker == nil {
		locker = locks.NewLocalLocker()
	}
	return &chatService{
		log:            log.With("service", "ChatService"),
		conversations:  conversations,
		assembler:      assembler,
		generation:     generation,
		images:         images,
		locker:         locker,
		prompts:        prompts,
		metrics:        m,
		persistTimeout: persistTimeout,
	}
}

// StartTurn validates the request, assembles the context window and opens
// the provider stream. A new conversation is only created once the stream
// is open, so a provider that refuses the call leaves no empty thread.
// FinishTurn removes it again if the turn does not complete.
func (cs *chatService) StartTurn(ctx context.Context, req ChatRequest) (*Turn, error) {
	hasImage := strings.TrimSpace(req.Image) != ""
	if strings.TrimSpace(req.Message) == "" && !hasImage {
		cs.metrics.Request(metrics.OutcomeValidation)
		return nil, apperr.Validation("message or image is required")
	}

	turn := &Turn{}
	var providerImage string
	if hasImage {
		img, err := cs.images.Prepare(ctx, req.Image)
		if err != nil {
			cs.metrics.Request(metrics.OutcomeValidation)
			return nil, err
		}
		turn.image = img
		providerImage = img.ProviderURL()
	}

	if req.ConversationID != nil {
		conv, err := cs.conversations.GetConversation(ctx, *req.ConversationID)
		switch {
		case err == nil:
			turn.Conversation = conv
		case apperr.Is(err, apperr.KindNotFound):
			cs.metrics.Request(metrics.OutcomeValidation)
			return nil, err
		default:
			cs.log.Warn("Could not verify conversation, continuing", "conversationID", *req.ConversationID, "error", err)
		}
		turn.ConversationID = *req.ConversationID
	}

	turn.Window = cs.assembler.Assemble(ctx, ContextRequest{
		ConversationID: req.ConversationID,
		Text:           req.Message,
		ImageURL:       providerImage,
	})
	turn.userText = turn.Window.UserTurn().Content

	stream, err := cs.generation.Stream(ctx, turn.Window.Messages)
	if err != nil {
		cs.metrics.Request(metrics.OutcomeGenerationError)
		return nil, err
	}
	turn.stream = stream

	if req.ConversationID == nil {
		owner := strings.TrimSpace(req.UserID)
		if owner == "" {
			owner = AnonymousUserID
		}
		conv, err := cs.conversations.CreateConversation(ctx, owner, cs.prompts.Title(req.Message, hasImage))
		if err != nil {
			_ = stream.Close()
			cs.metrics.Request(metrics.OutcomePersistenceError)
			return nil, err
		}
		turn.Conversation = conv
		turn.ConversationID = conv.ID
		turn.Created = true
	}

	cs.log.Debug("Turn started",
		"conversationID", turn.ConversationID,
		"created", turn.Created,
		"history", turn.Window.HistoryCount,
		"degraded", turn.Window.Degraded,
	)
	return turn, nil
}

// FinishTurn relays the stream to sink and, only if the whole answer was
// delivered, records the user and assistant messages together. A failed or
// abandoned stream persists nothing, including a conversation StartTurn
// created for it.
func (cs *chatService) FinishTurn(ctx context.Context, turn *Turn, sink relay.Sink) (*TurnResult, error) {
	defer turn.stream.Close()

	end := cs.metrics.StreamStarted()
	res, err := relay.Relay(ctx, turn.stream, sink)
	end()
	cs.metrics.Fragments(res.Fragments)
	if res.Fragments > 0 {
		cs.metrics.FirstFragment(res.FirstFragment)
	}

	result := &TurnResult{ConversationID: turn.ConversationID, Relay: res}
	if err != nil {
		if errors.Is(err, relay.ErrClientGone) {
			cs.metrics.ClientDisconnected()
			cs.metrics.Request(metrics.OutcomeClientGone)
			cs.log.Info("Client disconnected mid-stream, turn not persisted",
				"conversationID", turn.ConversationID,
				"fragments", res.Fragments,
			)
			cs.discardCreated(ctx, turn, result)
			return result, err
		}
		cs.metrics.Request(metrics.OutcomeGenerationError)
		cs.log.Warn("Generation failed mid-stream, turn not persisted",
			"conversationID", turn.ConversationID,
			"fragments", res.Fragments,
			"error", err,
		)
		if !apperr.Is(err, apperr.KindGeneration) {
			err = apperr.Generation("the answer was interrupted", err)
		}
		cs.discardCreated(ctx, turn, result)
		return result, err
	}

	// The answer is fully delivered; record it even if the client hangs up
	// right now.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cs.persistTimeout)
	defer cancel()

	msgs, err := cs.persistTurn(persistCtx, turn, res.Text)
	if err != nil {
		cs.metrics.TurnPersisted(metrics.OutcomePersistenceError)
		cs.metrics.Request(metrics.OutcomePersistenceError)
		cs.log.Error("Failed to persist turn", "conversationID", turn.ConversationID, "error", err)
		cs.discardCreated(ctx, turn, result)
		return result, err
	}
	cs.metrics.TurnPersisted(metrics.OutcomeSuccess)
	cs.metrics.Request(metrics.OutcomeSuccess)

	result.UserMessage = msgs[0]
	result.AssistantMessage = msgs[1]
	if turn.Conversation != nil {
		conv := *turn.Conversation
		conv.UpdatedAt = msgs[1].CreatedAt
		result.Conversation = &conv
	}
	cs.log.Info("Turn persisted",
		"conversationID", turn.ConversationID,
		"fragments", res.Fragments,
		"bytes", res.Bytes,
	)
	return result, nil
}

// discardCreated deletes the conversation StartTurn created for a turn that
// did not complete. Existing conversations are never touched.
func (cs *chatService) discardCreated(ctx context.Context, turn *Turn, result *TurnResult) {
	if !turn.Created {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cs.persistTimeout)
	defer cancel()
	if _, err := cs.conversations.DeleteConversation(dctx, turn.ConversationID); err != nil {
		cs.log.Warn("Failed to discard conversation of an incomplete turn", "conversationID", turn.ConversationID, "error", err)
		return
	}
	result.Discarded = true
	cs.log.Debug("Discarded conversation of an incomplete turn", "conversationID", turn.ConversationID)
}

func (cs *chatService) persistTurn(ctx context.Context, turn *Turn, answer string) ([]*types.Message, error) {
	unlock, err := cs.locker.Lock(ctx, locks.ConversationKey(turn.ConversationID))
	if err != nil {
		return nil, apperr.Persistence("conversation is busy", err)
	}
	defer unlock()

	user := types.NewMessage{Role: types.RoleUser, Content: turn.userText}
	if turn.image != nil {
		ref, meta, err := cs.images.Store(ctx, turn.ConversationID, turn.image)
		if err != nil {
			return nil, err
		}
		user.ImageURL = ref
		user.Metadata = meta
	}
	assistant := types.NewMessage{Role: types.RoleAssistant, Content: answer}
	return cs.conversations.AppendMessages(ctx, turn.ConversationID, user, assistant)
}

// AppendTurn records client supplied turns: the user turn when it has text
// or an image, then the assistant turn when it has text.
func (cs *chatService) AppendTurn(ctx context.Context, conversationID uint, in ManualTurn) ([]*types.Message, error) {
	hasImage := strings.TrimSpace(in.UserImage) != ""
	hasUser := strings.TrimSpace(in.UserMessage) != "" || hasImage
	hasAssistant := strings.TrimSpace(in.AssistantMessage) != ""
	if !hasUser && !hasAssistant {
		return nil, apperr.Validation("userMessage, assistantMessage or userImage is required")
	}

	var img *PreparedImage
	if hasImage {
		prepared, err := cs.images.Prepare(ctx, in.UserImage)
		if err != nil {
			return nil, err
		}
		img = prepared
	}

	unlock, err := cs.locker.Lock(ctx, locks.ConversationKey(conversationID))
	if err != nil {
		return nil, apperr.Persistence("conversation is busy", err)
	}
	defer unlock()

	if _, err := cs.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	var msgs []types.NewMessage
	if hasUser {
		user := types.NewMessage{Role: types.RoleUser, Content: cs.prompts.UserText(in.UserMessage, hasImage)}
		if img != nil {
			ref, meta, err := cs.images.Store(ctx, conversationID, img)
			if err != nil {
				return nil, err
			}
			user.ImageURL = ref
			user.Metadata = meta
		}
		msgs = append(msgs, user)
	}
	if hasAssistant {
		msgs = append(msgs, types.NewMessage{Role: types.RoleAssistant, Content: in.AssistantMessage})
	}
	return cs.conversations.AppendMessages(ctx, conversationID, msgs...)
}
