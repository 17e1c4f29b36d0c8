package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
)

// ErrIncompleteStream is returned when the provider closes the stream
// without reporting a finish reason.
var ErrIncompleteStream = errors.New("provider stream ended without a finish reason")

type GenerationSettings struct {
	Model       string  `validate:"required"`
	Temperature float32 `validate:"gte=0,lte=2"`
	MaxTokens   int     `validate:"gt=0"`
	ImageDetail string  `validate:"oneof=low high auto"`
}

func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   4000,
		ImageDetail: string(openai.ImageURLDetailHigh),
	}
}

// FragmentStream yields answer fragments in generation order. Recv returns
// io.EOF once the answer is complete. It cannot be restarted.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

type GenerationService interface {
	Stream(ctx context.Context, messages []types.ChatMessage) (FragmentStream, error)
	Settings() GenerationSettings
}

type generationService struct {
	log      *logger.Logger
	client   *openai.Client
	settings GenerationSettings
}

// NewGenerationService builds an OpenAI compatible streaming client. An
// empty baseURL targets api.openai.com.
func NewGenerationService(log *logger.Logger, apiKey, baseURL string, settings GenerationSettings) (GenerationService, error) {
	serviceLog := log.With("service", "GenerationService")
	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid generation settings: %w", err)
	}
	if apiKey == "" {
		serviceLog.Warn("OPENAI_API_KEY not set; calls might fail or be unauthorized")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 60 * time.Second
	// No overall client timeout: a stream lives as long as the request ctx.
	cfg.HTTPClient = &http.Client{Transport: transport}

	return &generationService{
		log:      serviceLog,
		client:   openai.NewClientWithConfig(cfg),
		settings: settings,
	}, nil
}

func (gs *generationService) Settings() GenerationSettings {
	return gs.settings
}

// Stream opens a streaming completion. Failures to open the stream come back
// as a GenerationError; nothing is retried.
func (gs *generationService) Stream(ctx context.Context, messages []types.ChatMessage) (FragmentStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       gs.settings.Model,
		Messages:    gs.toProviderMessages(messages),
		Temperature: gs.settings.Temperature,
		MaxTokens:   gs.settings.MaxTokens,
		Stream:      true,
	}
	stream, err := gs.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		gs.log.Warn("failed to open provider stream", "model", gs.settings.Model, "error", err)
		return nil, apperr.Generation("the assistant is unavailable right now", err)
	}
	gs.log.Debug("Provider stream opened", "model", gs.settings.Model, "messages", len(messages))
	return &openAIFragmentStream{stream: stream, log: gs.log}, nil
}

func (gs *generationService) toProviderMessages(messages []types.ChatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m.ImageURL == "" {
			out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{
			Role: m.Role,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    m.ImageURL,
						Detail: openai.ImageURLDetail(gs.settings.ImageDetail),
					},
				},
			},
		})
	}
	return out
}

type openAIFragmentStream struct {
	stream   *openai.ChatCompletionStream
	log      *logger.Logger
	finished bool
	done     bool
}

func (s *openAIFragmentStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			if !s.finished {
				return "", apperr.Generation("the answer was interrupted", ErrIncompleteStream)
			}
			return "", io.EOF
		}
		if err != nil {
			s.done = true
			return "", apperr.Generation("the answer was interrupted", err)
		}
		var fragment strings.Builder
		for _, choice := range resp.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
				s.finished = true
			}
			fragment.WriteString(choice.Delta.Content)
		}
		if fragment.Len() > 0 {
			return fragment.String(), nil
		}
	}
}

func (s *openAIFragmentStream) Close() error {
	s.done = true
	return s.stream.Close()
}
