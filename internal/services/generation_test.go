package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/types"
)

type providerRequest struct {
	Model       string            `json:"model"`
	Stream      bool              `json:"stream"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Messages    []json.RawMessage `json:"messages"`
}

// sseChunk renders one streamed completion chunk.
func sseChunk(content, finishReason string) string {
	choice := map[string]interface{}{
		"index": 0,
		"delta": map[string]string{"content": content},
	}
	if finishReason != "" {
		choice["finish_reason"] = finishReason
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"model":   "gpt-4o-mini",
		"choices": []interface{}{choice},
	})
	return "data: " + string(raw) + "\n\n"
}

// newProvider serves a scripted completion stream. When done is false the
// body ends without a finish reason or terminator.
func newProvider(t *testing.T, fragments []string, done bool, captured *providerRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			fmt.Fprint(w, sseChunk(f, ""))
			flusher.Flush()
		}
		if done {
			fmt.Fprint(w, sseChunk("", "stop"))
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGeneration(t *testing.T, baseURL string) GenerationService {
	t.Helper()
	gs, err := NewGenerationService(logger.NewNop(), "sk-test", baseURL+"/v1", DefaultGenerationSettings())
	require.NoError(t, err)
	return gs
}

func drain(t *testing.T, s FragmentStream) ([]string, error) {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		f, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}

func TestGenerationStreamsFragmentsInOrder(t *testing.T) {
	var got providerRequest
	srv := newProvider(t, []string{"Under ", "Article 315", ", estafa..."}, true, &got)
	gs := newTestGeneration(t, srv.URL)

	stream, err := gs.Stream(context.Background(), []types.ChatMessage{
		{Role: types.RoleSystem, Content: "You are Alexus."},
		{Role: types.RoleUser, Content: "What is estafa?"},
	})
	require.NoError(t, err)

	fragments, err := drain(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"Under ", "Article 315", ", estafa..."}, fragments)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.True(t, got.Stream)
	assert.InDelta(t, 0.7, got.Temperature, 0.0001)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, string(got.Messages[0]), `"role":"system"`)
}

func TestGenerationSendsImageAsContentParts(t *testing.T) {
	var got providerRequest
	srv := newProvider(t, []string{"This is a lease."}, true, &got)
	gs := newTestGeneration(t, srv.URL)

	stream, err := gs.Stream(context.Background(), []types.ChatMessage{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "Review this", ImageURL: "https://example.com/lease.png"},
	})
	require.NoError(t, err)
	_, err = drain(t, stream)
	require.NoError(t, err)

	require.Len(t, got.Messages, 2)
	var user struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL    string `json:"url"`
				Detail string `json:"detail"`
			} `json:"image_url"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(got.Messages[1], &user))
	require.Len(t, user.Content, 2)
	assert.Equal(t, "text", user.Content[0].Type)
	assert.Equal(t, "Review this", user.Content[0].Text)
	assert.Equal(t, "image_url", user.Content[1].Type)
	assert.Equal(t, "https://example.com/lease.png", user.Content[1].ImageURL.URL)
	assert.Equal(t, "high", user.Content[1].ImageURL.Detail)
}

func TestGenerationStreamWithoutFinishIsIncomplete(t *testing.T) {
	srv := newProvider(t, []string{"The ", "Labor Code"}, false, nil)
	gs := newTestGeneration(t, srv.URL)

	stream, err := gs.Stream(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "q"}})
	require.NoError(t, err)

	fragments, err := drain(t, stream)
	assert.Equal(t, []string{"The ", "Labor Code"}, fragments)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindGeneration))
	assert.ErrorIs(t, err, ErrIncompleteStream)

	// a finished stream keeps reporting EOF
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGenerationOpenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()
	gs := newTestGeneration(t, srv.URL)

	stream, err := gs.Stream(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "q"}})
	assert.Nil(t, stream)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindGeneration))
	assert.Equal(t, "the assistant is unavailable right now", apperr.Reason(err))
}

func TestGenerationSettingsValidation(t *testing.T) {
	bad := []GenerationSettings{
		{Model: "", Temperature: 0.7, MaxTokens: 10, ImageDetail: "high"},
		{Model: "m", Temperature: 2.5, MaxTokens: 10, ImageDetail: "high"},
		{Model: "m", Temperature: 0.7, MaxTokens: 0, ImageDetail: "high"},
		{Model: "m", Temperature: 0.7, MaxTokens: 10, ImageDetail: "ultra"},
	}
	for i, s := range bad {
		_, err := NewGenerationService(logger.NewNop(), "k", "", s)
		assert.Error(t, err, "case %d", i)
	}

	gs, err := NewGenerationService(logger.NewNop(), "", "https://llm.internal/v1/", DefaultGenerationSettings())
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerationSettings(), gs.Settings())
}
