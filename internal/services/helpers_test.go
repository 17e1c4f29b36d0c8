package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slotter-org/alexus-backend/internal/db"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/repos"
	"github.com/slotter-org/alexus-backend/internal/types"
)

var testEpoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestConversationService(t *testing.T) *conversationService {
	t.Helper()
	log := logger.NewNop()
	store, err := db.NewSQLiteService(log, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.AutoMigrateAll())

	gdb := store.DB()
	svc := NewConversationService(gdb, log, repos.NewConversationRepo(gdb, log), repos.NewMessageRepo(gdb, log))
	return svc.(*conversationService)
}

// frozenClock always returns the same instant, which forces the store to
// order messages by its own tie breaking.
func frozenClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeHistory struct {
	all      []types.ChatMessage
	err      error
	gotLimit int
	calls    int
}

func (f *fakeHistory) RecentMessages(_ context.Context, _ uint, limit int) ([]types.ChatMessage, error) {
	f.calls++
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if len(f.all) <= limit {
		return f.all, nil
	}
	return f.all[len(f.all)-limit:], nil
}

func historyOf(n int) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		out = append(out, types.ChatMessage{Role: role, Content: string(rune('a' + i%26))})
	}
	return out
}

type fakeStream struct {
	mu        sync.Mutex
	fragments []string
	failAt    int
	failErr   error
	calls     int
	closed    bool
}

func (s *fakeStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if s.failErr != nil && i == s.failAt {
		return "", s.failErr
	}
	if i >= len(s.fragments) {
		return "", io.EOF
	}
	return s.fragments[i], nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeGeneration struct {
	fragments []string
	failAt    int
	failErr   error
	openErr   error
	requests  [][]types.ChatMessage
	streams   []*fakeStream
}

func (f *fakeGeneration) Stream(_ context.Context, msgs []types.ChatMessage) (FragmentStream, error) {
	f.requests = append(f.requests, msgs)
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := &fakeStream{fragments: f.fragments, failAt: f.failAt, failErr: f.failErr}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeGeneration) Settings() GenerationSettings {
	return DefaultGenerationSettings()
}

type fakeBucket struct {
	uploads      map[string][]byte
	contentTypes map[string]string
	err          error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{uploads: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (b *fakeBucket) UploadFile(_ context.Context, key, contentType string, r io.Reader) error {
	if b.err != nil {
		return b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.uploads[key] = data
	b.contentTypes[key] = contentType
	return nil
}

func (b *fakeBucket) GetPublicURL(key string) string {
	return "https://storage.googleapis.com/test-bucket/" + key
}

func (b *fakeBucket) Close() error { return nil }

// pngDataURL encodes a solid w x h PNG as a data URL.
func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
