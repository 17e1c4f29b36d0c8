package services

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/metrics"
	"github.com/slotter-org/alexus-backend/internal/prompt"
	"github.com/slotter-org/alexus-backend/internal/types"
)

func TestAssembleBoundsHistory(t *testing.T) {
	id := uint(7)
	for _, n := range []int{0, 5, 20, 25} {
		history := &fakeHistory{all: historyOf(n)}
		ca := NewContextAssembler(logger.NewNop(), history, prompt.Default(), nil, 0)

		w := ca.Assemble(context.Background(), ContextRequest{ConversationID: &id, Text: "What is estafa?"})

		want := n
		if want > DefaultHistoryLimit {
			want = DefaultHistoryLimit
		}
		assert.Equal(t, DefaultHistoryLimit, history.gotLimit)
		assert.Equal(t, want, w.HistoryCount, "history of %d", n)
		require.Len(t, w.Messages, want+2)
		assert.Equal(t, types.RoleSystem, w.Messages[0].Role)
		assert.Equal(t, prompt.Default().SystemInstruction, w.Messages[0].Content)
		assert.Equal(t, types.ChatMessage{Role: types.RoleUser, Content: "What is estafa?"}, w.UserTurn())
		assert.False(t, w.Degraded)
		if n > 0 {
			// the window keeps the most recent entries, oldest first
			assert.Equal(t, history.all[n-want:], w.Messages[1:want+1])
		}
	}
}

func TestAssembleRequestLimitOverridesDefault(t *testing.T) {
	id := uint(1)
	history := &fakeHistory{all: historyOf(10)}
	ca := NewContextAssembler(logger.NewNop(), history, prompt.Default(), nil, 0)

	w := ca.Assemble(context.Background(), ContextRequest{ConversationID: &id, Text: "hi", Limit: 4})

	assert.Equal(t, 4, history.gotLimit)
	assert.Equal(t, 4, w.HistoryCount)
}

func TestAssembleWithoutConversationSkipsHistory(t *testing.T) {
	history := &fakeHistory{all: historyOf(3)}
	ca := NewContextAssembler(logger.NewNop(), history, prompt.Default(), nil, 0)

	w := ca.Assemble(context.Background(), ContextRequest{Text: "hello"})

	assert.Zero(t, history.calls)
	assert.Len(t, w.Messages, 2)
	assert.Zero(t, w.HistoryCount)
}

func TestAssembleImageOnlyTurnUsesInstruction(t *testing.T) {
	cfg := prompt.Default()
	ca := NewContextAssembler(logger.NewNop(), &fakeHistory{}, cfg, nil, 0)

	w := ca.Assemble(context.Background(), ContextRequest{Text: "  ", ImageURL: "https://example.com/contract.jpg"})

	turn := w.UserTurn()
	assert.Equal(t, cfg.ImageInstruction, turn.Content)
	assert.Equal(t, "https://example.com/contract.jpg", turn.ImageURL)
}

func TestAssembleDegradesWhenHistoryFails(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	m := metrics.New(prometheus.NewRegistry())
	cause := errors.New("connection reset by peer")
	id := uint(3)
	ca := NewContextAssembler(logger.FromZap(zap.New(core)), &fakeHistory{err: cause}, prompt.Default(), m, 0)

	w := ca.Assemble(context.Background(), ContextRequest{ConversationID: &id, Text: "still there?"})

	assert.True(t, w.Degraded)
	assert.ErrorIs(t, w.HistoryErr, cause)
	require.Len(t, w.Messages, 2)
	assert.Equal(t, "still there?", w.UserTurn().Content)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ContextDegradedTotal))

	entries := logs.FilterMessage("History unavailable, continuing with empty context").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 3, entries[0].ContextMap()["conversationID"])
}

func TestAssembleAgainstStore(t *testing.T) {
	ctx := context.Background()
	cs := newTestConversationService(t)
	conv, err := cs.CreateConversation(ctx, "u1", "Labor")
	require.NoError(t, err)
	for i := 0; i < 13; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		_, err := cs.AppendMessage(ctx, conv.ID, types.NewMessage{Role: role, Content: string(rune('a' + i))})
		require.NoError(t, err)
	}

	ca := NewContextAssembler(logger.NewNop(), cs, prompt.Default(), nil, 10)
	w := ca.Assemble(ctx, ContextRequest{ConversationID: &conv.ID, Text: "next"})

	require.Equal(t, 10, w.HistoryCount)
	assert.Equal(t, "d", w.Messages[1].Content)
	assert.Equal(t, "m", w.Messages[10].Content)
}
