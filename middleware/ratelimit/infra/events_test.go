package infra

import (
	"context"
	"testing"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogEventSink_WritesStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogEventSink(zap.New(core))

	sink.Emit(context.Background(), domain.EventProgressiveLockout, map[string]any{
		"user": "a@b.com",
		"ip":   "1.2.3.4",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "security event", entries[0].Message)
	require.Equal(t, "security", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	require.Equal(t, domain.EventProgressiveLockout, fields["event_type"])
	require.Equal(t, "a@b.com", fields["user"])
	require.NotEmpty(t, fields["event_id"])
}

func TestLogEventSink_ThrottlesPerEventType(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogEventSink(zap.New(core), WithEventRate(0.001, 2))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		sink.Emit(ctx, domain.EventLoginFailure, nil)
	}
	sink.Emit(ctx, domain.EventIPBlacklisted, nil)

	require.Equal(t, 3, logs.Len(), "burst of 2 for login failures plus 1 blacklist event")
	require.EqualValues(t, 3, sink.Dropped())
}
