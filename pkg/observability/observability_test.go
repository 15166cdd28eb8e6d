package observability

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), &Config{ServiceName: "tradecore-test"})
	require.NoError(t, err)

	// Recording on an inert provider must be safe.
	ctx := context.Background()
	p.RecordAppend(ctx, "ISSUED")
	p.RecordVerification(ctx, false)
	p.RecordAlert(ctx, "REPEATED_DISPUTE")
	p.RecordDuration(ctx, "verify", 15*time.Millisecond)

	_, span := p.StartSpan(ctx, "noop")
	span.End()

	assert.NoError(t, p.Shutdown(ctx))
}

func TestRecording_NilProviderIsNoop(t *testing.T) {
	var p *Provider
	ctx := context.Background()

	// Components that were wired without a provider must still be callable.
	p.RecordAppend(ctx, "ISSUED")
	p.RecordVerification(ctx, true)
	p.RecordAlert(ctx, "CRITICAL_RISK_USER")
	p.RecordDuration(ctx, "append", time.Millisecond)
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "tradecore", p.config.ServiceName)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewLogger_Levels(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := NewLogger("DEBUG")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = NewLogger("warn")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = NewLogger("bogus")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
