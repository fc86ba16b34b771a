package telemetry

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/AStrangerGravity/com.unity.xr.openxr/core"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSinkMode(t *testing.T) {
	tests := []struct {
		input    string
		expected SinkMode
		wantErr  bool
	}{
		{"production", SinkModeProduction, false},
		{" Editor ", SinkModeEditor, false},
		{"disabled", SinkModeDisabled, false},
		{"", SinkModeDisabled, false},
		{"staging", SinkModeDisabled, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseSinkMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, mode)
		})
	}

	assert.Equal(t, "production", SinkModeProduction.String())
	assert.Equal(t, "editor", SinkModeEditor.String())
	assert.Equal(t, "disabled", SinkModeDisabled.String())
}

func TestNewSinkSelectsAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		cfg := core.DefaultConfig()
		sink, mode, err := NewSink(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, SinkModeDisabled, mode)
		assert.IsType(t, NoopSink{}, sink)
		assert.False(t, sink.Enabled())
		assert.Equal(t, ResultAnalyticsDisabled, sink.RegisterEvent(ctx, InitializeCategory))
		assert.Equal(t, ResultAnalyticsDisabled, sink.Send(ctx, EventInitialize, countPayload(1)))
		assert.NoError(t, sink.Close())
	})

	t.Run("production", func(t *testing.T) {
		server := newCollectorServer(t)
		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeProduction
		cfg.Collector.Endpoint = server.URL

		sink, mode, err := NewSink(ctx, cfg, WithSinkHTTPClient(http.DefaultClient))
		require.NoError(t, err)
		defer sink.Close()
		assert.Equal(t, SinkModeProduction, mode)
		collector, ok := sink.(*CollectorSink)
		require.True(t, ok)
		assert.Equal(t, CircuitClosed, collector.CircuitState())
	})

	t.Run("editor", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeEditor
		cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

		sink, mode, err := NewSink(ctx, cfg)
		require.NoError(t, err)
		defer sink.Close()
		assert.Equal(t, SinkModeEditor, mode)
		assert.IsType(t, &JournalSink{}, sink)
	})

	t.Run("redis limiter", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeEditor
		cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
		cfg.RateLimit.Backend = core.RateLimitBackendRedis
		cfg.RateLimit.RedisURL = "redis://" + mr.Addr()

		sink, _, err := NewSink(ctx, cfg)
		require.NoError(t, err)
		defer sink.Close()

		journal := sink.(*JournalSink)
		assert.IsType(t, &RedisWindowLimiter{}, journal.limiter)

		emitter := NewEmitter(sink, scenarioRuntime())
		emitter.SendInitializeEvent(true)

		mr.Select(1)
		assert.True(t, mr.Exists(RedisLimiterNamespace+":"+windowKey(InitializeCategory)))
	})
}

func TestNewSinkErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown mode", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Mode = "staging"
		_, _, err := NewSink(ctx, cfg)
		assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))
	})

	t.Run("production without endpoint", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeProduction
		_, _, err := NewSink(ctx, cfg)
		assert.True(t, errors.Is(err, core.ErrMissingConfiguration))
	})

	t.Run("unknown limiter backend", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeEditor
		cfg.RateLimit.Backend = "memcached"
		_, _, err := NewSink(ctx, cfg)
		assert.True(t, errors.Is(err, core.ErrInvalidConfiguration))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := core.DefaultConfig()
		cfg.Mode = core.ModeEditor
		cfg.RateLimit.Backend = core.RateLimitBackendRedis
		cfg.RateLimit.RedisURL = "redis://" + addr
		_, _, err := NewSink(ctx, cfg)
		assert.True(t, errors.Is(err, core.ErrConnectionFailed))
	})
}

func TestNewEmitterFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := core.DefaultConfig()
	cfg.Mode = core.ModeEditor
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")

	emitter, sink, err := NewEmitterFromConfig(ctx, cfg, scenarioRuntime(), nil)
	require.NoError(t, err)
	defer sink.Close()

	emitter.SendInitializeEvent(true)
	entries, err := sink.(*JournalSink).Events(ctx, EventInitialize)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "editor", emitter.Health().Mode)

	t.Run("test support", func(t *testing.T) {
		cfg.TestSupport = true
		emitter, sink, err := NewEmitterFromConfig(ctx, cfg, scenarioRuntime(), nil)
		require.NoError(t, err)
		defer sink.Close()

		assert.False(t, emitter.EnsureRegistered())
		assert.True(t, emitter.Health().TestSupport)
	})
}
