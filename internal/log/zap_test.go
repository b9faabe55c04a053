package log

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := WrapZap(zap.New(core)).With(String("component", "ledger"))

	logger.Log(context.Background(), LevelInfo, "transfer completed", String("transfer_id", "tr-1"))
	logger.Log(context.Background(), LevelDebug, "dropped")
	logger.Log(context.Background(), LevelError, "transfer failed", Err(errors.New("boom")))

	require.Equal(t, 2, logs.Len())

	first := logs.All()[0]
	assert.Equal(t, "transfer completed", first.Message)
	assert.Equal(t, "ledger", first.ContextMap()["component"])
	assert.Equal(t, "tr-1", first.ContextMap()["transfer_id"])

	second := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, second.Level)
	assert.Contains(t, second.ContextMap()["error"], "boom")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
