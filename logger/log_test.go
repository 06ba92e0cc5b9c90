package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	prev := Level()
	t.Cleanup(func() { _ = SetLevel(prev) })

	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, "warn", Level())
	assert.False(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, With().Core().Enabled(zapcore.ErrorLevel))

	require.NoError(t, SetLevel("debug"))
	assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, "debug", Level())
}
