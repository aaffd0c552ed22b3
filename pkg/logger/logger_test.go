package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLoggerLevel(t *testing.T) {
	t.Cleanup(Nop)

	require.NoError(t, InitLogger("release", "warn"))
	assert.False(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log.Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitLogger("debug", ""))
	assert.True(t, Log.Core().Enabled(zapcore.DebugLevel))

	assert.Error(t, InitLogger("debug", "loud"))
}
