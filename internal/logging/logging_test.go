package logging_test

import (
	"testing"

	"github.com/Tyrowin/relaychat/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := logging.New("warn", format)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logging.New("loud", "json")
	require.Error(t, err)
}
