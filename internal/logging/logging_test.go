package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		l, err := New("warn", "json")
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("console default", func(t *testing.T) {
		l, err := New("debug", "")
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New("loud", "json")
		assert.Error(t, err)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New("info", "xml")
		assert.Error(t, err)
	})
}
