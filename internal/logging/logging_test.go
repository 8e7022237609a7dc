package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "json")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	log, err = New("warn", "console")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.WarnLevel))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("chatty", "json")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestExitCodeFlushesBeforeExit(t *testing.T) {
	buf := &zaptest.Buffer{}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), buf, zap.DebugLevel)
	log := zap.New(core)

	assert.Equal(t, 1, ExitCode(log, errors.New("broker unreachable")))
	assert.True(t, buf.Called())
	lines := buf.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"msg":"fatal"`)
	assert.Contains(t, lines[0], "broker unreachable")

	clean := &zaptest.Buffer{}
	log = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), clean, zap.DebugLevel))
	assert.Equal(t, 0, ExitCode(log, nil))
	assert.True(t, clean.Called())
	assert.Empty(t, clean.Lines())
}
