package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStdoutOnly(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	l.Info("hidden")
	l.WithField("symbol", "BTCUSDT").Warn("stop amend failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "symbol=BTCUSDT")
	assert.Empty(t, l.Path())
}

func TestNewWithFile(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "bogus", Dir: t.TempDir(), Output: &buf})
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	l.Info("cycle complete")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.Contains(content, "SESSION STARTED"))
	assert.True(t, strings.Contains(content, "cycle complete"))
	assert.True(t, strings.Contains(content, "SESSION ENDED"))
}
