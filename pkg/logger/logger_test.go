package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "granola.log")
	require.NoError(t, Init(Config{Level: "debug", OutputFile: path, DisableConsole: true}))
	defer Close()

	assert.Equal(t, path, GetCurrentLogFile())
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.WithField("component", "test").Infof("[测试] hello %d", 42)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[测试] hello 42")
	assert.Contains(t, string(b), "component=test")
	assert.False(t, strings.Contains(string(b), "\x1b["), "file output must not contain color codes")
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "loud", DisableConsole: true}))
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
	assert.Empty(t, GetCurrentLogFile())
}
