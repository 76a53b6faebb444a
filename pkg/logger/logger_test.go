package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewJSONCarriesComponent(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json"}).Named("raffle")
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithField("round", 3).Debug("round closed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "raffle", line["component"])
	assert.Equal(t, "round closed", line["msg"])
	assert.EqualValues(t, 3, line["round"])
}

func TestLevelFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "chatty"})
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}

func TestFileOutputUsesRotation(t *testing.T) {
	w := outputFor(LoggingConfig{Output: "file", FilePrefix: t.TempDir() + "/svc"})
	rot, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, 100, rot.MaxSize)
	assert.Contains(t, rot.Filename, "svc.log")
}
