package logging

import (
	"bytes"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  log.Level
	}{
		{"debug", log.DebugLevel},
		{"INFO", log.InfoLevel},
		{" warn ", log.WarnLevel},
		{"error", log.ErrorLevel},
		{"nonsense", log.InfoLevel},
		{"", log.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func TestSetupWriterJSON(t *testing.T) {
	prev := log.Log
	defer func() { log.Log = prev }()

	var buf bytes.Buffer
	logger := SetupWriter(&buf, "warn", "json")

	logger.Info("dropped")
	logger.WithField("key", "a.zip").Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped", "info is filtered at warn level")
	assert.Contains(t, out, `"key":"a.zip"`)
	assert.Same(t, logger, log.Log, "Setup replaces the default logger")
}
