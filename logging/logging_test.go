package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"WARN":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
		"":      logrus.InfoLevel,
		"loud":  logrus.InfoLevel,
	}
	for level, expected := range cases {
		t.Run(level, func(t *testing.T) {
			logger := NewWithOutput(&bytes.Buffer{}, level, FormatText)
			assert.Equal(t, expected, logger.GetLevel())
		})
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "info", "JSON")
	logger.WithField("iteration", 3).Info("iteration complete")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "iteration complete", line["msg"])
	assert.Equal(t, 3.0, line["iteration"])
	assert.Equal(t, "info", line["level"])
}

func TestUnknownLevelIsReported(t *testing.T) {
	var buf bytes.Buffer
	NewWithOutput(&buf, "loud", FormatText)
	assert.Contains(t, buf.String(), "unknown log level")
}
