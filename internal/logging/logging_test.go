package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_JSON(t *testing.T) {
	logger := log.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, &buf, "debug", "json"))

	logger.WithField("runId", "scenario-1a2b3c4d").Debug("started")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "started", line["msg"])
	assert.Equal(t, "scenario-1a2b3c4d", line["runId"])
	assert.Equal(t, "debug", line["level"])
}

func TestConfigure_TextFiltersLevel(t *testing.T) {
	logger := log.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, &buf, "warn", "text"))

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigure_Invalid(t *testing.T) {
	assert.Error(t, configure(log.New(), &bytes.Buffer{}, "loud", "text"))
	assert.Error(t, configure(log.New(), &bytes.Buffer{}, "info", "xml"))
}
