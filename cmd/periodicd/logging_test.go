package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(logConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(logConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Debug("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := newLogger(logConfig{Level: "loud"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "log.level")

	_, err = newLogger(logConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "log.format")
}
