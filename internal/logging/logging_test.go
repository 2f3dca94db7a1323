package logging

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, log.InfoLevel, ParseLevel("nonsense"))
	assert.Equal(t, log.InfoLevel, ParseLevel(""))
}

func TestNewRespectsLevel(t *testing.T) {
	t.Setenv("DEBUG", "")
	var buf bytes.Buffer
	l := New(&buf, "warn")

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("chunk skipped", "index", 3)
	assert.Contains(t, buf.String(), "chunk skipped")
	assert.Contains(t, buf.String(), "index=3")
}

func TestNewDebugEnv(t *testing.T) {
	t.Setenv("DEBUG", "1")
	var buf bytes.Buffer
	l := New(&buf, "error")
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing happens")
}
