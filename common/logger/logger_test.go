package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLeveledOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(zerolog.New(&buf).Level(zerolog.DebugLevel))
	t.Cleanup(func() {
		SetOutput(zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel))
	})

	Debugf("debug %d", 1)
	Infof("info %s", "line")
	Warnf("warn %s", "line")
	Errorf("error %s", "line")

	out := buf.String()
	assert.Contains(t, out, "debug 1")
	assert.Contains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestSetLevelSuppressesBelow(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(zerolog.New(&buf).Level(zerolog.DebugLevel))
	t.Cleanup(func() {
		SetOutput(zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel))
	})

	SetLevel(LevelError)
	Infof("hidden")
	Errorf("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}
