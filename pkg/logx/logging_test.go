package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	for in, want := range map[string]string{
		"":       "",
		"7":      "*",
		"42":     "**",
		"482913": "****13",
	} {
		assert.Equal(t, want, Mask(in), in)
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info").With(String("comp", "detector"))

	log.Debug("hidden")
	log.Info("otp detected", Secret("code", "482913"), Int("n", 2), Err(errors.New("boom")))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "otp detected", rec["message"])
	assert.Equal(t, "detector", rec["comp"])
	assert.Equal(t, "****13", rec["code"])
	assert.EqualValues(t, 2, rec["n"])
	assert.Equal(t, "boom", rec["err"])
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	assert.NotPanics(t, func() { log.Info("dropped", String("k", "v")) })
}
