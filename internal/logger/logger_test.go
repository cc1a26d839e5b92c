package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, DebugLevel, LevelFromString("debug"))
	assert.Equal(t, InfoLevel, LevelFromString("info"))
	assert.Equal(t, WarnLevel, LevelFromString("warn"))
	assert.Equal(t, ErrorLevel, LevelFromString("error"))
	assert.Equal(t, WarnLevel, LevelFromString("unknown"))
}

func TestSetLogLevelDistinguishesWarnAndError(t *testing.T) {
	Init(false, false, true)

	SetLogLevel(LevelFromString("warn"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// "error" must suppress warnings, not share the warn default.
	SetLogLevel(LevelFromString("error"))
	assert.Equal(t, zerolog.ErrorLevel, zerolog.GlobalLevel())
}
