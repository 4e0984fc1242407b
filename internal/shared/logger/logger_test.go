package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestFromContext(t *testing.T) {
	l := zap.NewNop()
	ctx := ToContext(context.Background(), l)

	assert.Same(t, l, From(ctx))
	assert.NotNil(t, From(context.Background()))
}

func TestBuildFormats(t *testing.T) {
	assert.NotNil(t, build(Config{Format: "prod", Level: "debug", ServiceName: "console"}))
	assert.NotNil(t, build(Config{Format: "dev"}))
}
