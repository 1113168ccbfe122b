package engine

import (
	"io"

	"github.com/rs/zerolog"

	"ocrserver/internal/infra"
)

func ensureLogger(l *infra.Logger) *infra.Logger {
	if l != nil {
		return l
	}
	discard := zerolog.New(io.Discard)
	logger := infra.Logger(discard)
	return &logger
}
