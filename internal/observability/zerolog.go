package observability

import "github.com/rs/zerolog/log"

// ZerologLogger adapts the process-wide zerolog logger to the Logger port.
type ZerologLogger struct{}

func (ZerologLogger) Info(msg string, fields map[string]any) {
	log.Info().Fields(fields).Msg(msg)
}

func (ZerologLogger) Warn(msg string, fields map[string]any) {
	log.Warn().Fields(fields).Msg(msg)
}

func (ZerologLogger) Error(msg string, fields map[string]any) {
	log.Error().Fields(fields).Msg(msg)
}

func (ZerologLogger) Debug(msg string, fields map[string]any) {
	log.Debug().Fields(fields).Msg(msg)
}

var _ Logger = ZerologLogger{}
