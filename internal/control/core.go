package control

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// NewCore returns a zap core that publishes every enabled entry as a log
// line. Tee it with the regular core so operator-facing lines and the
// structured log never diverge.
func NewCore(c *Channel, level zapcore.LevelEnabler) zapcore.Core {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "msg",
		ConsoleSeparator: " ",
		LineEnding:       "\n",
	})
	return zapcore.NewCore(enc, zapcore.AddSync(channelWriter{c}), level)
}

type channelWriter struct {
	c *Channel
}

func (w channelWriter) Write(p []byte) (int, error) {
	if line := strings.TrimSpace(string(p)); line != "" {
		w.c.Log(line)
	}
	return len(p), nil
}
