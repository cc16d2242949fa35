package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging builds the application logger writing to stdout and, when
// cfg.LogDir is set, to an appended file in that directory. gin's default
// writers share the same sink. Caller should close the returned io.Closer and
// sync the logger on shutdown.
func SetupLogging(cfg Config, filename string) (*zap.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.LogDir != "" {
		if filename == "" {
			filename = "app.log"
		}
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log dir %s: %w", cfg.LogDir, err)
		}
		path := filepath.Join(cfg.LogDir, filename)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	gin.DefaultWriter = out
	gin.DefaultErrorWriter = out

	return NewLogger(cfg, out), closer, nil
}

// NewLogger returns a zap logger encoding to w: JSON in production, console otherwise.
func NewLogger(cfg Config, w io.Writer) *zap.Logger {
	var (
		encCfg  zapcore.EncoderConfig
		encoder zapcore.Encoder
		level   = zapcore.DebugLevel
	)
	if cfg.Production() {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
		level = zapcore.InfoLevel
	} else {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller())
}
