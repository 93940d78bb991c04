package observ

import (
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

var (
	logMu  sync.RWMutex
	logger = zap.Must(zap.NewProduction())
)

// Init replaces the process logger. prod selects the JSON production
// encoder, otherwise a colored console encoder is used. The returned func
// flushes buffered entries.
func Init(prod bool) func() error {
	var l *zap.Logger
	if prod {
		l = zap.Must(zap.NewProduction())
	} else {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l = zap.Must(cfg.Build())
	}
	SetLogger(l)
	return l.Sync
}

// SetLogger swaps the logger used by Log. Tests use it with zaptest/observer cores.
func SetLogger(l *zap.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

func current() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// Log writes one structured event. Keys are emitted in sorted order so
// lines diff cleanly.
func Log(event string, kv map[string]any) {
	current().Info(event, fields(kv)...)
}

// Warn is Log at warning level.
func Warn(event string, kv map[string]any) {
	current().Warn(event, fields(kv)...)
}

func fields(kv map[string]any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}

// Slog exposes the current core as a *slog.Logger.
func Slog() *slog.Logger {
	return slog.New(zapslog.NewHandler(current().Core()))
}
