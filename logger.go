package imgsieve

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with imgsieve-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithSession adds a session token field to the logger.
func (l *Logger) WithSession(token string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", token),
	}
}

// WithBucket adds a bucket id field to the logger.
func (l *Logger) WithBucket(id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("bucket_id", id),
	}
}

// WithCollection adds a collection path field to the logger.
func (l *Logger) WithCollection(dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("collection", dir),
	}
}

// LogRound logs one interaction round.
func (l *Logger) LogRound(ctx context.Context, mode string, nFeedback, nSuggs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "interaction round failed",
			"mode", mode,
			"n_feedback", nFeedback,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "interaction round completed",
			"mode", mode,
			"n_feedback", nFeedback,
			"n_suggestions", nSuggs,
		)
	}
}

// LogTransfer logs an image transfer between buckets.
func (l *Logger) LogTransfer(ctx context.Context, src, dst int, mode string, nImages int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "transfer failed",
			"src", src,
			"dst", dst,
			"mode", mode,
			"n_images", nImages,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "transfer completed",
			"src", src,
			"dst", dst,
			"mode", mode,
			"n_images", nImages,
		)
	}
}

// LogFastForward logs a fast-forward stage or commit.
func (l *Logger) LogFastForward(ctx context.Context, bucketID int, stage string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "fast-forward failed",
			"bucket_id", bucketID,
			"stage", stage,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "fast-forward "+stage,
			"bucket_id", bucketID,
		)
	}
}

// LogOpen logs a collection open.
func (l *Logger) LogOpen(ctx context.Context, dir string, nImages int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "collection open failed",
			"collection", dir,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "collection opened",
			"collection", dir,
			"n_images", nImages,
		)
	}
}
