package audit

import (
	"context"
	"time"

	"bastion/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

// Logger persists audit entries, mirrors them to zap and forwards them to an
// optional notifier (the staff log channel).
type Logger struct {
	sink    Sink
	logger  *zap.Logger
	guildID string
	notify  func(context.Context, storage.AuditLog)
}

func NewLogger(sink Sink, logger *zap.Logger, guildID string) *Logger {
	return &Logger{sink: sink, logger: logger, guildID: guildID}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   l.guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.sink != nil {
		if err := l.sink.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
