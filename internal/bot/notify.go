package bot

import (
	"context"
	"time"

	"bastion/internal/storage"

	"go.uber.org/zap"
)

const auditWindow = 10 * time.Minute

// notifyAudit mirrors an audit entry to the log channel. Identical entries
// inside auditWindow edit the previous message and bump its count.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	channelID := b.cfg.Notifications.LogChannelID
	if channelID == "" || b.session == nil {
		return
	}
	colors := b.cfg.Notifications.EmbedColors
	key := entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID

	b.auditMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && time.Since(agg.lastAt) <= auditWindow {
		agg.count++
		agg.lastAt = time.Now()
		count, messageID := agg.count, agg.messageID
		b.auditMu.Unlock()
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, auditEmbed(colors, entry, count)); err == nil {
			return
		}
		b.auditMu.Lock()
		delete(b.auditAgg, key)
	}
	b.pruneAudit()
	b.auditMu.Unlock()

	msg, err := b.session.ChannelMessageSendEmbed(channelID, auditEmbed(colors, entry, 1))
	if err != nil || msg == nil {
		b.logger.Debug("audit channel send failed", zap.String("event", entry.Event), zap.Error(err))
		return
	}
	b.auditMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditMu.Unlock()
}

// pruneAudit drops aggregates older than the window. Callers hold auditMu.
func (b *Bot) pruneAudit() {
	for key, agg := range b.auditAgg {
		if time.Since(agg.lastAt) > auditWindow {
			delete(b.auditAgg, key)
		}
	}
}
