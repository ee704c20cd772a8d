package commands

import (
	"context"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/dispatch"
	"bastion/internal/moderation"
	"bastion/internal/privileges"
	"bastion/internal/storage"
)

const historyLimit = 10

// Moderator is the action surface the moderation commands drive.
type Moderator interface {
	Warn(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
	Mute(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
	Kick(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
	Ban(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
	Massban(ctx context.Context, req moderation.MassRequest, progress func(int)) (moderation.MassOutcome, error)
	Unmute(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
	Unban(ctx context.Context, req moderation.Request) (moderation.Outcome, error)
}

type RecordStore interface {
	GetRecord(ctx context.Context, id int64) (storage.Record, error)
	DeleteRecord(ctx context.Context, id int64) error
	ClearRecords(ctx context.Context, kind storage.Kind, targetID string) (int64, error)
}

type Deps struct {
	Moderation Moderator
	Analytics  *analytics.Service
	Records    RecordStore
	// LoadRanks re-reads the rank table for the reload command.
	LoadRanks func() (privileges.Table, error)
	// Typing, when set, is called while long batches run.
	Typing func(channelID string)
	Now    func() time.Time
}

// Register adds every command to the registry.
func Register(registry *dispatch.Registry, deps Deps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{deps: deps}
	registry.MustRegister(
		dispatch.Command{Name: "warn", Usage: "warn <user> [reason]", Summary: "Warn a member", Handler: h.warn},
		dispatch.Command{Name: "mute", Usage: "mute <user> [duration] [reason]", Summary: "Give a member the muted role", Handler: h.mute},
		dispatch.Command{Name: "kick", Usage: "kick <user> [reason]", Summary: "Remove a member from the server", Handler: h.kick},
		dispatch.Command{Name: "ban", Usage: "ban <user> [duration] [reason]", Summary: "Ban a member or user id", Handler: h.ban},
		dispatch.Command{Name: "massban", Usage: "massban [duration] <user>... [reason]", Summary: "Ban many user ids at once", Permission: privileges.Massban, Handler: h.massban},
		dispatch.Command{Name: "unmute", Usage: "unmute <user> [reason]", Summary: "Lift a mute", Handler: h.unmute},
		dispatch.Command{Name: "unban", Usage: "unban <user> [reason]", Summary: "Lift a ban", Handler: h.unban},
		dispatch.Command{Name: "history", Aliases: []string{"infractions"}, Usage: "history <user>", Summary: "Show a user's moderation records", Permission: privileges.History, Handler: h.history},
		dispatch.Command{Name: "clear", Usage: "clear <warn|mute|kick|ban> <user>", Summary: "Delete every record of one kind for a user", Permission: privileges.Clear, Handler: h.clear},
		dispatch.Command{Name: "remove", Usage: "remove <record id>", Summary: "Delete one record", Permission: privileges.Clear, Handler: h.remove},
		dispatch.Command{Name: "stats", Usage: "stats [days]", Summary: "Summarize the audit log", Permission: privileges.History, Handler: h.stats},
		dispatch.Command{Name: "ranks", Usage: "ranks [user]", Summary: "Show effective ranks", Handler: h.ranks},
		dispatch.Command{Name: "reload", Usage: "reload", Summary: "Reload the rank table", Permission: privileges.Reload, Handler: h.reload},
		dispatch.Command{Name: "help", Usage: "help", Summary: "List commands", Handler: h.help},
	)
}

type handlers struct {
	deps Deps
}
