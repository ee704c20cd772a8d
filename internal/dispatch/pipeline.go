package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"bastion/internal/audit"
	"bastion/internal/confirm"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	Author    privileges.Actor
	AuthorBot bool
	Content   string
}

// Reply is what the responder renders. Internal replies carry no detail.
type Reply struct {
	Kind     status.Kind
	Internal bool
	Title    string
	Body     string
	Details  []string
}

type Responder interface {
	Reply(ctx context.Context, msg Message, reply Reply) error
	React(ctx context.Context, msg Message, glyph string) error
}

type Confirmer interface {
	Request(ctx context.Context, prompt confirm.Prompt) (confirm.Token, error)
}

type MemberLookup interface {
	Member(ctx context.Context, userID string) (platform.Member, bool, error)
}

type Options struct {
	Prefix    string
	RateLimit rate.Limit
	Burst     int
}

const internalGlyph = "❗"

type Pipeline struct {
	prefix    string
	registry  *Registry
	evaluator *privileges.Evaluator
	confirmer Confirmer
	members   MemberLookup
	directory platform.Directory
	responder Responder
	audit     *audit.Logger
	logger    *zap.Logger
	limiter   *limiter
}

func NewPipeline(opts Options, registry *Registry, evaluator *privileges.Evaluator, confirmer Confirmer, members MemberLookup, directory platform.Directory, responder Responder, auditLogger *audit.Logger, logger *zap.Logger) *Pipeline {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "!"
	}
	return &Pipeline{
		prefix:    prefix,
		registry:  registry,
		evaluator: evaluator,
		confirmer: confirmer,
		members:   members,
		directory: directory,
		responder: responder,
		audit:     auditLogger,
		logger:    logger,
		limiter:   newLimiter(opts.RateLimit, opts.Burst),
	}
}

// Handle runs one message through the pipeline. Messages without the prefix
// or naming an unknown command are ignored.
func (p *Pipeline) Handle(ctx context.Context, msg Message) {
	if msg.AuthorBot || msg.GuildID == "" {
		return
	}
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, p.prefix) {
		return
	}
	body := strings.TrimSpace(content[len(p.prefix):])
	name, rest := body, ""
	if idx := strings.IndexFunc(body, unicode.IsSpace); idx >= 0 {
		name, rest = body[:idx], body[idx:]
	}
	cmd, ok := p.registry.Lookup(name)
	if !ok {
		return
	}

	inv := &Invocation{
		Command:  cmd,
		Name:     strings.ToLower(name),
		Actor:    msg.Author,
		Message:  msg,
		Origin:   utils.MessageURL(msg.GuildID, msg.ChannelID, msg.ID),
		pipeline: p,
	}
	if !p.limiter.Allow(msg.Author.ID) {
		p.finish(ctx, inv, status.Result{}, status.Cooldown("you are sending commands too quickly"))
		return
	}
	args, err := Tokenize(rest)
	if err != nil {
		p.finish(ctx, inv, status.Result{}, status.Usage("%v in `%s%s`", err, p.prefix, cmd.Usage))
		return
	}
	inv.Args = args

	res, err := p.run(ctx, inv)
	p.finish(ctx, inv, res, err)
}

func (p *Pipeline) run(ctx context.Context, inv *Invocation) (res status.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", inv.Command.Name, r)
			p.logger.Error("command panic", zap.String("command", inv.Command.Name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	if inv.Command.Permission != "" {
		if err := inv.Require(inv.Command.Permission); err != nil {
			return status.Result{}, err
		}
	}
	return inv.Command.Handler(ctx, inv)
}

func (p *Pipeline) finish(ctx context.Context, inv *Invocation, res status.Result, err error) {
	fields := []zap.Field{
		zap.String("command", inv.Command.Name),
		zap.String("actor_id", inv.Actor.ID),
		zap.String("channel_id", inv.Message.ChannelID),
	}

	var reply Reply
	var glyph string
	var se *status.Error
	switch {
	case err == nil:
		reply = Reply{Kind: res.Kind, Title: res.Title, Body: res.Body, Details: res.Details}
		glyph = res.Kind.Glyph()
	case errors.As(err, &se):
		reply = Reply{Kind: se.Kind, Title: title(se.Kind), Body: se.Message}
		glyph = se.Kind.Glyph()
	default:
		p.logger.Error("command failed", append(fields, zap.Error(err))...)
		reply = Reply{Internal: true, Title: "Something went wrong", Body: "An unexpected error occurred while running this command."}
		glyph = internalGlyph
	}

	if reply.Title != "" || reply.Body != "" {
		if rerr := p.responder.Reply(ctx, inv.Message, reply); rerr != nil {
			p.logger.Warn("reply failed", append(fields, zap.Error(rerr))...)
		}
	}
	if rerr := p.responder.React(ctx, inv.Message, glyph); rerr != nil {
		p.logger.Debug("reaction failed", append(fields, zap.Error(rerr))...)
	}
	p.auditLine(ctx, inv, reply)
}

func (p *Pipeline) auditLine(ctx context.Context, inv *Invocation, reply Reply) {
	details := fmt.Sprintf("command=%s channel=%s origin=%s", inv.Command.Name, inv.Message.ChannelID, inv.Origin)
	switch {
	case reply.Internal:
		p.audit.Log(ctx, audit.LevelCrit, inv.Actor.ID, "command_failed", details)
	case reply.Kind == status.PermissionError:
		p.audit.Log(ctx, audit.LevelWarn, inv.Actor.ID, "command_denied", details+" reason="+reply.Body)
	case reply.Kind == status.PartialSuccess:
		p.audit.Log(ctx, audit.LevelWarn, inv.Actor.ID, "command_partial", details+" failures="+strings.Join(reply.Details, "; "))
	}
}

func title(kind status.Kind) string {
	switch kind {
	case status.PermissionError:
		return "Missing permissions"
	case status.ArgumentError:
		return "Invalid argument"
	case status.UsageError:
		return "Usage"
	case status.CooldownError:
		return "Slow down"
	case status.Canceled:
		return "Canceled"
	case status.Info:
		return "Info"
	default:
		return "Done"
	}
}
