package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/audit"
	"bastion/internal/commands"
	"bastion/internal/config"
	"bastion/internal/confirm"
	"bastion/internal/dispatch"
	"bastion/internal/expiry"
	"bastion/internal/moderation"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	session   *discordgo.Session
	platform  *platform.Discord
	expiry    *expiry.Manager
	broker    *confirm.Broker
	pipeline  *dispatch.Pipeline
	jobs      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	auditAgg  map[string]*auditAggregate
	auditMu   sync.Mutex
	prompts   map[string]string
	promptsMu sync.Mutex
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, evaluator *privileges.Evaluator, auditLogger *audit.Logger, analyticsSvc *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		audit:    auditLogger,
		session:  session,
		platform: platform.NewDiscord(session, cfg.GuildID),
		ctx:      ctx,
		cancel:   cancel,
		auditAgg: make(map[string]*auditAggregate),
		prompts:  make(map[string]string),
	}

	b.expiry = expiry.NewManager(store, auditLogger, logger.Named("expiry"), cfg.Moderation.ExpirySlack())
	mod := moderation.NewService(store, b.platform, evaluator, b.expiry, auditLogger, logger.Named("moderation"), moderation.Config{
		GuildName:   cfg.Moderation.GuildName,
		MutedRoleID: cfg.Moderation.MutedRoleID,
		Notify:      cfg.Moderation.NotifyTargets,
	})
	b.expiry.SetReverser(mod)
	b.broker = confirm.New(b, cfg.Moderation.ConfirmTimeout(), logger.Named("confirm"))

	registry := dispatch.NewRegistry()
	commands.Register(registry, commands.Deps{
		Moderation: mod,
		Analytics:  analyticsSvc,
		Records:    store,
		LoadRanks: func() (privileges.Table, error) {
			return config.LoadRanks(cfg.RanksPath)
		},
		Typing: b.typing,
	})
	b.pipeline = dispatch.NewPipeline(dispatch.Options{
		Prefix:    cfg.Prefix,
		RateLimit: rate.Limit(cfg.RateLimit.PerSecond),
		Burst:     cfg.RateLimit.Burst,
	}, registry, evaluator, b.broker, b.platform, b.platform, b, auditLogger, logger.Named("dispatch"))

	if err := b.scheduleJobs(); err != nil {
		cancel()
		return nil, err
	}

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

// Start connects to the gateway, re-arms persisted expiries and starts the
// background jobs.
func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	armed, err := b.expiry.Recover(b.ctx)
	if err != nil {
		return fmt.Errorf("recover expiries: %w", err)
	}
	b.logger.Info("expiries recovered", zap.Int("armed", armed))

	b.jobs.Start()
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	b.cancel()
	select {
	case <-b.jobs.Stop().Done():
	case <-ctx.Done():
		b.logger.Warn("background jobs still running at shutdown")
	}
	b.expiry.Stop()
	if b.session != nil {
		_ = b.session.Close()
	}
}

// Pending reports armed expiries and open confirmation prompts.
func (b *Bot) Pending() (expiries, confirmations int) {
	return b.expiry.Pending(), b.broker.Pending()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.GuildID != b.cfg.GuildID {
		return
	}
	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}
	b.pipeline.Handle(b.ctx, dispatch.Message{
		ID:        msg.ID,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		Author:    privileges.Actor{ID: msg.Author.ID, RoleIDs: roles},
		AuthorBot: msg.Author.Bot,
		Content:   msg.Content,
	})
}

func (b *Bot) typing(channelID string) {
	if err := b.session.ChannelTyping(channelID); err != nil {
		b.logger.Debug("typing indicator failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}
