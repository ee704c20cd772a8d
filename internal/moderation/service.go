package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bastion/internal/audit"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"
	"bastion/internal/utils"

	"go.uber.org/zap"
)

type Store interface {
	RecordAction(ctx context.Context, rec storage.Record, expiresAt *time.Time) (int64, error)
}

// Scheduler arms and cancels automatic undos. Implemented by expiry.Manager.
type Scheduler interface {
	Arm(kind storage.Kind, userID string, at time.Time)
	Disarm(kind storage.Kind, userID string)
	Cancel(ctx context.Context, kind storage.Kind, userID string) (bool, error)
}

type Config struct {
	GuildName   string
	MutedRoleID string
	// Notify sends the target a private notice unless the request is silent.
	Notify bool
}

type Request struct {
	Moderator privileges.Actor
	TargetID  string
	Duration  time.Duration
	Reason    string
	Origin    string
	Silent    bool
}

// Outcome describes a completed action. Status is Success or PartialSuccess;
// Failures lists the effects that did not happen after the record was written.
type Outcome struct {
	Status    status.Kind
	Kind      storage.Kind
	RecordID  int64
	TargetID  string
	Duration  time.Duration
	ExpiresAt *time.Time
	Notified  bool
	Failures  []string
	verb      string
}

func (o Outcome) Result() status.Result {
	var body strings.Builder
	fmt.Fprintf(&body, "<@%s> was %s.", o.TargetID, o.verb)
	if o.RecordID > 0 {
		fmt.Fprintf(&body, " Record #%d.", o.RecordID)
	}
	if o.ExpiresAt != nil {
		fmt.Fprintf(&body, "\nExpires <t:%d:R>.", o.ExpiresAt.Unix())
	}
	if o.RecordID > 0 && !o.Notified {
		body.WriteString("\nThe user was not notified.")
	}
	title := "User " + o.verb
	if o.Status == status.PartialSuccess {
		title += " with errors"
	}
	return status.Result{Kind: o.Status, Title: title, Body: body.String(), Details: o.Failures}
}

type Service struct {
	store     Store
	platform  platform.Platform
	evaluator *privileges.Evaluator
	scheduler Scheduler
	audit     *audit.Logger
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(store Store, plat platform.Platform, evaluator *privileges.Evaluator, scheduler Scheduler, auditLogger *audit.Logger, logger *zap.Logger, cfg Config) *Service {
	return &Service{
		store:     store,
		platform:  plat,
		evaluator: evaluator,
		scheduler: scheduler,
		audit:     auditLogger,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *Service) WithNow(now func() time.Time) {
	s.now = now
}

func (s *Service) Warn(ctx context.Context, req Request) (Outcome, error) {
	return s.act(ctx, policies[storage.KindWarn], req, true)
}

func (s *Service) Mute(ctx context.Context, req Request) (Outcome, error) {
	return s.act(ctx, policies[storage.KindMute], req, true)
}

func (s *Service) Kick(ctx context.Context, req Request) (Outcome, error) {
	return s.act(ctx, policies[storage.KindKick], req, true)
}

// Ban accepts ids of users who are not in the guild.
func (s *Service) Ban(ctx context.Context, req Request) (Outcome, error) {
	return s.act(ctx, policies[storage.KindBan], req, true)
}

func (s *Service) act(ctx context.Context, p policy, req Request, checkPermission bool) (Outcome, error) {
	if !p.timed {
		req.Duration = 0
	}
	if req.Duration < 0 {
		return Outcome{}, status.Argument("duration must not be negative")
	}
	if p.kind == storage.KindMute && s.cfg.MutedRoleID == "" {
		return Outcome{}, errors.New("muted role is not configured")
	}

	_, isMember, err := s.authorize(ctx, p, req, checkPermission)
	if err != nil {
		return Outcome{}, err
	}

	now := s.now()
	var expiresAt *time.Time
	if p.timed && req.Duration > 0 {
		at := now.Add(req.Duration)
		expiresAt = &at
	}
	id, err := s.store.RecordAction(ctx, storage.Record{
		Kind:        p.kind,
		CreatedAt:   now,
		ModeratorID: req.Moderator.ID,
		TargetID:    req.TargetID,
		Duration:    req.Duration,
		Reason:      req.Reason,
		Origin:      req.Origin,
	}, expiresAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("record %s: %w", p.kind, err)
	}
	switch {
	case expiresAt != nil:
		s.scheduler.Arm(p.kind, req.TargetID, *expiresAt)
	case p.timed:
		s.scheduler.Disarm(p.kind, req.TargetID)
	}

	out := Outcome{
		Status:    status.Success,
		Kind:      p.kind,
		RecordID:  id,
		TargetID:  req.TargetID,
		Duration:  req.Duration,
		ExpiresAt: expiresAt,
		verb:      p.verb,
	}
	notify := s.cfg.Notify && !req.Silent && isMember
	if notify && p.notifyFirst {
		s.notify(ctx, p, req, &out)
	}
	if err := s.enforce(ctx, p, req); err != nil {
		s.logger.Warn("enforcement failed", zap.String("kind", string(p.kind)), zap.String("user_id", req.TargetID), zap.Error(err))
		out.Failures = append(out.Failures, fmt.Sprintf("could not apply the %s on the server: %v", p.kind, err))
	}
	if notify && !p.notifyFirst {
		s.notify(ctx, p, req, &out)
	}
	if len(out.Failures) > 0 {
		out.Status = status.PartialSuccess
	}

	s.audit.Log(ctx, audit.LevelWarn, req.TargetID, string(p.kind), fmt.Sprintf(
		"record=%d moderator=%s duration=%s reason=%q status=%s",
		id, req.Moderator.ID, utils.FormatDuration(req.Duration), req.Reason, out.Status,
	))
	return out, nil
}

// authorize runs permission, hierarchy, immunity and platform checks in that
// order. Nothing has been written when it fails.
func (s *Service) authorize(ctx context.Context, p policy, req Request, checkPermission bool) (platform.Member, bool, error) {
	if req.TargetID == "" {
		return platform.Member{}, false, status.Argument("a target user is required")
	}
	if req.TargetID == req.Moderator.ID {
		return platform.Member{}, false, status.Argument("you cannot %s yourself", p.kind)
	}
	if checkPermission {
		if err := s.evaluator.Require(req.Moderator, p.permission); err != nil {
			return platform.Member{}, false, err
		}
	}

	member, found, err := s.platform.Member(ctx, req.TargetID)
	if err != nil {
		return platform.Member{}, false, fmt.Errorf("look up target: %w", err)
	}
	if !found {
		if !p.memberOptional {
			return platform.Member{}, false, status.Argument("that user is not a member of this server")
		}
		return platform.Member{}, false, s.evaluator.AssertHierarchy(req.Moderator, privileges.Actor{ID: req.TargetID})
	}

	target := privileges.Actor{ID: member.ID, RoleIDs: member.RoleIDs}
	if err := s.evaluator.AssertHierarchy(req.Moderator, target); err != nil {
		return platform.Member{}, false, err
	}
	immune, err := s.evaluator.HasPermission(target, privileges.Immunity)
	if err != nil {
		return platform.Member{}, false, err
	}
	if immune {
		return platform.Member{}, false, status.Permission("that user is immune to moderation")
	}
	if p.removes {
		ok, err := s.platform.Manageable(ctx, req.TargetID)
		if err != nil {
			return platform.Member{}, false, fmt.Errorf("check manageable: %w", err)
		}
		if !ok {
			return platform.Member{}, false, status.Permission("I am not allowed to %s that user on this server", p.kind)
		}
	}
	return member, true, nil
}

func (s *Service) enforce(ctx context.Context, p policy, req Request) error {
	reason := auditReason(req)
	switch p.kind {
	case storage.KindMute:
		return s.platform.AddRole(ctx, req.TargetID, s.cfg.MutedRoleID, reason)
	case storage.KindKick:
		return s.platform.Kick(ctx, req.TargetID, reason)
	case storage.KindBan:
		return s.platform.Ban(ctx, req.TargetID, reason)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, p policy, req Request, out *Outcome) {
	title := p.title
	if s.cfg.GuildName != "" {
		title += " in " + s.cfg.GuildName
	}
	var body strings.Builder
	reason := req.Reason
	if reason == "" {
		reason = "No reason given"
	}
	fmt.Fprintf(&body, "**Reason:** %s", reason)
	if p.timed {
		fmt.Fprintf(&body, "\n**Duration:** %s", utils.FormatDuration(req.Duration))
	}

	err := s.platform.Notify(ctx, req.TargetID, platform.Notice{Title: title, Body: body.String(), Color: p.color})
	if err == nil {
		out.Notified = true
		return
	}
	s.logger.Debug("notification failed", zap.String("user_id", req.TargetID), zap.Error(err))
	if p.effect {
		out.Failures = append(out.Failures, "could not notify the user")
	}
}

func auditReason(req Request) string {
	reason := fmt.Sprintf("by %s", req.Moderator.ID)
	if req.Reason != "" {
		reason += ": " + req.Reason
	}
	return reason
}
