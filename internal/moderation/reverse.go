package moderation

import (
	"context"
	"errors"
	"fmt"

	"bastion/internal/audit"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

// Unmute removes the muted role and any pending expiry. No record is written.
func (s *Service) Unmute(ctx context.Context, req Request) (Outcome, error) {
	if err := s.evaluator.Require(req.Moderator, privileges.Mute); err != nil {
		return Outcome{}, err
	}
	if s.cfg.MutedRoleID == "" {
		return Outcome{}, errors.New("muted role is not configured")
	}
	if req.TargetID == "" {
		return Outcome{}, status.Argument("a target user is required")
	}

	member, found, err := s.platform.Member(ctx, req.TargetID)
	if err != nil {
		return Outcome{}, fmt.Errorf("look up target: %w", err)
	}
	if !found {
		return Outcome{}, status.Argument("that user is not a member of this server")
	}
	pending, err := s.scheduler.Cancel(ctx, storage.KindMute, req.TargetID)
	if err != nil {
		return Outcome{}, fmt.Errorf("cancel mute expiry: %w", err)
	}
	muted := hasRole(member, s.cfg.MutedRoleID)
	if !muted && !pending {
		return Outcome{}, status.Argument("that user is not muted")
	}
	if muted {
		if err := s.platform.RemoveRole(ctx, req.TargetID, s.cfg.MutedRoleID, auditReason(req)); err != nil {
			if errors.Is(err, platform.ErrForbidden) {
				return Outcome{}, status.Permission("I am not allowed to remove the muted role")
			}
			return Outcome{}, fmt.Errorf("remove muted role: %w", err)
		}
	}

	s.audit.Log(ctx, audit.LevelInfo, req.TargetID, "unmute", fmt.Sprintf("moderator=%s reason=%q", req.Moderator.ID, req.Reason))
	return Outcome{Status: status.Success, Kind: storage.KindMute, TargetID: req.TargetID, verb: "unmuted"}, nil
}

// Unban lifts a ban. The pending expiry is dropped first, so "not banned"
// still leaves no schedule behind.
func (s *Service) Unban(ctx context.Context, req Request) (Outcome, error) {
	if err := s.evaluator.Require(req.Moderator, privileges.Ban); err != nil {
		return Outcome{}, err
	}
	if req.TargetID == "" {
		return Outcome{}, status.Argument("a target user is required")
	}
	if _, err := s.scheduler.Cancel(ctx, storage.KindBan, req.TargetID); err != nil {
		return Outcome{}, fmt.Errorf("cancel ban expiry: %w", err)
	}
	if err := s.platform.Unban(ctx, req.TargetID, auditReason(req)); err != nil {
		switch {
		case errors.Is(err, platform.ErrNotBanned):
			return Outcome{}, status.Argument("that user is probably not banned")
		case errors.Is(err, platform.ErrForbidden):
			return Outcome{}, status.Permission("I am not allowed to unban users")
		}
		return Outcome{}, fmt.Errorf("unban: %w", err)
	}

	s.audit.Log(ctx, audit.LevelInfo, req.TargetID, "unban", fmt.Sprintf("moderator=%s reason=%q", req.Moderator.ID, req.Reason))
	return Outcome{Status: status.Success, Kind: storage.KindBan, TargetID: req.TargetID, verb: "unbanned"}, nil
}

// Reverse undoes an expired mute or ban. A member who left or a ban that was
// already lifted counts as reversed.
func (s *Service) Reverse(ctx context.Context, kind storage.Kind, userID string) error {
	switch kind {
	case storage.KindMute:
		if s.cfg.MutedRoleID == "" {
			return errors.New("muted role is not configured")
		}
		member, found, err := s.platform.Member(ctx, userID)
		if err != nil {
			return fmt.Errorf("look up member: %w", err)
		}
		if !found || !hasRole(member, s.cfg.MutedRoleID) {
			s.logger.Debug("mute already gone", zap.String("user_id", userID), zap.Bool("member", found))
			return nil
		}
		return s.platform.RemoveRole(ctx, userID, s.cfg.MutedRoleID, "mute expired")
	case storage.KindBan:
		err := s.platform.Unban(ctx, userID, "ban expired")
		if errors.Is(err, platform.ErrNotBanned) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%s has no expiry", kind)
}

func hasRole(member platform.Member, roleID string) bool {
	for _, id := range member.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}
