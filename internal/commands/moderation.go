package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bastion/internal/dispatch"
	"bastion/internal/moderation"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"
	"bastion/internal/utils"
)

const typingEvery = 5

func (h *handlers) warn(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, false)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Warn(ctx, req))
}

func (h *handlers) mute(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, true)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Mute(ctx, req))
}

func (h *handlers) kick(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, false)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Kick(ctx, req))
}

func (h *handlers) ban(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, true)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Ban(ctx, req))
}

func (h *handlers) unmute(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, false)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Unmute(ctx, req))
}

func (h *handlers) unban(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	req, err := request(inv, false)
	if err != nil {
		return status.Result{}, err
	}
	return result(h.deps.Moderation.Unban(ctx, req))
}

func (h *handlers) massban(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	var duration time.Duration
	args := inv.Args
	if len(args) > 0 && !utils.IsSnowflake(args[0]) && utils.LooksLikeDuration(args[0]) {
		d, err := parseDuration(args[0])
		if err != nil {
			return status.Result{}, err
		}
		duration = d
		args = args[1:]
	}
	var ids []string
	for len(args) > 0 {
		id, ok := utils.UserID(args[0])
		if !ok {
			break
		}
		ids = append(ids, id)
		args = args[1:]
	}
	if len(ids) == 0 {
		return status.Result{}, inv.UsageError()
	}
	reason := inv.Rest(len(inv.Args) - len(args))

	prompt := fmt.Sprintf("Ban **%d** users (%s)?", len(ids), utils.FormatDuration(duration))
	if reason != "" {
		prompt += "\nReason: " + reason
	}
	if err := inv.Confirm(ctx, prompt, moderation.Color(storage.KindBan)); err != nil {
		return status.Result{}, err
	}
	// roles may have changed while the prompt was open
	member, err := inv.ResolveMember(ctx, inv.Actor.ID)
	if err != nil {
		return status.Result{}, err
	}

	out, err := h.deps.Moderation.Massban(ctx, moderation.MassRequest{
		Moderator: privileges.Actor{ID: member.ID, RoleIDs: member.RoleIDs},
		TargetIDs: ids,
		Duration:  duration,
		Reason:    reason,
		Origin:    inv.Origin,
	}, func(i int) {
		if h.deps.Typing != nil && i%typingEvery == 0 {
			h.deps.Typing(inv.Message.ChannelID)
		}
	})
	if err != nil {
		return status.Result{}, err
	}
	return out.Result(), nil
}

// request reads `<user> [duration] [reason]`; the duration slot only exists
// when timed is set.
func request(inv *dispatch.Invocation, timed bool) (moderation.Request, error) {
	if err := inv.RequireArgs(1); err != nil {
		return moderation.Request{}, err
	}
	target, err := inv.ResolveUser(inv.Args[0])
	if err != nil {
		return moderation.Request{}, err
	}
	req := moderation.Request{Moderator: inv.Actor, TargetID: target, Origin: inv.Origin}
	next := 1
	if timed && len(inv.Args) > 1 && utils.LooksLikeDuration(inv.Args[1]) {
		d, err := parseDuration(inv.Args[1])
		if err != nil {
			return moderation.Request{}, err
		}
		req.Duration = d
		next = 2
	}
	req.Reason = inv.Rest(next)
	return req, nil
}

func parseDuration(token string) (time.Duration, error) {
	d, err := utils.ParseDuration(token)
	if errors.Is(err, utils.ErrDurationTooLong) {
		return 0, status.Usage("`%s` is longer than the longest supported duration, use `perm` for an indefinite one", token)
	}
	if err != nil {
		return 0, status.Usage("`%s` is not a valid duration", token)
	}
	return d, nil
}

func result(out moderation.Outcome, err error) (status.Result, error) {
	if err != nil {
		return status.Result{}, err
	}
	return out.Result(), nil
}
