package commands

import (
	"context"
	"fmt"
	"strings"

	"bastion/internal/dispatch"
	"bastion/internal/privileges"
	"bastion/internal/status"
)

func (h *handlers) ranks(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	actor := inv.Actor
	if len(inv.Args) > 0 {
		member, err := inv.ResolveMember(ctx, inv.Args[0])
		if err != nil {
			return status.Result{}, err
		}
		actor = privileges.Actor{ID: member.ID, RoleIDs: member.RoleIDs}
	}

	evaluator := inv.Evaluator()
	names := evaluator.Ranks(actor)
	if len(names) == 0 {
		return status.Note("Ranks", fmt.Sprintf("<@%s> holds no rank (level 0).", actor.ID)), nil
	}
	return status.Note("Ranks", fmt.Sprintf(
		"<@%s> is level %d: %s",
		actor.ID, evaluator.RankLevel(actor), strings.Join(names, ", "),
	)), nil
}

func (h *handlers) reload(_ context.Context, inv *dispatch.Invocation) (status.Result, error) {
	if h.deps.LoadRanks == nil {
		return status.Result{}, fmt.Errorf("rank reloading is not configured")
	}
	table, err := h.deps.LoadRanks()
	if err != nil {
		return status.Result{}, status.Argument("could not read the rank table: %v", err)
	}
	if err := inv.Evaluator().Reload(table); err != nil {
		return status.Result{}, status.Argument("the rank table is invalid: %v", err)
	}
	return status.Done("Ranks reloaded", fmt.Sprintf("Loaded %d ranks.", len(table.Ranks))), nil
}

func (h *handlers) help(_ context.Context, inv *dispatch.Invocation) (status.Result, error) {
	res := status.Note("Commands", "")
	for _, cmd := range inv.Registry().Commands() {
		res.Details = append(res.Details, fmt.Sprintf("`%s%s` %s", inv.Prefix(), cmd.Usage, cmd.Summary))
	}
	return res, nil
}
