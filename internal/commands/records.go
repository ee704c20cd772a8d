package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"bastion/internal/dispatch"
	"bastion/internal/moderation"
	"bastion/internal/status"
	"bastion/internal/storage"
	"bastion/internal/utils"
)

func (h *handlers) history(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	if err := inv.RequireArgs(1); err != nil {
		return status.Result{}, err
	}
	userID, err := inv.ResolveUser(inv.Args[0])
	if err != nil {
		return status.Result{}, err
	}
	summary, err := h.deps.Analytics.Summary(ctx, userID, historyLimit)
	if err != nil {
		return status.Result{}, fmt.Errorf("load history: %w", err)
	}
	if summary.Total() == 0 {
		return status.Note("History", fmt.Sprintf("<@%s> has a clean record.", userID)), nil
	}

	counts := make([]string, 0, len(storage.Kinds))
	for _, kind := range storage.Kinds {
		counts = append(counts, fmt.Sprintf("%s: %d", kind, summary.Counts[kind]))
	}
	res := status.Note("History", fmt.Sprintf("<@%s>\n%s", userID, strings.Join(counts, " | ")))
	for _, rec := range summary.Recent {
		res.Details = append(res.Details, describe(rec))
	}
	return res, nil
}

func (h *handlers) clear(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	if err := inv.RequireArgs(2); err != nil {
		return status.Result{}, err
	}
	kind, ok := storage.ParseKind(strings.ToLower(inv.Args[0]))
	if !ok {
		return status.Result{}, status.Argument("`%s` is not a record kind", inv.Args[0])
	}
	userID, err := inv.ResolveUser(inv.Args[1])
	if err != nil {
		return status.Result{}, err
	}
	summary, err := h.deps.Analytics.Summary(ctx, userID, 0)
	if err != nil {
		return status.Result{}, fmt.Errorf("count records: %w", err)
	}
	count := summary.Counts[kind]
	if count == 0 {
		return status.Result{}, status.Argument("<@%s> has no %s records", userID, kind)
	}

	prompt := fmt.Sprintf("Delete **%d** %s records of <@%s>? This cannot be undone.", count, kind, userID)
	if err := inv.Confirm(ctx, prompt, moderation.Color(kind)); err != nil {
		return status.Result{}, err
	}
	removed, err := h.deps.Records.ClearRecords(ctx, kind, userID)
	if err != nil {
		return status.Result{}, fmt.Errorf("clear records: %w", err)
	}
	return status.Done("Records cleared", fmt.Sprintf("Deleted %d %s records of <@%s>.", removed, kind, userID)), nil
}

func (h *handlers) remove(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	if err := inv.RequireArgs(1); err != nil {
		return status.Result{}, err
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(inv.Args[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return status.Result{}, status.Argument("`%s` is not a record id", inv.Args[0])
	}
	rec, err := h.deps.Records.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return status.Result{}, status.Argument("record #%d does not exist", id)
		}
		return status.Result{}, fmt.Errorf("load record: %w", err)
	}
	if err := h.deps.Records.DeleteRecord(ctx, id); err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return status.Result{}, status.Argument("record #%d does not exist", id)
		}
		return status.Result{}, fmt.Errorf("delete record: %w", err)
	}
	return status.Done("Record removed", describe(rec)), nil
}

func (h *handlers) stats(ctx context.Context, inv *dispatch.Invocation) (status.Result, error) {
	days := 7
	if len(inv.Args) > 0 {
		n, err := strconv.Atoi(inv.Args[0])
		if err != nil || n <= 0 || n > 365 {
			return status.Result{}, status.Argument("days must be between 1 and 365")
		}
		days = n
	}
	since := h.deps.Now().AddDate(0, 0, -days)
	report, err := h.deps.Analytics.Report(ctx, inv.Message.GuildID, since)
	if err != nil {
		return status.Result{}, fmt.Errorf("audit report: %w", err)
	}

	res := status.Note(fmt.Sprintf("Audit log, last %d days", days), fmt.Sprintf(
		"%d entries: %d info, %d warn, %d crit",
		report.Total, report.ByLevel["INFO"], report.ByLevel["WARN"], report.ByLevel["CRIT"],
	))
	for _, event := range report.TopEvents(5) {
		res.Details = append(res.Details, fmt.Sprintf("%s: %d", event, report.ByEvent[event]))
	}
	return res, nil
}

func describe(rec storage.Record) string {
	line := fmt.Sprintf("#%d %s by <@%s> <t:%d:R>", rec.ID, rec.Kind, rec.ModeratorID, rec.CreatedAt.Unix())
	if rec.Kind == storage.KindMute || rec.Kind == storage.KindBan {
		line += " for " + utils.FormatDuration(rec.Duration)
	}
	if rec.Reason != "" {
		line += ": " + rec.Reason
	}
	return line
}
