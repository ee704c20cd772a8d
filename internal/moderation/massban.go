package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bastion/internal/audit"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

type MassRequest struct {
	Moderator privileges.Actor
	TargetIDs []string
	Duration  time.Duration
	Reason    string
	Origin    string
}

type Skip struct {
	TargetID string
	Reason   string
}

// MassOutcome is what a massban got through. Remaining counts the ids that
// were never attempted because the batch was stopped.
type MassOutcome struct {
	Banned    []Outcome
	Skipped   []Skip
	Remaining int
}

func (o MassOutcome) Result() status.Result {
	kind := status.Success
	var details []string
	if o.Remaining > 0 {
		kind = status.PartialSuccess
		details = append(details, fmt.Sprintf("stopped early, %d users were not attempted", o.Remaining))
	}
	for _, banned := range o.Banned {
		if banned.Status == status.PartialSuccess {
			kind = status.PartialSuccess
			details = append(details, fmt.Sprintf("%s: %s", banned.TargetID, strings.Join(banned.Failures, "; ")))
		}
	}
	for _, skip := range o.Skipped {
		details = append(details, fmt.Sprintf("%s skipped: %s", skip.TargetID, skip.Reason))
	}
	title := "Massban finished"
	if o.Remaining > 0 {
		title = "Massban stopped"
	}
	return status.Result{
		Kind:    kind,
		Title:   title,
		Body:    fmt.Sprintf("Banned %d of %d users.", len(o.Banned), len(o.Banned)+len(o.Skipped)+o.Remaining),
		Details: details,
	}
}

// Massban bans every id it can. The massban permission is checked once; a
// failure for one id skips that id and the batch carries on. progress is
// called with each index before its id is attempted. A canceled ctx stops
// the batch; what was already banned is still returned and audited.
func (s *Service) Massban(ctx context.Context, req MassRequest, progress func(int)) (MassOutcome, error) {
	if err := s.evaluator.Require(req.Moderator, privileges.Massban); err != nil {
		return MassOutcome{}, err
	}
	ids := dedupe(req.TargetIDs)
	if len(ids) == 0 {
		return MassOutcome{}, status.Argument("no user ids given")
	}

	var out MassOutcome
	for i, id := range ids {
		if ctx.Err() != nil {
			out.Remaining = len(ids) - i
			break
		}
		if progress != nil {
			progress(i)
		}
		banned, err := s.act(ctx, policies[storage.KindBan], Request{
			Moderator: req.Moderator,
			TargetID:  id,
			Duration:  req.Duration,
			Reason:    req.Reason,
			Origin:    req.Origin,
			Silent:    true,
		}, false)
		if err != nil {
			out.Skipped = append(out.Skipped, Skip{TargetID: id, Reason: skipReason(err)})
			s.logger.Debug("massban skipped user", zap.String("user_id", id), zap.Error(err))
			continue
		}
		out.Banned = append(out.Banned, banned)
	}

	s.audit.Log(context.WithoutCancel(ctx), audit.LevelCrit, req.Moderator.ID, "massban", fmt.Sprintf(
		"banned=%d skipped=%d remaining=%d reason=%q", len(out.Banned), len(out.Skipped), out.Remaining, req.Reason,
	))
	return out, nil
}

func skipReason(err error) string {
	var se *status.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "unexpected error"
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
