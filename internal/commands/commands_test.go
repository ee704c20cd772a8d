package commands

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"bastion/internal/analytics"
	"bastion/internal/audit"
	"bastion/internal/confirm"
	"bastion/internal/dispatch"
	"bastion/internal/moderation"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

const (
	guildID  = "100000000000000001"
	modID    = "200000000000000002"
	targetID = "300000000000000003"
	otherID  = "400000000000000004"
	modRole  = "500000000000000005"
)

type fakeModerator struct {
	mu       sync.Mutex
	requests []moderation.Request
	mass     []moderation.MassRequest
	kinds    []string
	progress int
}

func (f *fakeModerator) record(kind string, req moderation.Request) (moderation.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.requests = append(f.requests, req)
	return moderation.Outcome{Status: status.Success, TargetID: req.TargetID, RecordID: int64(len(f.requests))}, nil
}

func (f *fakeModerator) Warn(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("warn", req)
}

func (f *fakeModerator) Mute(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("mute", req)
}

func (f *fakeModerator) Kick(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("kick", req)
}

func (f *fakeModerator) Ban(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("ban", req)
}

func (f *fakeModerator) Unmute(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("unmute", req)
}

func (f *fakeModerator) Unban(_ context.Context, req moderation.Request) (moderation.Outcome, error) {
	return f.record("unban", req)
}

func (f *fakeModerator) Massban(_ context.Context, req moderation.MassRequest, progress func(int)) (moderation.MassOutcome, error) {
	f.mu.Lock()
	f.mass = append(f.mass, req)
	f.mu.Unlock()
	var out moderation.MassOutcome
	for i, id := range req.TargetIDs {
		progress(i)
		out.Banned = append(out.Banned, moderation.Outcome{Status: status.Success, TargetID: id})
	}
	return out, nil
}

type fakeResponder struct {
	replies []dispatch.Reply
}

func (f *fakeResponder) Reply(_ context.Context, _ dispatch.Message, reply dispatch.Reply) error {
	f.replies = append(f.replies, reply)
	return nil
}

func (f *fakeResponder) React(context.Context, dispatch.Message, string) error { return nil }

type fakeConfirmer struct {
	accept   bool
	prompts  []confirm.Prompt
	answered func()
}

func (f *fakeConfirmer) Request(_ context.Context, prompt confirm.Prompt) (confirm.Token, error) {
	f.prompts = append(f.prompts, prompt)
	if f.answered != nil {
		f.answered()
	}
	if !f.accept {
		return confirm.Token{}, &confirm.CanceledError{Prompt: prompt}
	}
	return confirm.Token{AuthorID: prompt.AuthorID}, nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	members map[string][]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{members: map[string][]string{
		modID:    {modRole},
		targetID: {modRole},
	}}
}

func (f *fakeDirectory) setRoles(userID string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[userID] = roles
}

func (f *fakeDirectory) leave(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, userID)
}

func (f *fakeDirectory) Member(_ context.Context, userID string) (platform.Member, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles, ok := f.members[userID]
	if !ok {
		return platform.Member{}, false, nil
	}
	return platform.Member{ID: userID, RoleIDs: append([]string(nil), roles...)}, true, nil
}

func (*fakeDirectory) RoleExists(context.Context, string) (bool, error)            { return true, nil }
func (*fakeDirectory) ChannelExists(context.Context, string) (bool, error)         { return true, nil }
func (*fakeDirectory) MessageExists(context.Context, string, string) (bool, error) { return true, nil }

type harness struct {
	pipeline  *dispatch.Pipeline
	moderator *fakeModerator
	responder *fakeResponder
	confirmer *fakeConfirmer
	directory *fakeDirectory
	store     *storage.Store
	evaluator *privileges.Evaluator
	typing    int
	loadRanks func() (privileges.Table, error)
}

func rankTable() privileges.Table {
	grants := map[privileges.Permission][]string{}
	for _, perm := range []privileges.Permission{privileges.Massban, privileges.History, privileges.Clear, privileges.Reload} {
		grants[perm] = []string{"moderator"}
	}
	return privileges.Table{
		Ranks:  []privileges.Rank{{Name: "moderator", Level: 5, Roles: []string{modRole}}},
		Grants: grants,
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	evaluator, err := privileges.NewEvaluator(rankTable())
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	h := &harness{
		moderator: &fakeModerator{},
		responder: &fakeResponder{},
		confirmer: &fakeConfirmer{accept: true},
		directory: newFakeDirectory(),
		store:     store,
		evaluator: evaluator,
	}
	h.loadRanks = func() (privileges.Table, error) { return rankTable(), nil }

	registry := dispatch.NewRegistry()
	Register(registry, Deps{
		Moderation: h.moderator,
		Analytics:  analytics.New(store),
		Records:    store,
		LoadRanks:  func() (privileges.Table, error) { return h.loadRanks() },
		Typing:     func(string) { h.typing++ },
		Now:        func() time.Time { return time.Now() },
	})
	logger := zap.NewNop()
	h.pipeline = dispatch.NewPipeline(dispatch.Options{Prefix: "!"}, registry, evaluator, h.confirmer, h.directory, h.directory, h.responder, audit.NewLogger(store, logger, guildID), logger)
	return h
}

func (h *harness) run(content string) dispatch.Reply {
	h.responder.replies = nil
	h.pipeline.Handle(context.Background(), dispatch.Message{
		ID:        "600000000000000006",
		GuildID:   guildID,
		ChannelID: "700000000000000007",
		Author:    privileges.Actor{ID: modID, RoleIDs: []string{modRole}},
		Content:   content,
	})
	if len(h.responder.replies) == 0 {
		return dispatch.Reply{}
	}
	return h.responder.replies[len(h.responder.replies)-1]
}

func TestMuteParsesDurationAndReason(t *testing.T) {
	h := newHarness(t)

	h.run("!mute <@" + targetID + "> 2h spamming links")
	h.run("!mute " + targetID + " being rude")

	reqs := h.moderator.requests
	if len(reqs) != 2 {
		t.Fatalf("expected two mutes, got %d", len(reqs))
	}
	if reqs[0].TargetID != targetID || reqs[0].Duration != 2*time.Hour || reqs[0].Reason != "spamming links" {
		t.Fatalf("unexpected first request %+v", reqs[0])
	}
	if reqs[1].Duration != 0 || reqs[1].Reason != "being rude" {
		t.Fatalf("unexpected second request %+v", reqs[1])
	}
	if !strings.Contains(reqs[0].Origin, "/700000000000000007/600000000000000006") {
		t.Fatalf("origin must link the invoking message, got %s", reqs[0].Origin)
	}
	if reqs[0].Moderator.ID != modID {
		t.Fatalf("moderator must be the invoking actor")
	}
}

func TestWarnIgnoresDurationSlot(t *testing.T) {
	h := newHarness(t)
	h.run("!warn " + targetID + " 2h late")
	if req := h.moderator.requests[0]; req.Duration != 0 || req.Reason != "2h late" {
		t.Fatalf("warn takes no duration, got %+v", req)
	}
}

func TestActionNeedsUser(t *testing.T) {
	h := newHarness(t)
	if reply := h.run("!kick"); reply.Kind != status.UsageError || !strings.Contains(reply.Body, "!kick <user>") {
		t.Fatalf("expected usage reply, got %+v", reply)
	}
	if reply := h.run("!ban someone"); reply.Kind != status.ArgumentError {
		t.Fatalf("expected argument reply, got %+v", reply)
	}
}

func TestMassbanConfirmsAndParses(t *testing.T) {
	h := newHarness(t)

	ids := []string{"800000000000000001", "800000000000000002", "800000000000000003", "800000000000000004", "800000000000000005", "800000000000000006"}
	reply := h.run("!massban 1d " + strings.Join(ids, " ") + " raid wave")

	if len(h.confirmer.prompts) != 1 || !strings.Contains(h.confirmer.prompts[0].Content, "**6**") {
		t.Fatalf("expected a confirmation for 6 users, got %+v", h.confirmer.prompts)
	}
	req := h.moderator.mass[0]
	if len(req.TargetIDs) != 6 || req.Duration != 24*time.Hour || req.Reason != "raid wave" {
		t.Fatalf("unexpected mass request %+v", req)
	}
	if h.typing != 2 {
		t.Fatalf("expected typing at 0 and 5, got %d", h.typing)
	}
	if reply.Kind != status.Success || reply.Body != "Banned 6 of 6 users." {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestMassbanUsesRolesAfterConfirmation(t *testing.T) {
	h := newHarness(t)
	h.confirmer.answered = func() { h.directory.setRoles(modID) }

	h.run("!massban 800000000000000001 800000000000000002")
	if len(h.moderator.mass) != 1 {
		t.Fatalf("expected one mass request, got %d", len(h.moderator.mass))
	}
	if req := h.moderator.mass[0]; req.Moderator.ID != modID || len(req.Moderator.RoleIDs) != 0 {
		t.Fatalf("moderator roles must be read after confirmation, got %+v", req.Moderator)
	}
}

func TestMassbanModeratorLeftDuringConfirmation(t *testing.T) {
	h := newHarness(t)
	h.confirmer.answered = func() { h.directory.leave(modID) }

	reply := h.run("!massban 800000000000000001")
	if reply.Kind != status.ArgumentError || len(h.moderator.mass) != 0 {
		t.Fatalf("a departed moderator must not ban anyone, reply=%+v", reply)
	}
}

func TestOverlongDurationIsRejected(t *testing.T) {
	h := newHarness(t)

	for _, content := range []string{
		"!mute " + targetID + " 30500w spam",
		"!ban " + targetID + " 213504d",
		"!mute " + targetID + " 0h noise",
	} {
		if reply := h.run(content); reply.Kind != status.UsageError {
			t.Fatalf("%q: expected usage error, got %+v", content, reply)
		}
	}
	if len(h.moderator.requests) != 0 {
		t.Fatalf("nothing may run, got %+v", h.moderator.requests)
	}

	if reply := h.run("!massban 40000w 800000000000000001"); reply.Kind != status.UsageError {
		t.Fatalf("expected usage error, got %+v", reply)
	}
	if len(h.confirmer.prompts) != 0 || len(h.moderator.mass) != 0 {
		t.Fatalf("an invalid massban must not prompt")
	}
}

func TestMassbanCanceled(t *testing.T) {
	h := newHarness(t)
	h.confirmer.accept = false

	reply := h.run("!massban " + targetID)
	if reply.Kind != status.Canceled || len(h.moderator.mass) != 0 {
		t.Fatalf("cancel must stop the batch, reply=%+v", reply)
	}
}

func TestHistoryAndRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if reply := h.run("!history " + otherID); reply.Kind != status.Info || !strings.Contains(reply.Body, "clean record") {
		t.Fatalf("expected clean record, got %+v", reply)
	}

	id, _ := h.store.RecordAction(ctx, storage.Record{Kind: storage.KindMute, ModeratorID: modID, TargetID: otherID, Duration: time.Hour, Reason: "noise"}, nil)
	reply := h.run("!history <@" + otherID + ">")
	if !strings.Contains(reply.Body, "mute: 1") || len(reply.Details) != 1 || !strings.Contains(reply.Details[0], "for 1h: noise") {
		t.Fatalf("unexpected history %+v", reply)
	}

	if reply := h.run("!remove #999"); reply.Kind != status.ArgumentError {
		t.Fatalf("expected missing record error, got %+v", reply)
	}
	if reply := h.run("!remove " + strconv.FormatInt(id, 10)); reply.Kind != status.Success {
		t.Fatalf("expected removal, got %+v", reply)
	}
	if _, err := h.store.GetRecord(ctx, id); !errors.Is(err, storage.ErrRecordNotFound) {
		t.Fatalf("record must be gone, got %v", err)
	}
}

func TestClearConfirmsFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = h.store.RecordAction(ctx, storage.Record{Kind: storage.KindWarn, ModeratorID: modID, TargetID: otherID}, nil)
	}

	h.confirmer.accept = false
	if reply := h.run("!clear warn " + otherID); reply.Kind != status.Canceled {
		t.Fatalf("expected cancel, got %+v", reply)
	}
	if records, _ := h.store.ListRecords(ctx, otherID, 0); len(records) != 3 {
		t.Fatalf("canceled clear must keep records")
	}

	h.confirmer.accept = true
	if reply := h.run("!clear warn " + otherID); reply.Kind != status.Success || !strings.Contains(reply.Body, "Deleted 3") {
		t.Fatalf("expected clear, got %+v", reply)
	}
	if reply := h.run("!clear strike " + otherID); reply.Kind != status.ArgumentError {
		t.Fatalf("expected unknown kind error, got %+v", reply)
	}
}

func TestRanksAndReload(t *testing.T) {
	h := newHarness(t)

	if reply := h.run("!ranks"); !strings.Contains(reply.Body, "level 5: moderator") {
		t.Fatalf("unexpected ranks reply %+v", reply)
	}
	if reply := h.run("!ranks " + otherID); reply.Kind != status.ArgumentError {
		t.Fatalf("non-member lookup should fail, got %+v", reply)
	}

	h.loadRanks = func() (privileges.Table, error) {
		table := rankTable()
		table.Grants["bogus"] = []string{"moderator"}
		return table, nil
	}
	if reply := h.run("!reload"); reply.Kind != status.ArgumentError || !strings.Contains(reply.Body, "invalid") {
		t.Fatalf("invalid table must be rejected, got %+v", reply)
	}
	if got := h.evaluator.RankLevel(privileges.Actor{RoleIDs: []string{modRole}}); got != 5 {
		t.Fatalf("rejected reload must keep the old table, got level %d", got)
	}

	h.loadRanks = func() (privileges.Table, error) { return rankTable(), nil }
	if reply := h.run("!reload"); reply.Kind != status.Success {
		t.Fatalf("expected reload, got %+v", reply)
	}
}

func TestStatsAndHelp(t *testing.T) {
	h := newHarness(t)
	h.run("!kick " + targetID)

	reply := h.run("!stats 1")
	if reply.Kind != status.Info || !strings.HasPrefix(reply.Title, "Audit log") {
		t.Fatalf("unexpected stats %+v", reply)
	}
	if reply := h.run("!stats zero"); reply.Kind != status.ArgumentError {
		t.Fatalf("expected argument error, got %+v", reply)
	}
	if reply := h.run("!help"); len(reply.Details) != 14 {
		t.Fatalf("expected every command listed, got %d", len(reply.Details))
	}
}
