package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bastion/internal/audit"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/storage"

	"go.uber.org/zap"
)

const (
	roleMod   = "role-mod"
	roleAdmin = "role-admin"
	roleHelp  = "role-helper"
	roleVIP   = "role-vip"
	roleMuted = "role-muted"
)

type fakePlatform struct {
	mu           sync.Mutex
	onBan        func(userID string)
	members      map[string]platform.Member
	banned       map[string]bool
	unmanageable map[string]bool
	notifyErr    error
	roleErr      error
	calls        []string
	notices      map[string][]platform.Notice
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		members:      map[string]platform.Member{},
		banned:       map[string]bool{},
		unmanageable: map[string]bool{},
		notices:      map[string][]platform.Notice{},
	}
}

func (f *fakePlatform) add(id string, roles ...string) {
	f.members[id] = platform.Member{ID: id, RoleIDs: roles}
}

func (f *fakePlatform) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakePlatform) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakePlatform) Member(_ context.Context, userID string) (platform.Member, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[userID]
	if !ok {
		return platform.Member{}, false, nil
	}
	member.RoleIDs = append([]string(nil), member.RoleIDs...)
	return member, true, nil
}

func (f *fakePlatform) Manageable(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unmanageable[userID], nil
}

func (f *fakePlatform) AddRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("add_role:" + userID)
	if f.roleErr != nil {
		return f.roleErr
	}
	member := f.members[userID]
	member.RoleIDs = append(member.RoleIDs, roleID)
	f.members[userID] = member
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove_role:" + userID)
	member := f.members[userID]
	kept := member.RoleIDs[:0]
	for _, id := range member.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	member.RoleIDs = kept
	f.members[userID] = member
	return nil
}

func (f *fakePlatform) Kick(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("kick:" + userID)
	delete(f.members, userID)
	return nil
}

func (f *fakePlatform) Ban(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ban:" + userID)
	f.banned[userID] = true
	delete(f.members, userID)
	if f.onBan != nil {
		f.onBan(userID)
	}
	return nil
}

func (f *fakePlatform) Unban(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unban:" + userID)
	if !f.banned[userID] {
		return platform.ErrNotBanned
	}
	delete(f.banned, userID)
	return nil
}

func (f *fakePlatform) Notify(_ context.Context, userID string, notice platform.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("notify:" + userID)
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notices[userID] = append(f.notices[userID], notice)
	return nil
}

type armCall struct {
	kind   storage.Kind
	userID string
	at     time.Time
}

type fakeScheduler struct {
	store    *storage.Store
	armed    []armCall
	disarmed []armCall
}

func (f *fakeScheduler) Arm(kind storage.Kind, userID string, at time.Time) {
	f.armed = append(f.armed, armCall{kind: kind, userID: userID, at: at})
}

func (f *fakeScheduler) Disarm(kind storage.Kind, userID string) {
	f.disarmed = append(f.disarmed, armCall{kind: kind, userID: userID})
}

func (f *fakeScheduler) Cancel(ctx context.Context, kind storage.Kind, userID string) (bool, error) {
	return f.store.DeleteExpiry(ctx, kind, userID)
}

type fixture struct {
	service   *Service
	store     *storage.Store
	platform  *fakePlatform
	scheduler *fakeScheduler
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	evaluator, err := privileges.NewEvaluator(privileges.Table{
		Ranks: []privileges.Rank{
			{Name: "admin", Level: 10, Roles: []string{roleAdmin}},
			{Name: "moderator", Level: 5, Roles: []string{roleMod}},
			{Name: "helper", Level: 2, Roles: []string{roleHelp}},
			{Name: "vip", Level: 1, Roles: []string{roleVIP}},
		},
		Grants: map[privileges.Permission][]string{
			privileges.Warn:     {"moderator", "admin"},
			privileges.Mute:     {"moderator", "admin"},
			privileges.Kick:     {"moderator", "admin"},
			privileges.Ban:      {"moderator", "admin"},
			privileges.Massban:  {"admin"},
			privileges.Immunity: {"vip"},
		},
	})
	if err != nil {
		t.Fatalf("evaluator: %v", err)
	}

	plat := newFakePlatform()
	plat.add("mod", roleMod)
	plat.add("admin", roleAdmin)
	plat.add("target", roleHelp)
	plat.add("peer", roleMod)
	plat.add("vip", roleVIP)

	logger := zap.NewNop()
	scheduler := &fakeScheduler{store: store}
	service := NewService(store, plat, evaluator, scheduler, audit.NewLogger(store, logger, "g1"), logger, Config{
		GuildName:   "Test Guild",
		MutedRoleID: roleMuted,
		Notify:      true,
	})
	now := time.Unix(1_700_000_000, 0)
	service.WithNow(func() time.Time { return now })
	return &fixture{service: service, store: store, platform: plat, scheduler: scheduler, now: now}
}

var (
	moderator = privileges.Actor{ID: "mod", RoleIDs: []string{roleMod}}
	admin     = privileges.Actor{ID: "admin", RoleIDs: []string{roleAdmin}}
)

func TestWarnWritesRecordAndNotifies(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	out, err := fx.service.Warn(ctx, Request{Moderator: moderator, TargetID: "target", Reason: "spam", Origin: "https://discord.com/channels/1/2/3"})
	if err != nil {
		t.Fatalf("warn: %v", err)
	}
	if out.Status != status.Success || !out.Notified {
		t.Fatalf("unexpected outcome %+v", out)
	}

	records, _ := fx.store.ListRecords(ctx, "target", 0)
	if len(records) != 1 || records[0].Kind != storage.KindWarn || records[0].Duration != 0 || records[0].Reason != "spam" {
		t.Fatalf("expected one warn record, got %+v", records)
	}
	notices := fx.platform.notices["target"]
	if len(notices) != 1 || !strings.Contains(notices[0].Body, "spam") {
		t.Fatalf("expected one notice mentioning spam, got %+v", notices)
	}
}

func TestWarnNotificationFailureIsNotPartial(t *testing.T) {
	fx := newFixture(t)
	fx.platform.notifyErr = errors.New("cannot send messages to this user")

	out, err := fx.service.Warn(context.Background(), Request{Moderator: moderator, TargetID: "target"})
	if err != nil {
		t.Fatalf("warn: %v", err)
	}
	if out.Status != status.Success || out.Notified {
		t.Fatalf("warn must stay a success, got %+v", out)
	}
}

func TestMuteSameRankFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "peer", Duration: time.Hour})
	if !status.Is(err, status.PermissionError) || !strings.Contains(err.Error(), "same rank") {
		t.Fatalf("expected same rank permission error, got %v", err)
	}
	if records, _ := fx.store.ListRecords(ctx, "peer", 0); len(records) != 0 {
		t.Fatalf("no record may be written, got %+v", records)
	}
	if fx.platform.called("add_role:peer") {
		t.Fatalf("muted role must not be applied")
	}
}

func TestMuteNotificationFailureIsPartial(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.platform.notifyErr = errors.New("dms closed")

	out, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target", Duration: 3600 * time.Second, Reason: "r"})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if out.Status != status.PartialSuccess {
		t.Fatalf("expected partial success, got %+v", out)
	}

	records, _ := fx.store.ListRecords(ctx, "target", 0)
	if len(records) != 1 || records[0].Duration != 3600*time.Second {
		t.Fatalf("expected one mute record of an hour, got %+v", records)
	}
	rows, _ := fx.store.ListExpiries(ctx, storage.KindMute)
	if len(rows) != 1 || !rows[0].ExpiresAt.Equal(fx.now.Add(time.Hour)) {
		t.Fatalf("expected one expiry an hour out, got %+v", rows)
	}
	if !fx.platform.called("add_role:target") {
		t.Fatalf("muted role must be applied regardless of notification")
	}
	if len(fx.scheduler.armed) != 1 {
		t.Fatalf("expected the expiry to be armed, got %+v", fx.scheduler.armed)
	}
}

func TestIndefiniteMuteSchedulesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target"}); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if rows, _ := fx.store.ListExpiries(ctx, storage.KindMute); len(rows) != 0 {
		t.Fatalf("indefinite mute must not create an expiry, got %+v", rows)
	}
	if len(fx.scheduler.armed) != 0 {
		t.Fatalf("nothing may be armed")
	}
}

func TestSecondTimedMuteOverwritesExpiry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, _ = fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target", Duration: time.Hour})
	_, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target", Duration: 3 * time.Hour})
	if err != nil {
		t.Fatalf("second mute: %v", err)
	}
	rows, _ := fx.store.ListExpiries(ctx, storage.KindMute)
	if len(rows) != 1 || !rows[0].ExpiresAt.Equal(fx.now.Add(3*time.Hour)) {
		t.Fatalf("expected one updated expiry, got %+v", rows)
	}
	if records, _ := fx.store.ListRecords(ctx, "target", 0); len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
}

func TestPermanentMuteReplacesTimedMute(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target", Duration: time.Hour}); err != nil {
		t.Fatalf("timed mute: %v", err)
	}
	out, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target"})
	if err != nil {
		t.Fatalf("permanent mute: %v", err)
	}
	if out.ExpiresAt != nil {
		t.Fatalf("permanent mute must not expire, got %v", out.ExpiresAt)
	}
	if rows, _ := fx.store.ListExpiries(ctx, storage.KindMute); len(rows) != 0 {
		t.Fatalf("permanent mute must clear the pending expiry, got %+v", rows)
	}
	if len(fx.scheduler.disarmed) != 1 || fx.scheduler.disarmed[0].kind != storage.KindMute || fx.scheduler.disarmed[0].userID != "target" {
		t.Fatalf("expected the mute timer to be dropped, got %+v", fx.scheduler.disarmed)
	}
}

func TestPermanentBanReplacesTimedBan(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.Ban(ctx, Request{Moderator: moderator, TargetID: "stranger", Duration: 24 * time.Hour}); err != nil {
		t.Fatalf("timed ban: %v", err)
	}
	if _, err := fx.service.Ban(ctx, Request{Moderator: moderator, TargetID: "stranger"}); err != nil {
		t.Fatalf("permanent ban: %v", err)
	}
	if _, found, _ := fx.store.GetExpiry(ctx, storage.KindBan, "stranger"); found {
		t.Fatalf("permanent ban must clear the pending expiry")
	}
	if len(fx.scheduler.disarmed) != 1 {
		t.Fatalf("expected the ban timer to be dropped, got %+v", fx.scheduler.disarmed)
	}
}

func TestImmuneTargetIsRejected(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.Warn(context.Background(), Request{Moderator: moderator, TargetID: "vip"})
	if !status.Is(err, status.PermissionError) || !strings.Contains(err.Error(), "immune") {
		t.Fatalf("expected immunity error, got %v", err)
	}
}

func TestMissingPermissionWritesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	helper := privileges.Actor{ID: "helper", RoleIDs: []string{roleHelp}}

	_, err := fx.service.Kick(ctx, Request{Moderator: helper, TargetID: "vip"})
	if !status.Is(err, status.PermissionError) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if fx.platform.called("kick:vip") {
		t.Fatalf("kick must not run")
	}
}

func TestSelfTargetIsRejected(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.Ban(context.Background(), Request{Moderator: moderator, TargetID: "mod"})
	if !status.Is(err, status.ArgumentError) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func TestKickRunsWhenNotificationFails(t *testing.T) {
	fx := newFixture(t)
	fx.platform.notifyErr = errors.New("boom")

	out, err := fx.service.Kick(context.Background(), Request{Moderator: moderator, TargetID: "target"})
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if !fx.platform.called("notify:target") || !fx.platform.called("kick:target") {
		t.Fatalf("expected notify then kick, got %v", fx.platform.calls)
	}
	if fx.platform.calls[0] != "notify:target" {
		t.Fatalf("notification must precede the kick, got %v", fx.platform.calls)
	}
	if out.Status != status.PartialSuccess {
		t.Fatalf("expected partial success, got %+v", out)
	}
}

func TestKickUnmanageableTarget(t *testing.T) {
	fx := newFixture(t)
	fx.platform.unmanageable["target"] = true

	_, err := fx.service.Kick(context.Background(), Request{Moderator: moderator, TargetID: "target"})
	if !status.Is(err, status.PermissionError) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestBanRunsWhenNotificationFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.platform.notifyErr = errors.New("boom")

	out, err := fx.service.Ban(ctx, Request{Moderator: moderator, TargetID: "target", Duration: 24 * time.Hour})
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !fx.platform.called("ban:target") || out.Status != status.PartialSuccess {
		t.Fatalf("ban must still run, calls=%v outcome=%+v", fx.platform.calls, out)
	}
	if _, found, _ := fx.store.GetExpiry(ctx, storage.KindBan, "target"); !found {
		t.Fatalf("expected a ban expiry")
	}
}

func TestBanNonMember(t *testing.T) {
	fx := newFixture(t)

	out, err := fx.service.Ban(context.Background(), Request{Moderator: moderator, TargetID: "stranger"})
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if out.Status != status.Success || !fx.platform.called("ban:stranger") {
		t.Fatalf("unexpected outcome %+v calls=%v", out, fx.platform.calls)
	}
	if fx.platform.called("notify:stranger") {
		t.Fatalf("non-members are not notified")
	}
}

func TestMassbanContinuesPastFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.platform.add("t1")
	fx.platform.add("t3")

	var progress []int
	out, err := fx.service.Massban(ctx, MassRequest{
		Moderator: admin,
		TargetIDs: []string{"t1", "vip", "t3", "t1"},
		Reason:    "raid",
	}, func(i int) { progress = append(progress, i) })
	if err != nil {
		t.Fatalf("massban: %v", err)
	}
	if len(out.Banned) != 2 || len(out.Skipped) != 1 || out.Skipped[0].TargetID != "vip" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(progress) != 3 {
		t.Fatalf("expected progress for each unique id, got %v", progress)
	}
	for _, id := range []string{"t1", "t3"} {
		records, _ := fx.store.ListRecords(ctx, id, 0)
		if len(records) != 1 || records[0].Kind != storage.KindBan {
			t.Fatalf("expected one ban record for %s, got %+v", id, records)
		}
	}
	if fx.platform.called("notify:t1") {
		t.Fatalf("massban does not notify")
	}
}

func TestMassbanStopsOnCancel(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.platform.onBan = func(string) { cancel() }

	out, err := fx.service.Massban(ctx, MassRequest{
		Moderator: admin,
		TargetIDs: []string{"s1", "s2", "s3"},
		Reason:    "raid",
	}, nil)
	if err != nil {
		t.Fatalf("a stopped massban still reports its outcome, got %v", err)
	}
	if len(out.Banned) != 1 || out.Banned[0].TargetID != "s1" || out.Remaining != 2 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	result := out.Result()
	if result.Kind != status.PartialSuccess || result.Body != "Banned 1 of 3 users." {
		t.Fatalf("unexpected result %+v", result)
	}

	logs, err := fx.store.ListAuditLogs(context.Background(), "g1", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Event == "massban" && strings.Contains(entry.Details, "banned=1") && strings.Contains(entry.Details, "remaining=2") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a massban audit entry, got %+v", logs)
	}
}

func TestMassbanRequiresPermission(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.Massban(context.Background(), MassRequest{Moderator: moderator, TargetIDs: []string{"target"}}, nil)
	if !status.Is(err, status.PermissionError) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestUnmuteClearsRoleAndExpiry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.service.Mute(ctx, Request{Moderator: moderator, TargetID: "target", Duration: time.Hour}); err != nil {
		t.Fatalf("mute: %v", err)
	}
	out, err := fx.service.Unmute(ctx, Request{Moderator: moderator, TargetID: "target"})
	if err != nil || out.Status != status.Success {
		t.Fatalf("unmute: %+v %v", out, err)
	}
	if _, found, _ := fx.store.GetExpiry(ctx, storage.KindMute, "target"); found {
		t.Fatalf("expiry must be deleted")
	}
	if !fx.platform.called("remove_role:target") {
		t.Fatalf("muted role must be removed")
	}
	if _, err := fx.service.Unmute(ctx, Request{Moderator: moderator, TargetID: "target"}); !status.Is(err, status.ArgumentError) {
		t.Fatalf("second unmute should report not muted, got %v", err)
	}
}

func TestUnbanNotBanned(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_ = fx.store.UpsertExpiry(ctx, storage.KindBan, "ghost", fx.now.Add(time.Hour))

	_, err := fx.service.Unban(ctx, Request{Moderator: moderator, TargetID: "ghost"})
	if !status.Is(err, status.ArgumentError) || !strings.Contains(err.Error(), "probably not banned") {
		t.Fatalf("expected not banned error, got %v", err)
	}
	if _, found, _ := fx.store.GetExpiry(ctx, storage.KindBan, "ghost"); found {
		t.Fatalf("expiry must be removed even when the user was not banned")
	}
}

func TestUnbanLiftsBan(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.platform.banned["gone"] = true

	if _, err := fx.service.Unban(ctx, Request{Moderator: moderator, TargetID: "gone"}); err != nil {
		t.Fatalf("unban: %v", err)
	}
	if fx.platform.banned["gone"] {
		t.Fatalf("ban must be lifted")
	}
}

func TestReverse(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.platform.add("muted", roleMuted)

	if err := fx.service.Reverse(ctx, storage.KindMute, "muted"); err != nil {
		t.Fatalf("reverse mute: %v", err)
	}
	if !fx.platform.called("remove_role:muted") {
		t.Fatalf("muted role must be removed")
	}
	if err := fx.service.Reverse(ctx, storage.KindMute, "left-the-server"); err != nil {
		t.Fatalf("reversing a departed member must succeed, got %v", err)
	}
	if err := fx.service.Reverse(ctx, storage.KindBan, "never-banned"); err != nil {
		t.Fatalf("reversing a lifted ban must succeed, got %v", err)
	}
	if err := fx.service.Reverse(ctx, storage.KindWarn, "x"); err == nil {
		t.Fatalf("warn has no expiry")
	}
}
