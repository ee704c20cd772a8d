package expiry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bastion/internal/audit"
	"bastion/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSlack = 5 * time.Millisecond
	fireTimeout  = 30 * time.Second
)

// Timed lists the record kinds that can carry a pending expiry.
var Timed = []storage.Kind{storage.KindMute, storage.KindBan}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type Store interface {
	GetExpiry(ctx context.Context, kind storage.Kind, userID string) (storage.Expiry, bool, error)
	DeleteExpiry(ctx context.Context, kind storage.Kind, userID string) (bool, error)
	ListExpiries(ctx context.Context, kind storage.Kind) ([]storage.Expiry, error)
}

// Reverser undoes the platform side of a mute or ban.
type Reverser interface {
	Reverse(ctx context.Context, kind storage.Kind, userID string) error
}

type key struct {
	kind   storage.Kind
	userID string
}

type armed struct {
	timer Timer
	gen   uint64
}

// Manager keeps one in-process timer per pending expiry row. The row is the
// source of truth; timers are rebuilt from it by Recover and Sweep.
type Manager struct {
	mu       sync.Mutex
	timers   map[key]armed
	gen      uint64
	stopped  bool
	store    Store
	reverser Reverser
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
	slack    time.Duration
}

func NewManager(store Store, auditLogger *audit.Logger, logger *zap.Logger, slack time.Duration) *Manager {
	if slack <= 0 {
		slack = DefaultSlack
	}
	return &Manager{
		timers: make(map[key]armed),
		store:  store,
		audit:  auditLogger,
		logger: logger,
		clock:  realClock{},
		slack:  slack,
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

// SetReverser must be called before any timer fires.
func (m *Manager) SetReverser(reverser Reverser) {
	m.mu.Lock()
	m.reverser = reverser
	m.mu.Unlock()
}

// Arm schedules the undo of (kind, userID) at the given time, replacing any
// timer already armed for the pair. Past times fire immediately.
func (m *Manager) Arm(kind storage.Kind, userID string, at time.Time) {
	delay := at.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	k := key{kind: kind, userID: userID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if prev, ok := m.timers[k]; ok {
		prev.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timers[k] = armed{timer: m.clock.AfterFunc(delay, func() { m.fire(k, gen) }), gen: gen}
}

// Cancel deletes the pending row and drops the local timer. It reports
// whether a row existed.
func (m *Manager) Cancel(ctx context.Context, kind storage.Kind, userID string) (bool, error) {
	m.Disarm(kind, userID)
	return m.store.DeleteExpiry(ctx, kind, userID)
}

// Disarm drops the local timer for (kind, userID) and leaves the store alone.
func (m *Manager) Disarm(kind storage.Kind, userID string) {
	k := key{kind: kind, userID: userID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.timers[k]; ok {
		prev.timer.Stop()
		delete(m.timers, k)
	}
}

// Recover arms a timer for every persisted row of both timed kinds.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range Timed {
		kind := kind
		g.Go(func() error {
			rows, err := m.store.ListExpiries(gctx, kind)
			if err != nil {
				return fmt.Errorf("list %s expiries: %w", kind, err)
			}
			for _, row := range rows {
				m.Arm(row.Kind, row.UserID, row.ExpiresAt)
			}
			total.Add(int64(len(rows)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	n := int(total.Load())
	m.logger.Info("pending expiries recovered", zap.Int("count", n))
	return n, nil
}

// Sweep arms rows that have no live timer, such as rows written by another
// process. It returns how many were armed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	armedCount := 0
	for _, kind := range Timed {
		rows, err := m.store.ListExpiries(ctx, kind)
		if err != nil {
			return armedCount, fmt.Errorf("list %s expiries: %w", kind, err)
		}
		for _, row := range rows {
			if m.isArmed(row.Kind, row.UserID) {
				continue
			}
			m.Arm(row.Kind, row.UserID, row.ExpiresAt)
			armedCount++
		}
	}
	if armedCount > 0 {
		m.logger.Info("expiry sweep armed orphaned rows", zap.Int("count", armedCount))
	}
	return armedCount, nil
}

// Pending is the number of live timers.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop drops every timer. Rows stay in the store for the next Recover.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for k, a := range m.timers {
		a.timer.Stop()
		delete(m.timers, k)
	}
}

func (m *Manager) isArmed(kind storage.Kind, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[key{kind: kind, userID: userID}]
	return ok
}

func (m *Manager) fire(k key, gen uint64) {
	m.mu.Lock()
	if current, ok := m.timers[k]; ok && current.gen == gen {
		delete(m.timers, k)
	}
	reverser := m.reverser
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()

	fields := []zap.Field{zap.String("kind", string(k.kind)), zap.String("user_id", k.userID)}
	row, found, err := m.store.GetExpiry(ctx, k.kind, k.userID)
	if err != nil {
		m.logger.Error("expiry lookup failed", append(fields, zap.Error(err))...)
		return
	}
	if !found {
		m.logger.Debug("expiry already removed", fields...)
		return
	}
	if row.ExpiresAt.Sub(m.clock.Now()) > m.slack {
		m.logger.Debug("expiry superseded", append(fields, zap.Time("expires_at", row.ExpiresAt))...)
		return
	}

	deleted, err := m.store.DeleteExpiry(ctx, k.kind, k.userID)
	if err != nil {
		m.logger.Error("expiry delete failed", append(fields, zap.Error(err))...)
		return
	}
	if !deleted {
		return
	}

	if reverser == nil {
		m.logger.Error("expiry fired without a reverser", fields...)
		return
	}
	if err := reverser.Reverse(ctx, k.kind, k.userID); err != nil {
		m.logger.Warn("expiry reversal failed", append(fields, zap.Error(err))...)
		m.audit.Log(ctx, audit.LevelWarn, k.userID, "expiry_failed", fmt.Sprintf("kind=%s error=%v", k.kind, err))
		return
	}
	m.audit.Log(ctx, audit.LevelInfo, k.userID, "expiry_fired", "kind="+string(k.kind))
}
