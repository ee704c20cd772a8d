package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bastion/internal/status"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Minute

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

type Prompt struct {
	ID        string
	AuthorID  string
	ChannelID string
	Content   string
	Color     int
}

type Outcome int

const (
	Accepted Outcome = iota
	Rejected
	TimedOut
)

// Presenter renders a prompt with its confirm/cancel buttons and, for
// outcomes not produced by a button press, its terminal state.
type Presenter interface {
	Present(ctx context.Context, prompt Prompt) error
	Resolve(ctx context.Context, prompt Prompt, outcome Outcome)
}

// Token proves the prompt author accepted.
type Token struct {
	PromptID   string
	AuthorID   string
	AcceptedAt time.Time
}

type VoteResult int

const (
	VoteUnknown VoteResult = iota
	VoteNotAuthor
	VoteAccepted
	VoteCanceled
)

// CanceledError is returned when the author cancels or the prompt times out.
type CanceledError struct {
	Prompt   Prompt
	TimedOut bool
}

func (e *CanceledError) Error() string {
	if e.TimedOut {
		return "confirmation timed out"
	}
	return "confirmation canceled"
}

func (e *CanceledError) Unwrap() error { return status.Cancel(e.Error()) }

type result struct {
	token Token
	err   error
}

type entry struct {
	prompt Prompt
	timer  Timer
	done   chan result
}

// Broker is the registry of outstanding prompts. The first accept, cancel or
// timeout for a prompt removes it; later events see VoteUnknown.
type Broker struct {
	mu        sync.Mutex
	pending   map[string]*entry
	presenter Presenter
	clock     Clock
	timeout   time.Duration
	logger    *zap.Logger
}

func New(presenter Presenter, timeout time.Duration, logger *zap.Logger) *Broker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Broker{
		pending:   make(map[string]*entry),
		presenter: presenter,
		clock:     realClock{},
		timeout:   timeout,
		logger:    logger,
	}
}

func (b *Broker) WithClock(clock Clock) {
	b.clock = clock
}

// Request shows the prompt and blocks until its author decides, the timeout
// elapses or ctx ends.
func (b *Broker) Request(ctx context.Context, prompt Prompt) (Token, error) {
	prompt.ID = uuid.NewString()
	e := &entry{prompt: prompt, done: make(chan result, 1)}

	b.mu.Lock()
	b.pending[prompt.ID] = e
	b.mu.Unlock()

	if err := b.presenter.Present(ctx, prompt); err != nil {
		b.take(prompt.ID)
		return Token{}, fmt.Errorf("present confirmation: %w", err)
	}

	timer := b.clock.AfterFunc(b.timeout, func() { b.expire(prompt.ID) })
	b.mu.Lock()
	if _, ok := b.pending[prompt.ID]; ok {
		e.timer = timer
	} else {
		timer.Stop()
	}
	b.mu.Unlock()

	select {
	case r := <-e.done:
		return r.token, r.err
	case <-ctx.Done():
		if b.take(prompt.ID) == nil {
			r := <-e.done
			return r.token, r.err
		}
		b.presenter.Resolve(context.Background(), prompt, Rejected)
		return Token{}, ctx.Err()
	}
}

func (b *Broker) Vote(promptID, voterID string, accept bool) VoteResult {
	b.mu.Lock()
	e, ok := b.pending[promptID]
	if !ok {
		b.mu.Unlock()
		return VoteUnknown
	}
	if e.prompt.AuthorID != voterID {
		b.mu.Unlock()
		return VoteNotAuthor
	}
	delete(b.pending, promptID)
	b.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
	}
	if accept {
		e.done <- result{token: Token{PromptID: promptID, AuthorID: voterID, AcceptedAt: b.clock.Now()}}
		return VoteAccepted
	}
	e.done <- result{err: &CanceledError{Prompt: e.prompt}}
	return VoteCanceled
}

func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) expire(promptID string) {
	e := b.take(promptID)
	if e == nil {
		return
	}
	e.done <- result{err: &CanceledError{Prompt: e.prompt, TimedOut: true}}
	b.logger.Debug("confirmation timed out", zap.String("prompt_id", promptID), zap.String("author_id", e.prompt.AuthorID))
	b.presenter.Resolve(context.Background(), e.prompt, TimedOut)
}

func (b *Broker) take(promptID string) *entry {
	b.mu.Lock()
	e, ok := b.pending[promptID]
	if ok {
		delete(b.pending, promptID)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}
