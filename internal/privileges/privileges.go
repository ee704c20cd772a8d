package privileges

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"bastion/internal/status"
)

type Permission string

const (
	Warn     Permission = "warn"
	Mute     Permission = "mute"
	Kick     Permission = "kick"
	Ban      Permission = "ban"
	Massban  Permission = "massban"
	History  Permission = "history"
	Clear    Permission = "clear"
	Immunity Permission = "immunity"
	Reload   Permission = "reload"
)

var known = map[Permission]struct{}{
	Warn: {}, Mute: {}, Kick: {}, Ban: {}, Massban: {},
	History: {}, Clear: {}, Immunity: {}, Reload: {},
}

var ErrUnknownPermission = errors.New("unknown permission")

// Actor is a member as seen at the moment of a check. Role membership must be
// fetched fresh for every check.
type Actor struct {
	ID      string
	RoleIDs []string
}

type Rank struct {
	Name  string   `yaml:"name"`
	Level int      `yaml:"level"`
	Users []string `yaml:"users"`
	Roles []string `yaml:"roles"`
}

type Table struct {
	Ranks  []Rank                  `yaml:"ranks"`
	Grants map[Permission][]string `yaml:"permissions"`
}

// Validate rejects grants naming unknown permissions or ranks.
func (t Table) Validate() error {
	names := make(map[string]struct{}, len(t.Ranks))
	for _, rank := range t.Ranks {
		if rank.Name == "" {
			return errors.New("rank with empty name")
		}
		if _, dup := names[rank.Name]; dup {
			return fmt.Errorf("duplicate rank %q", rank.Name)
		}
		names[rank.Name] = struct{}{}
	}
	for perm, ranks := range t.Grants {
		if _, ok := known[perm]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, perm)
		}
		for _, name := range ranks {
			if _, ok := names[name]; !ok {
				return fmt.Errorf("permission %q granted to unknown rank %q", perm, name)
			}
		}
	}
	return nil
}

type Evaluator struct {
	mu    sync.RWMutex
	table Table
}

func NewEvaluator(table Table) (*Evaluator, error) {
	e := &Evaluator{}
	if err := e.Reload(table); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Evaluator) Reload(table Table) error {
	if err := table.Validate(); err != nil {
		return err
	}
	grants := make(map[Permission][]string, len(table.Grants))
	for perm, ranks := range table.Grants {
		grants[perm] = append([]string(nil), ranks...)
	}
	ranks := append([]Rank(nil), table.Ranks...)

	e.mu.Lock()
	e.table = Table{Ranks: ranks, Grants: grants}
	e.mu.Unlock()
	return nil
}

// Ranks returns the names of every rank matching the actor, highest level first.
func (e *Evaluator) Ranks(actor Actor) []string {
	matched := e.matched(actor)
	names := make([]string, 0, len(matched))
	for _, rank := range matched {
		names = append(names, rank.Name)
	}
	return names
}

func (e *Evaluator) RankLevel(actor Actor) int {
	matched := e.matched(actor)
	if len(matched) == 0 {
		return 0
	}
	return matched[0].Level
}

// AssertHierarchy succeeds only when the moderator strictly outranks the target.
func (e *Evaluator) AssertHierarchy(moderator, target Actor) error {
	mod := e.RankLevel(moderator)
	tgt := e.RankLevel(target)
	switch {
	case mod < tgt:
		return status.Permission("the target outranks you")
	case mod == tgt:
		return status.Permission("you have the same rank as the target")
	}
	return nil
}

func (e *Evaluator) HasPermission(actor Actor, perm Permission) (bool, error) {
	if _, ok := known[perm]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownPermission, perm)
	}
	e.mu.RLock()
	granted := e.table.Grants[perm]
	e.mu.RUnlock()
	if len(granted) == 0 {
		return false, nil
	}
	for _, name := range e.Ranks(actor) {
		for _, allowed := range granted {
			if name == allowed {
				return true, nil
			}
		}
	}
	return false, nil
}

// Require is HasPermission turned into a PermissionError.
func (e *Evaluator) Require(actor Actor, perm Permission) error {
	ok, err := e.HasPermission(actor, perm)
	if err != nil {
		return err
	}
	if !ok {
		return status.Permission("you need the `%s` permission", perm)
	}
	return nil
}

func (e *Evaluator) matched(actor Actor) []Rank {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Rank
	for _, rank := range e.table.Ranks {
		if matches(rank, actor) {
			out = append(out, rank)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func matches(rank Rank, actor Actor) bool {
	for _, id := range rank.Users {
		if id == actor.ID {
			return true
		}
	}
	for _, id := range rank.Roles {
		for _, held := range actor.RoleIDs {
			if id == held {
				return true
			}
		}
	}
	return false
}
