package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bastion/internal/privileges"
	"bastion/internal/status"
)

// Handler runs a command. A nil error with a zero Result means there is
// nothing to say beyond the reaction.
type Handler func(ctx context.Context, inv *Invocation) (status.Result, error)

type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Summary string
	// Permission, when set, is required before the handler runs.
	Permission privileges.Permission
	Handler    Handler
}

type Registry struct {
	byName   map[string]*Command
	commands []*Command
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Command)}
}

func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("command %q needs a name and a handler", cmd.Name)
	}
	names := append([]string{cmd.Name}, cmd.Aliases...)
	for _, name := range names {
		if _, taken := r.byName[strings.ToLower(name)]; taken {
			return fmt.Errorf("command name %q already registered", name)
		}
	}
	c := cmd
	for _, name := range names {
		r.byName[strings.ToLower(name)] = &c
	}
	r.commands = append(r.commands, &c)
	return nil
}

// MustRegister panics on a duplicate; for wiring at startup.
func (r *Registry) MustRegister(cmds ...Command) {
	for _, cmd := range cmds {
		if err := r.Register(cmd); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Lookup(name string) (*Command, bool) {
	cmd, ok := r.byName[strings.ToLower(name)]
	return cmd, ok
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []*Command {
	out := append([]*Command(nil), r.commands...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
