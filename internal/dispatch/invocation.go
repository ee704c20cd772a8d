package dispatch

import (
	"context"
	"fmt"
	"strings"

	"bastion/internal/confirm"
	"bastion/internal/platform"
	"bastion/internal/privileges"
	"bastion/internal/status"
	"bastion/internal/utils"
)

// Invocation is the per-command context handed to a handler.
type Invocation struct {
	Command *Command
	// Name is the command name or alias as typed.
	Name    string
	Actor   privileges.Actor
	Message Message
	Args    []string
	// Origin links back to the invoking message.
	Origin   string
	pipeline *Pipeline
}

func (i *Invocation) Evaluator() *privileges.Evaluator {
	return i.pipeline.evaluator
}

func (i *Invocation) Prefix() string {
	return i.pipeline.prefix
}

func (i *Invocation) Registry() *Registry {
	return i.pipeline.registry
}

func (i *Invocation) Require(perm privileges.Permission) error {
	return i.pipeline.evaluator.Require(i.Actor, perm)
}

// UsageError reports the command's usage line.
func (i *Invocation) UsageError() error {
	return status.Usage("`%s%s`", i.pipeline.prefix, i.Command.Usage)
}

// RequireArgs fails with the usage line when fewer than n arguments are given.
func (i *Invocation) RequireArgs(n int) error {
	if len(i.Args) < n {
		return i.UsageError()
	}
	return nil
}

// Rest joins the arguments from index onwards.
func (i *Invocation) Rest(from int) string {
	if from >= len(i.Args) {
		return ""
	}
	return strings.Join(i.Args[from:], " ")
}

// Confirm blocks until the invoking actor accepts. Rejection and timeout come
// back as a Canceled status.
func (i *Invocation) Confirm(ctx context.Context, content string, color int) error {
	if i.pipeline.confirmer == nil {
		return fmt.Errorf("confirmation is not available")
	}
	_, err := i.pipeline.confirmer.Request(ctx, confirm.Prompt{
		AuthorID:  i.Actor.ID,
		ChannelID: i.Message.ChannelID,
		Content:   content,
		Color:     color,
	})
	return err
}

func (i *Invocation) ResolveUser(token string) (string, error) {
	id, ok := utils.UserID(token)
	if !ok {
		return "", status.Argument("`%s` is not a user mention or id", token)
	}
	return id, nil
}

func (i *Invocation) ResolveMember(ctx context.Context, token string) (platform.Member, error) {
	id, err := i.ResolveUser(token)
	if err != nil {
		return platform.Member{}, err
	}
	member, found, err := i.pipeline.members.Member(ctx, id)
	if err != nil {
		return platform.Member{}, fmt.Errorf("resolve member: %w", err)
	}
	if !found {
		return platform.Member{}, status.Argument("<@%s> is not a member of this server", id)
	}
	return member, nil
}

func (i *Invocation) ResolveRole(ctx context.Context, token string) (string, error) {
	id, ok := utils.RoleID(token)
	if !ok {
		return "", status.Argument("`%s` is not a role mention or id", token)
	}
	exists, err := i.pipeline.directory.RoleExists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve role: %w", err)
	}
	if !exists {
		return "", status.Argument("role %s does not exist", id)
	}
	return id, nil
}

func (i *Invocation) ResolveChannel(ctx context.Context, token string) (string, error) {
	id, ok := utils.ChannelID(token)
	if !ok {
		return "", status.Argument("`%s` is not a channel mention or id", token)
	}
	exists, err := i.pipeline.directory.ChannelExists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}
	if !exists {
		return "", status.Argument("channel %s does not exist here", id)
	}
	return id, nil
}

func (i *Invocation) ResolveMessage(ctx context.Context, token string) (utils.MessageLink, error) {
	link, ok := utils.ParseMessageLink(token)
	if !ok {
		return utils.MessageLink{}, status.Argument("`%s` is not a message link", token)
	}
	if link.GuildID != i.Message.GuildID {
		return utils.MessageLink{}, status.Argument("that message is in another server")
	}
	exists, err := i.pipeline.directory.MessageExists(ctx, link.ChannelID, link.MessageID)
	if err != nil {
		return utils.MessageLink{}, fmt.Errorf("resolve message: %w", err)
	}
	if !exists {
		return utils.MessageLink{}, status.Argument("that message does not exist")
	}
	return link, nil
}
