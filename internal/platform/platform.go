package platform

import (
	"context"
	"errors"
)

var (
	// ErrForbidden means the bot lacks the platform authority for the call.
	ErrForbidden = errors.New("missing platform permissions")
	ErrNotBanned = errors.New("user is not banned")
)

type Member struct {
	ID       string
	Username string
	RoleIDs  []string
}

// Notice is a private message to a member.
type Notice struct {
	Title string
	Body  string
	Color int
}

// Platform is the slice of the community platform the moderation core needs.
// Lookups report absence through the bool result, never through an error.
type Platform interface {
	Member(ctx context.Context, userID string) (Member, bool, error)
	// Manageable reports whether the bot may kick or ban the member.
	Manageable(ctx context.Context, userID string) (bool, error)
	AddRole(ctx context.Context, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, userID, roleID, reason string) error
	Kick(ctx context.Context, userID, reason string) error
	Ban(ctx context.Context, userID, reason string) error
	Unban(ctx context.Context, userID, reason string) error
	Notify(ctx context.Context, userID string, notice Notice) error
}

// Directory resolves the other references a command may take.
type Directory interface {
	RoleExists(ctx context.Context, roleID string) (bool, error)
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
}
