package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
)

const auditReasonLimit = 512

// Discord implements Platform and Directory for one guild.
type Discord struct {
	session *discordgo.Session
	guildID string
}

func NewDiscord(session *discordgo.Session, guildID string) *Discord {
	return &Discord{session: session, guildID: guildID}
}

func (d *Discord) Member(ctx context.Context, userID string) (Member, bool, error) {
	member, err := d.session.GuildMember(d.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return Member{}, false, nil
		}
		return Member{}, false, classify(err)
	}
	out := Member{ID: userID, RoleIDs: append([]string(nil), member.Roles...)}
	if member.User != nil {
		out.Username = member.User.Username
	}
	return out, true, nil
}

func (d *Discord) Manageable(ctx context.Context, userID string) (bool, error) {
	guild, err := d.guild(ctx)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return false, nil
	}
	if d.session.State == nil || d.session.State.User == nil {
		return false, errors.New("session state not ready")
	}

	target, found, err := d.Member(ctx, userID)
	if err != nil || !found {
		return false, err
	}
	self, found, err := d.Member(ctx, d.session.State.User.ID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, errors.New("bot is not a member of the guild")
	}

	positions := make(map[string]int, len(guild.Roles))
	for _, role := range guild.Roles {
		positions[role.ID] = role.Position
	}
	return topPosition(self.RoleIDs, positions) > topPosition(target.RoleIDs, positions), nil
}

func (d *Discord) AddRole(ctx context.Context, userID, roleID, reason string) error {
	return classify(d.session.GuildMemberRoleAdd(d.guildID, userID, roleID, requestOptions(ctx, reason)...))
}

func (d *Discord) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	return classify(d.session.GuildMemberRoleRemove(d.guildID, userID, roleID, requestOptions(ctx, reason)...))
}

func (d *Discord) Kick(ctx context.Context, userID, reason string) error {
	return classify(d.session.GuildMemberDeleteWithReason(d.guildID, userID, reason, requestOptions(ctx, reason)...))
}

func (d *Discord) Ban(ctx context.Context, userID, reason string) error {
	return classify(d.session.GuildBanCreateWithReason(d.guildID, userID, reason, 0, requestOptions(ctx, reason)...))
}

func (d *Discord) Unban(ctx context.Context, userID, reason string) error {
	err := d.session.GuildBanDelete(d.guildID, userID, requestOptions(ctx, reason)...)
	if err != nil && isNotFound(err) {
		return ErrNotBanned
	}
	return classify(err)
}

func (d *Discord) Notify(ctx context.Context, userID string, notice Notice) error {
	channel, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	_, err = d.session.ChannelMessageSendEmbed(channel.ID, &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: notice.Body,
		Color:       notice.Color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}, discordgo.WithContext(ctx))
	return classify(err)
}

func (d *Discord) RoleExists(ctx context.Context, roleID string) (bool, error) {
	guild, err := d.guild(ctx)
	if err != nil {
		return false, err
	}
	for _, role := range guild.Roles {
		if role.ID == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Discord) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	if d.session.State != nil {
		if channel, err := d.session.State.Channel(channelID); err == nil && channel != nil {
			return channel.GuildID == d.guildID, nil
		}
	}
	channel, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(err)
	}
	return channel.GuildID == d.guildID, nil
}

func (d *Discord) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	if _, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(err)
	}
	return true, nil
}

func (d *Discord) guild(ctx context.Context) (*discordgo.Guild, error) {
	if d.session.State != nil {
		if guild, err := d.session.State.Guild(d.guildID); err == nil && guild != nil {
			return guild, nil
		}
	}
	guild, err := d.session.Guild(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return guild, nil
}

// requestOptions binds the call to ctx and, when reason is set, records it in
// the guild audit log. The header value must be URL encoded.
func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	options := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		options = append(options, discordgo.WithAuditLogReason(url.PathEscape(truncateReason(reason))))
	}
	return options
}

// truncateReason keeps reason within the 512 character audit log limit.
func truncateReason(reason string) string {
	runes := []rune(reason)
	if len(runes) <= auditReasonLimit {
		return reason
	}
	return string(runes[:auditReasonLimit])
}

func topPosition(roleIDs []string, positions map[string]int) int {
	top := 0
	for _, id := range roleIDs {
		if pos, ok := positions[id]; ok && pos > top {
			top = pos
		}
	}
	return top
}

func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return err
}
