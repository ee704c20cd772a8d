package bot

import (
	"context"

	"bastion/internal/dispatch"

	"github.com/bwmarrin/discordgo"
)

// Reply answers a command message with an embed. Mentions in the reply never
// ping anyone.
func (b *Bot) Reply(ctx context.Context, msg dispatch.Message, reply dispatch.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.session.ChannelMessageSendComplex(msg.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{replyEmbed(b.cfg.Notifications.EmbedColors, reply)},
		Reference: &discordgo.MessageReference{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			GuildID:   msg.GuildID,
		},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	})
	return err
}

func (b *Bot) React(ctx context.Context, msg dispatch.Message, glyph string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.session.MessageReactionAdd(msg.ChannelID, msg.ID, glyph)
}
