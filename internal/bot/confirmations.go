package bot

import (
	"context"

	"bastion/internal/confirm"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Present posts the prompt with its confirm and cancel buttons.
func (b *Bot) Present(ctx context.Context, prompt confirm.Prompt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := b.session.ChannelMessageSendComplex(prompt.ChannelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{promptEmbed(b.cfg.Notifications.EmbedColors, prompt, b.cfg.Moderation.ConfirmTimeout())},
		Components: promptButtons(prompt.ID),
	})
	if err != nil {
		return err
	}
	b.promptsMu.Lock()
	b.prompts[prompt.ID] = msg.ID
	b.promptsMu.Unlock()
	return nil
}

// Resolve marks a prompt that ended without a button press and removes its
// buttons.
func (b *Bot) Resolve(ctx context.Context, prompt confirm.Prompt, outcome confirm.Outcome) {
	messageID := b.forgetPrompt(prompt.ID)
	if messageID == "" {
		return
	}
	edit := discordgo.NewMessageEdit(prompt.ChannelID, messageID).SetEmbed(resolvedEmbed(b.cfg.Notifications.EmbedColors, outcome))
	edit.Components = []discordgo.MessageComponent{}
	if _, err := b.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		b.logger.Debug("prompt update failed", zap.String("prompt_id", prompt.ID), zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionMessageComponent {
		return
	}
	promptID, accept, ok := parseCustomID(interaction.MessageComponentData().CustomID)
	if !ok {
		return
	}
	voterID := ""
	if interaction.Member != nil && interaction.Member.User != nil {
		voterID = interaction.Member.User.ID
	} else if interaction.User != nil {
		voterID = interaction.User.ID
	}

	switch b.broker.Vote(promptID, voterID, accept) {
	case confirm.VoteUnknown:
		b.respond(session, interaction, "This confirmation is no longer active.", true)
	case confirm.VoteNotAuthor:
		b.respond(session, interaction, "Only the author of the command can answer this.", true)
	case confirm.VoteAccepted:
		b.forgetPrompt(promptID)
		b.updatePrompt(session, interaction, confirm.Accepted)
	case confirm.VoteCanceled:
		b.forgetPrompt(promptID)
		b.updatePrompt(session, interaction, confirm.Rejected)
	}
}

func (b *Bot) updatePrompt(session *discordgo.Session, interaction *discordgo.InteractionCreate, outcome confirm.Outcome) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{resolvedEmbed(b.cfg.Notifications.EmbedColors, outcome)},
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.logger.Debug("prompt update failed", zap.Error(err))
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) forgetPrompt(promptID string) string {
	b.promptsMu.Lock()
	defer b.promptsMu.Unlock()
	messageID := b.prompts[promptID]
	delete(b.prompts, promptID)
	return messageID
}
