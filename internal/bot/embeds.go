package bot

import (
	"fmt"
	"strings"
	"time"

	"bastion/internal/audit"
	"bastion/internal/config"
	"bastion/internal/confirm"
	"bastion/internal/dispatch"
	"bastion/internal/status"
	"bastion/internal/storage"

	"github.com/bwmarrin/discordgo"
)

const (
	descriptionLimit = 4096
	fieldLimit       = 1024
	footerBrand      = "Bastion moderation"
)

func kindColor(colors config.EmbedColors, kind status.Kind, internal bool) int {
	if internal {
		return colors.Error
	}
	switch kind {
	case status.Success:
		return colors.Success
	case status.Info:
		return colors.Info
	case status.PartialSuccess, status.Canceled, status.CooldownError:
		return colors.Warning
	default:
		return colors.Error
	}
}

func levelColor(colors config.EmbedColors, level string) int {
	switch level {
	case audit.LevelCrit:
		return colors.Error
	case audit.LevelWarn:
		return colors.Warning
	default:
		return colors.Info
	}
}

func replyEmbed(colors config.EmbedColors, reply dispatch.Reply) *discordgo.MessageEmbed {
	var desc strings.Builder
	desc.WriteString(reply.Body)
	if len(reply.Details) > 0 {
		if desc.Len() > 0 {
			desc.WriteString("\n")
		}
		for _, line := range reply.Details {
			desc.WriteString("\n• ")
			desc.WriteString(line)
		}
	}
	return &discordgo.MessageEmbed{
		Title:       reply.Title,
		Description: truncate(desc.String(), descriptionLimit),
		Color:       kindColor(colors, reply.Kind, reply.Internal),
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func auditEmbed(colors config.EmbedColors, entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = "system"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Level", Value: entry.Level, Inline: true},
		{Name: "User", Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: truncate(entry.Details, fieldLimit)})
	}
	return &discordgo.MessageEmbed{
		Title:     "Audit: " + strings.ReplaceAll(entry.Event, "_", " "),
		Color:     levelColor(colors, entry.Level),
		Footer:    &discordgo.MessageEmbedFooter{Text: footerBrand},
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

func promptEmbed(colors config.EmbedColors, prompt confirm.Prompt, timeout time.Duration) *discordgo.MessageEmbed {
	color := prompt.Color
	if color == 0 {
		color = colors.Warning
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Confirmation required",
		Description: truncate(prompt.Content, descriptionLimit),
		Color:       color,
	}
	if timeout > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "Expires in " + timeout.String()}
	}
	return embed
}

// resolvedEmbed replaces a prompt once it has an outcome.
func resolvedEmbed(colors config.EmbedColors, outcome confirm.Outcome) *discordgo.MessageEmbed {
	switch outcome {
	case confirm.Accepted:
		return &discordgo.MessageEmbed{Title: "Confirmed", Description: "Working on it.", Color: colors.Success}
	case confirm.TimedOut:
		return &discordgo.MessageEmbed{Title: "Confirmation expired", Description: "Nothing was done.", Color: colors.Warning}
	default:
		return &discordgo.MessageEmbed{Title: "Canceled", Description: "Nothing was done.", Color: colors.Warning}
	}
}

func promptButtons(promptID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{Label: "Confirm", Style: discordgo.DangerButton, CustomID: customID(promptID, true)},
			discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: customID(promptID, false)},
		}},
	}
}

func customID(promptID string, accept bool) string {
	answer := "no"
	if accept {
		answer = "yes"
	}
	return "confirm:" + promptID + ":" + answer
}

func parseCustomID(id string) (promptID string, accept bool, ok bool) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != "confirm" || parts[1] == "" {
		return "", false, false
	}
	switch parts[2] {
	case "yes":
		return parts[1], true, true
	case "no":
		return parts[1], false, true
	}
	return "", false, false
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
