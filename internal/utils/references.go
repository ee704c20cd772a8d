package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	snowflakeRegex = regexp.MustCompile(`^\d{15,21}$`)
	userRegex      = regexp.MustCompile(`^<@!?(\d{15,21})>$`)
	roleRegex      = regexp.MustCompile(`^<@&(\d{15,21})>$`)
	channelRegex   = regexp.MustCompile(`^<#(\d{15,21})>$`)
)

var messageHosts = map[string]struct{}{
	"discord.com":           {},
	"discordapp.com":        {},
	"ptb.discord.com":       {},
	"canary.discord.com":    {},
	"ptb.discordapp.com":    {},
	"canary.discordapp.com": {},
}

func IsSnowflake(value string) bool {
	return snowflakeRegex.MatchString(value)
}

// UserID accepts a raw id or a user mention.
func UserID(token string) (string, bool) {
	return referenceID(token, userRegex)
}

func RoleID(token string) (string, bool) {
	return referenceID(token, roleRegex)
}

func ChannelID(token string) (string, bool) {
	return referenceID(token, channelRegex)
}

func referenceID(token string, mention *regexp.Regexp) (string, bool) {
	token = strings.TrimSpace(token)
	if IsSnowflake(token) {
		return token, true
	}
	if match := mention.FindStringSubmatch(token); match != nil {
		return match[1], true
	}
	return "", false
}

type MessageLink struct {
	GuildID   string
	ChannelID string
	MessageID string
}

func (l MessageLink) String() string {
	return MessageURL(l.GuildID, l.ChannelID, l.MessageID)
}

func MessageURL(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// ParseMessageLink accepts a jump link, optionally wrapped in <> to suppress
// the embed.
func ParseMessageLink(raw string) (MessageLink, bool) {
	raw = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(raw), "<"), ">")
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return MessageLink{}, false
	}

	host := strings.ToLower(parsed.Hostname())
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	host = strings.TrimPrefix(host, "www.")
	if _, ok := messageHosts[host]; !ok {
		return MessageLink{}, false
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "channels" {
		return MessageLink{}, false
	}
	for _, id := range parts[1:] {
		if !IsSnowflake(id) {
			return MessageLink{}, false
		}
	}
	return MessageLink{GuildID: parts[1], ChannelID: parts[2], MessageID: parts[3]}, true
}
