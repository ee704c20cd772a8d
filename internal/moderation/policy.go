package moderation

import (
	"bastion/internal/privileges"
	"bastion/internal/storage"
)

// policy holds the per-kind particulars consumed by the shared action path.
type policy struct {
	kind       storage.Kind
	permission privileges.Permission
	// timed kinds accept a duration and schedule an expiry when it is non-zero.
	timed bool
	// effect kinds change something on the platform; any failure after the
	// record write makes the outcome partial.
	effect bool
	// removes kinds take the member out of the guild and need the bot to
	// outrank them on the platform.
	removes bool
	// notifyFirst sends the notice before enforcement, since the member
	// cannot be reached afterwards.
	notifyFirst bool
	// memberOptional lets the action target ids that are not in the guild.
	memberOptional bool
	verb           string
	title          string
	color          int
}

var policies = map[storage.Kind]policy{
	storage.KindWarn: {
		kind:       storage.KindWarn,
		permission: privileges.Warn,
		verb:       "warned",
		title:      "You have been warned",
		color:      0xF1C40F,
	},
	storage.KindMute: {
		kind:       storage.KindMute,
		permission: privileges.Mute,
		timed:      true,
		effect:     true,
		verb:       "muted",
		title:      "You have been muted",
		color:      0xE67E22,
	},
	storage.KindKick: {
		kind:        storage.KindKick,
		permission:  privileges.Kick,
		effect:      true,
		removes:     true,
		notifyFirst: true,
		verb:        "kicked",
		title:       "You have been kicked",
		color:       0xE74C3C,
	},
	storage.KindBan: {
		kind:           storage.KindBan,
		permission:     privileges.Ban,
		timed:          true,
		effect:         true,
		removes:        true,
		notifyFirst:    true,
		memberOptional: true,
		verb:           "banned",
		title:          "You have been banned",
		color:          0x992D22,
	},
}

// Color is the embed and confirmation color for kind.
func Color(kind storage.Kind) int {
	return policies[kind].color
}
