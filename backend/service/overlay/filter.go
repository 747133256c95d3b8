package overlay

import (
	"strings"
	"unicode/utf8"

	"danmuoverlay/dove/backend/service/danmaku"
)

// FilterConfig holds the chat filter rules. Zero bounds disable the
// corresponding length check; an empty keyword list matches nothing.
type FilterConfig struct {
	Enabled      bool     `json:"enabled"`
	MinLength    int      `json:"minLength"`
	MaxLength    int      `json:"maxLength"`
	Keywords     []string `json:"keywords"`
	OnlyOwnBadge bool     `json:"onlyOwnBadge"`
	OnlyStreamer bool     `json:"onlyStreamer"`
	HideStreamer bool     `json:"hideStreamer"`
}

// RoomProfile is the identity of the connected room, learned at connect
// time. Zero values mean the resolver could not determine them.
type RoomProfile struct {
	AnchorUID    int64
	AnchorAvatar string
}

// Filter decides whether a chat event reaches subscribers. Non-chat
// events always pass; the rules only constrain what viewers typed.
type Filter struct {
	cfg  FilterConfig
	room RoomProfile
}

func NewFilter(cfg FilterConfig, room RoomProfile) *Filter {
	return &Filter{cfg: cfg, room: room}
}

// Allow evaluates the rules in a fixed order and stops at the first
// failing check: length, keyword blacklist, own-badge, streamer rules.
func (f *Filter) Allow(event *danmaku.Event) bool {
	if event == nil {
		return false
	}
	if event.Type != danmaku.EventDanmu {
		return true
	}
	if !f.cfg.Enabled {
		return true
	}

	length := utf8.RuneCountInString(event.Text)
	if f.cfg.MinLength > 0 && length < f.cfg.MinLength {
		return false
	}
	if f.cfg.MaxLength > 0 && length > f.cfg.MaxLength {
		return false
	}

	for _, keyword := range f.cfg.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(event.Text, keyword) {
			return false
		}
	}

	if f.cfg.OnlyOwnBadge {
		// Without a known anchor uid the badge owner can never be
		// confirmed, so nothing is forwarded.
		if f.room.AnchorUID <= 0 || event.BadgeOwnerUID != f.room.AnchorUID {
			return false
		}
	}

	isStreamer := f.room.AnchorAvatar != "" && event.Avatar != "" && event.Avatar == f.room.AnchorAvatar
	if f.cfg.OnlyStreamer {
		if f.room.AnchorAvatar == "" {
			return false
		}
		if !isStreamer {
			return false
		}
	}
	if f.cfg.HideStreamer && isStreamer {
		return false
	}

	return true
}
