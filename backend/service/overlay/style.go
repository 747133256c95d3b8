package overlay

import (
	"strings"

	"danmuoverlay/dove/backend/service/danmaku"
)

// Style is the full visual description of one rendered event. It doubles
// as the profile base and as the per-category override shape.
type Style struct {
	FontSize        int     `json:"fontSize"`
	Color           string  `json:"color"`
	StrokeColor     string  `json:"strokeColor"`
	StrokeWidth     int     `json:"strokeWidth"`
	TypingSpeed     int     `json:"typingSpeed"`
	DisplayDuration int     `json:"displayDuration"`
	FadeDuration    int     `json:"fadeDuration"`
	ShakeAmplitude  float64 `json:"shakeAmplitude"`
	RandomTilt      float64 `json:"randomTilt"`
}

// OverlayStyle carries only the visual fields an overlay may touch.
// Timing and motion parameters always come from the layer beneath.
type OverlayStyle struct {
	FontSize    int    `json:"fontSize"`
	Color       string `json:"color"`
	StrokeColor string `json:"strokeColor"`
	StrokeWidth int    `json:"strokeWidth"`
}

// StyleProfile is a base style, optional wholesale per-type replacements,
// and the chat highlight overlays applied on top.
type StyleProfile struct {
	Base      Style            `json:"base"`
	ByType    map[string]Style `json:"byType,omitempty"`
	OwnMedal  *OverlayStyle    `json:"ownMedal,omitempty"`
	Governor  *OverlayStyle    `json:"governor,omitempty"`
	Admiral   *OverlayStyle    `json:"admiral,omitempty"`
	Captain   *OverlayStyle    `json:"captain,omitempty"`
	Streamer  *OverlayStyle    `json:"streamer,omitempty"`
	Moderator *OverlayStyle    `json:"moderator,omitempty"`
}

// DefaultStyle returns the stock base style.
func DefaultStyle() Style {
	return Style{
		FontSize:        32,
		Color:           "#ffffff",
		StrokeColor:     "#000000",
		StrokeWidth:     2,
		TypingSpeed:     100,
		DisplayDuration: 3000,
		FadeDuration:    1000,
		ShakeAmplitude:  2.0,
		RandomTilt:      10.0,
	}
}

// DefaultProfile returns a profile containing only the stock base style.
func DefaultProfile() StyleProfile {
	return StyleProfile{Base: DefaultStyle()}
}

func (p *StyleProfile) guardOverlay(level int) *OverlayStyle {
	switch level {
	case 1:
		return p.Governor
	case 2:
		return p.Admiral
	case 3:
		return p.Captain
	default:
		return nil
	}
}

// Compose resolves the effective style for one event. Chat resolves to
// byType["danmu"] wholesale if present, else the base; other categories
// inherit the chat result unless their own byType entry replaces it.
// Chat-only overlays then layer on in a fixed order, later winning:
// own medal, guard tier, streamer, moderator. Overlays always replace
// font size and stroke width, and replace colors only when set.
func (p *StyleProfile) Compose(event *danmaku.Event, room RoomProfile) Style {
	chatStyle := p.Base
	if override, ok := p.ByType[string(danmaku.EventDanmu)]; ok {
		chatStyle = override
	}

	effective := chatStyle
	if event.Type != danmaku.EventDanmu {
		if override, ok := p.ByType[string(event.Type)]; ok {
			effective = override
		}
	} else {
		if p.OwnMedal != nil && room.AnchorUID > 0 && event.BadgeOwnerUID == room.AnchorUID {
			applyOverlay(&effective, p.OwnMedal)
		}
		if overlay := p.guardOverlay(event.GuardLevel); overlay != nil {
			applyOverlay(&effective, overlay)
		}
		if p.Streamer != nil && room.AnchorAvatar != "" && event.Avatar == room.AnchorAvatar {
			applyOverlay(&effective, p.Streamer)
		}
		if p.Moderator != nil && event.IsModerator {
			applyOverlay(&effective, p.Moderator)
		}
	}

	if strings.TrimSpace(effective.Color) == "" {
		effective.Color = event.Color
	}
	if strings.TrimSpace(effective.Color) == "" {
		effective.Color = "#ffffff"
	}
	if strings.TrimSpace(effective.StrokeColor) == "" {
		effective.StrokeColor = event.Color
	}
	if strings.TrimSpace(effective.StrokeColor) == "" {
		effective.StrokeColor = "#000000"
	}
	return effective
}

func applyOverlay(style *Style, overlay *OverlayStyle) {
	style.FontSize = overlay.FontSize
	if strings.TrimSpace(overlay.Color) != "" {
		style.Color = overlay.Color
	}
	if strings.TrimSpace(overlay.StrokeColor) != "" {
		style.StrokeColor = overlay.StrokeColor
	}
	style.StrokeWidth = overlay.StrokeWidth
}
