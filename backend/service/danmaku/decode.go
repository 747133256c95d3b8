package danmaku

import (
	"encoding/json"
	"fmt"
	"strings"
)

type EventType string

const (
	EventDanmu     EventType = "danmu"
	EventGift      EventType = "gift"
	EventSuperChat EventType = "superchat"
	EventGuard     EventType = "guard"
	EventInteract  EventType = "interact"
	EventSystem    EventType = "system"
)

// Event is the normalized shape every supported live command decodes into.
type Event struct {
	Type          EventType `json:"type"`
	Text          string    `json:"text"`
	User          string    `json:"user"`
	UID           int64     `json:"uid"`
	Avatar        string    `json:"avatar"`
	Color         string    `json:"color"`
	FontSize      int       `json:"fontSize"`
	IsModerator   bool      `json:"isModerator"`
	GuardLevel    int       `json:"guardLevel"`
	BadgeOwnerUID int64     `json:"badgeOwnerUid"`
	Price         float64   `json:"price"`
	GiftName      string    `json:"giftName"`
	GiftCount     int       `json:"giftCount"`
	Timestamp     int64     `json:"timestamp"`
	RawCommand    string    `json:"-"`
}

// NormalizeCommand uppercases a cmd value and cuts it at the first colon.
// Some commands arrive with a variant suffix (e.g. DANMU_MSG:4:0:2:2:2:0)
// and dispatch always happens on the prefix.
func NormalizeCommand(command string) string {
	command = strings.ToUpper(strings.TrimSpace(command))
	if command == "" {
		return ""
	}
	if idx := strings.Index(command, ":"); idx > 0 {
		command = command[:idx]
	}
	return command
}

// DecodeEvent turns a MESSAGE packet body into a normalized event. The second
// return is false for unsupported commands and for payloads that cannot be
// parsed; malformed bodies never abort the stream.
func DecodeEvent(payload []byte) (Event, bool) {
	body := map[string]any{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Event{}, false
	}
	cmd := NormalizeCommand(anyToString(body["cmd"]))
	if cmd == "" {
		return Event{}, false
	}
	switch cmd {
	case "DANMU_MSG":
		return parseDanmuMsg(body, cmd)
	case "SEND_GIFT":
		return parseSendGift(body, cmd)
	case "SUPER_CHAT_MESSAGE":
		return parseSuperChat(body, cmd)
	case "GUARD_BUY", "USER_TOAST_MSG":
		return parseGuardBuy(body, cmd)
	case "INTERACT_WORD":
		return parseInteractWord(body, cmd)
	case "LIVE_OPEN_PLATFORM_DM":
		return parseOpenLiveDanmu(body, cmd)
	case "LIVE_OPEN_PLATFORM_SEND_GIFT":
		return parseOpenLiveGift(body, cmd)
	case "LIVE_OPEN_PLATFORM_SUPER_CHAT":
		return parseOpenLiveSuperChat(body, cmd)
	case "LIVE_OPEN_PLATFORM_GUARD":
		return parseOpenLiveGuard(body, cmd)
	default:
		return Event{RawCommand: cmd}, false
	}
}

func parseDanmuMsg(body map[string]any, cmd string) (Event, bool) {
	info, ok := body["info"].([]any)
	if !ok || len(info) < 3 {
		return Event{}, false
	}
	text := anyToString(info[1])
	if strings.TrimSpace(text) == "" {
		return Event{}, false
	}

	event := Event{
		Type:       EventDanmu,
		Text:       text,
		Color:      "#ffffff",
		RawCommand: cmd,
	}

	if meta, ok := info[0].([]any); ok {
		if len(meta) > 2 {
			event.FontSize = int(anyToInt64(meta[2]))
		}
		if len(meta) > 3 {
			if rgb := anyToInt64(meta[3]); rgb > 0 {
				event.Color = fmt.Sprintf("#%06x", rgb&0xffffff)
			}
		}
		if len(meta) > 4 {
			event.Timestamp = anyToInt64(meta[4])
		}
		if len(meta) > 15 {
			if extra, ok := meta[15].(map[string]any); ok {
				if user, ok := extra["user"].(map[string]any); ok {
					if base, ok := user["base"].(map[string]any); ok {
						event.Avatar = anyToString(base["face"])
					}
					if medal, ok := user["medal"].(map[string]any); ok {
						event.BadgeOwnerUID = anyToInt64(medal["ruid"])
					}
				}
			}
		}
	}

	if user, ok := info[2].([]any); ok {
		if len(user) > 0 {
			event.UID = anyToInt64(user[0])
		}
		if len(user) > 1 {
			event.User = anyToString(user[1])
		}
		if len(user) > 2 {
			event.IsModerator = anyToInt64(user[2]) == 1
		}
	}
	if len(info) > 7 {
		event.GuardLevel = clampRange(int(anyToInt64(info[7])), 0, 3)
	}
	return event, true
}

func parseSendGift(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	giftName := anyToString(data["giftName"])
	if giftName == "" {
		giftName = anyToString(data["gift_name"])
	}
	count := int(anyToInt64(data["num"]))
	if count <= 0 {
		count = 1
	}
	return Event{
		Type:       EventGift,
		User:       anyToString(data["uname"]),
		UID:        anyToInt64(data["uid"]),
		Avatar:     anyToString(data["face"]),
		GiftName:   giftName,
		GiftCount:  count,
		Price:      anyToFloat64(data["price"]) / 1000,
		Timestamp:  anyToInt64(data["timestamp"]) * 1000,
		RawCommand: cmd,
	}, true
}

func parseSuperChat(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	event := Event{
		Type:       EventSuperChat,
		Text:       anyToString(data["message"]),
		Price:      anyToFloat64(data["price"]),
		Timestamp:  anyToInt64(data["start_time"]) * 1000,
		RawCommand: cmd,
	}
	if userInfo, ok := data["user_info"].(map[string]any); ok {
		event.User = anyToString(userInfo["uname"])
		event.Avatar = anyToString(userInfo["face"])
	}
	event.UID = anyToInt64(data["uid"])
	return event, true
}

func parseGuardBuy(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	user := anyToString(data["username"])
	if user == "" {
		user = anyToString(data["uname"])
	}
	giftName := anyToString(data["gift_name"])
	if giftName == "" {
		giftName = anyToString(data["role_name"])
	}
	return Event{
		Type:       EventGuard,
		User:       user,
		UID:        anyToInt64(data["uid"]),
		GuardLevel: clampRange(int(anyToInt64(data["guard_level"])), 0, 3),
		GiftName:   giftName,
		GiftCount:  int(anyToInt64(data["num"])),
		Price:      anyToFloat64(data["price"]) / 1000,
		Timestamp:  anyToInt64(data["start_time"]) * 1000,
		RawCommand: cmd,
	}, true
}

func parseInteractWord(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	user := anyToString(data["uname"])
	if user == "" {
		return Event{}, false
	}
	text := user + " 进入直播间"
	if anyToInt64(data["msg_type"]) == 2 {
		text = user + " 关注了直播间"
	}
	return Event{
		Type:       EventInteract,
		Text:       text,
		User:       user,
		UID:        anyToInt64(data["uid"]),
		Timestamp:  anyToInt64(data["timestamp"]) * 1000,
		RawCommand: cmd,
	}, true
}

func parseOpenLiveDanmu(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	text := anyToString(data["msg"])
	if strings.TrimSpace(text) == "" {
		return Event{}, false
	}
	return Event{
		Type:        EventDanmu,
		Text:        text,
		User:        anyToString(data["uname"]),
		UID:         anyToInt64(data["uid"]),
		Avatar:      anyToString(data["uface"]),
		Color:       "#ffffff",
		IsModerator: anyToInt64(data["is_admin"]) == 1,
		GuardLevel:  clampRange(int(anyToInt64(data["guard_level"])), 0, 3),
		Timestamp:   anyToInt64(data["timestamp"]) * 1000,
		RawCommand:  cmd,
	}, true
}

func parseOpenLiveGift(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	count := int(anyToInt64(data["gift_num"]))
	if count <= 0 {
		count = 1
	}
	return Event{
		Type:       EventGift,
		User:       anyToString(data["uname"]),
		UID:        anyToInt64(data["uid"]),
		Avatar:     anyToString(data["uface"]),
		GiftName:   anyToString(data["gift_name"]),
		GiftCount:  count,
		Price:      anyToFloat64(data["price"]) / 1000,
		Timestamp:  anyToInt64(data["timestamp"]) * 1000,
		RawCommand: cmd,
	}, true
}

func parseOpenLiveSuperChat(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	return Event{
		Type:       EventSuperChat,
		Text:       anyToString(data["message"]),
		User:       anyToString(data["uname"]),
		UID:        anyToInt64(data["uid"]),
		Avatar:     anyToString(data["uface"]),
		Price:      anyToFloat64(data["rmb"]),
		Timestamp:  anyToInt64(data["timestamp"]) * 1000,
		RawCommand: cmd,
	}, true
}

func parseOpenLiveGuard(body map[string]any, cmd string) (Event, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	event := Event{
		Type:       EventGuard,
		GuardLevel: clampRange(int(anyToInt64(data["guard_level"])), 0, 3),
		GiftCount:  int(anyToInt64(data["guard_num"])),
		Timestamp:  anyToInt64(data["timestamp"]) * 1000,
		RawCommand: cmd,
	}
	if userInfo, ok := data["user_info"].(map[string]any); ok {
		event.User = anyToString(userInfo["uname"])
		event.UID = anyToInt64(userInfo["uid"])
		event.Avatar = anyToString(userInfo["uface"])
	}
	return event, true
}

func anyToString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return strings.TrimSuffix(strings.TrimSuffix(fmt.Sprintf("%f", v), "000000"), ".")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func anyToInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed := int64(0)
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &parsed); err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func anyToFloat64(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		return parsed
	case string:
		parsed := float64(0)
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%f", &parsed); err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func clampRange(value int, min int, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
