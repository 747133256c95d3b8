package danmaku

import (
	"testing"
)

func TestNormalizeCommand(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"DANMU_MSG", "DANMU_MSG"},
		{"DANMU_MSG:4:0:2:2:2:0", "DANMU_MSG"},
		{"danmu_msg", "DANMU_MSG"},
		{"  send_gift  ", "SEND_GIFT"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeCommand(tc.in); got != tc.want {
			t.Errorf("NormalizeCommand(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeDanmuMsg(t *testing.T) {
	payload := []byte(`{
		"cmd": "DANMU_MSG:4:0:2:2:2:0",
		"info": [
			[0, 1, 25, 16777062, 1693000000123, 0, 0, "", 0, 0, 0, "", 0, "{}", "{}",
				{"user": {"base": {"face": "https://i0.hdslb.com/face.jpg"}, "medal": {"ruid": 777}}}
			],
			"你好世界",
			[10086, "观众甲", 1, 0, 0, 10000, 1, ""],
			[20, "牌子", "主播", 777, 0, "", 0],
			[0, 0, 9868950, ">50000", 0],
			["", ""], 0, 3, null, 0, 0, 0
		]
	}`)

	event, ok := DecodeEvent(payload)
	if !ok {
		t.Fatal("DecodeEvent returned false")
	}
	if event.Type != EventDanmu {
		t.Fatalf("type = %q", event.Type)
	}
	if event.Text != "你好世界" {
		t.Errorf("text = %q", event.Text)
	}
	if event.User != "观众甲" || event.UID != 10086 {
		t.Errorf("user = %q uid = %d", event.User, event.UID)
	}
	if !event.IsModerator {
		t.Error("moderator flag not set")
	}
	if event.FontSize != 25 {
		t.Errorf("fontSize = %d", event.FontSize)
	}
	// 16777062 == 0xffff66
	if event.Color != "#ffff66" {
		t.Errorf("color = %q, want #ffff66", event.Color)
	}
	if event.Timestamp != 1693000000123 {
		t.Errorf("timestamp = %d", event.Timestamp)
	}
	if event.Avatar != "https://i0.hdslb.com/face.jpg" {
		t.Errorf("avatar = %q", event.Avatar)
	}
	if event.BadgeOwnerUID != 777 {
		t.Errorf("badge owner = %d", event.BadgeOwnerUID)
	}
	if event.GuardLevel != 3 {
		t.Errorf("guard level = %d", event.GuardLevel)
	}
}

func TestDecodeDanmuMsgGuardLevelClamped(t *testing.T) {
	payload := []byte(`{
		"cmd": "DANMU_MSG",
		"info": [[0,1,25,0,0], "text", [1, "u", 0], [], [], [], 0, 99]
	}`)
	event, ok := DecodeEvent(payload)
	if !ok {
		t.Fatal("DecodeEvent returned false")
	}
	if event.GuardLevel != 3 {
		t.Fatalf("guard level = %d, want clamp to 3", event.GuardLevel)
	}
	if event.Color != "#ffffff" {
		t.Fatalf("color = %q, want default white for zero rgb", event.Color)
	}
}

func TestDecodeSendGift(t *testing.T) {
	payload := []byte(`{
		"cmd": "SEND_GIFT",
		"data": {"giftName": "小心心", "num": 5, "price": 5000, "uname": "送礼人", "uid": 42, "face": "f.jpg", "timestamp": 1693000000}
	}`)
	event, ok := DecodeEvent(payload)
	if !ok {
		t.Fatal("DecodeEvent returned false")
	}
	if event.Type != EventGift {
		t.Fatalf("type = %q", event.Type)
	}
	if event.GiftName != "小心心" || event.GiftCount != 5 {
		t.Errorf("gift = %q x%d", event.GiftName, event.GiftCount)
	}
	if event.Price != 5 {
		t.Errorf("price = %v, want 5", event.Price)
	}
	if event.Timestamp != 1693000000000 {
		t.Errorf("timestamp = %d", event.Timestamp)
	}
}

func TestDecodeSuperChat(t *testing.T) {
	payload := []byte(`{
		"cmd": "SUPER_CHAT_MESSAGE",
		"data": {"message": "加油", "price": 30, "uid": 9, "start_time": 1693000001,
			"user_info": {"uname": "金主", "face": "sc.jpg"}}
	}`)
	event, ok := DecodeEvent(payload)
	if !ok {
		t.Fatal("DecodeEvent returned false")
	}
	if event.Type != EventSuperChat || event.Text != "加油" || event.User != "金主" || event.Price != 30 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeInteractWord(t *testing.T) {
	enter, ok := DecodeEvent([]byte(`{"cmd":"INTERACT_WORD","data":{"uname":"甲","uid":1,"msg_type":1,"timestamp":1}}`))
	if !ok || enter.Type != EventInteract || enter.Text != "甲 进入直播间" {
		t.Fatalf("enter event: %+v ok=%v", enter, ok)
	}
	follow, ok := DecodeEvent([]byte(`{"cmd":"INTERACT_WORD","data":{"uname":"乙","uid":2,"msg_type":2,"timestamp":1}}`))
	if !ok || follow.Text != "乙 关注了直播间" {
		t.Fatalf("follow event: %+v ok=%v", follow, ok)
	}
}

func TestDecodeOpenLiveDanmu(t *testing.T) {
	payload := []byte(`{
		"cmd": "LIVE_OPEN_PLATFORM_DM",
		"data": {"msg": "open hello", "uname": "开放平台", "uid": 7, "uface": "o.jpg", "guard_level": 2, "is_admin": 1, "timestamp": 1693000002}
	}`)
	event, ok := DecodeEvent(payload)
	if !ok {
		t.Fatal("DecodeEvent returned false")
	}
	if event.Type != EventDanmu || event.Text != "open hello" || event.GuardLevel != 2 || !event.IsModerator {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"cmd":"DANMU_MSG"}`,
		`{"cmd":"DANMU_MSG","info":[[],""]}`,
		`{"cmd":"DANMU_MSG","info":[[0,1,25,0,0],"",[1,"u",0]]}`,
		`{"cmd":"SEND_GIFT"}`,
		`{"cmd":"SOME_UNKNOWN_CMD","data":{}}`,
	}
	for _, tc := range cases {
		if _, ok := DecodeEvent([]byte(tc)); ok {
			t.Errorf("DecodeEvent(%q) should fail", tc)
		}
	}
}
