package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOverlaySettingRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	settings, err := st.GetOverlaySetting(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.SSEPort != 8081 || settings.ReconnectIntervalMS != 3000 || settings.MaxReconnectAttempts != 5 {
		t.Fatalf("seeded defaults: %+v", settings)
	}

	settings.RoomID = 12345
	settings.SSEToken = "tok"
	settings.FilterKeywords = []string{"广告", "spam"}
	settings.FilterOnlyOwnBadge = true
	if err := st.SaveOverlaySetting(ctx, *settings); err != nil {
		t.Fatal(err)
	}

	loaded, err := st.GetOverlaySetting(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RoomID != 12345 || loaded.SSEToken != "tok" || !loaded.FilterOnlyOwnBadge {
		t.Fatalf("loaded: %+v", loaded)
	}
	if len(loaded.FilterKeywords) != 2 || loaded.FilterKeywords[0] != "广告" {
		t.Fatalf("keywords: %v", loaded.FilterKeywords)
	}
}

func TestStyleProfileLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// The migration seeds a default active profile.
	active, err := st.GetActiveStyleProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil {
		t.Fatal("no seeded active profile")
	}

	if err := st.SaveStyleProfile(ctx, "night", `{"base":{"fontSize":40}}`); err != nil {
		t.Fatal(err)
	}
	// Upsert by name.
	if err := st.SaveStyleProfile(ctx, "night", `{"base":{"fontSize":44}}`); err != nil {
		t.Fatal(err)
	}
	profiles, err := st.ListStyleProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}

	if err := st.ActivateStyleProfile(ctx, "night"); err != nil {
		t.Fatal(err)
	}
	active, err = st.GetActiveStyleProfile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.Name != "night" {
		t.Fatalf("active = %+v", active)
	}
	if active.Body != `{"base":{"fontSize":44}}` {
		t.Fatalf("body = %q", active.Body)
	}

	if err := st.ActivateStyleProfile(ctx, "missing"); err == nil {
		t.Fatal("activating a missing profile must fail")
	}
	if err := st.DeleteStyleProfile(ctx, "night"); err == nil {
		t.Fatal("deleting the active profile must fail")
	}
	if err := st.DeleteStyleProfile(ctx, "default"); err != nil {
		t.Fatalf("deleting an inactive profile: %v", err)
	}
}

func TestDanmakuHistoryPrune(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if _, err := st.AppendDanmakuEvent(ctx, DanmakuEventRecord{
			RoomID: 1, EventType: "danmu", UID: int64(i), Uname: "u", Content: "msg",
		}); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := st.PruneDanmakuEvents(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 15 {
		t.Fatalf("removed = %d, want 15", removed)
	}
	items, err := st.ListRecentDanmakuEvents(ctx, 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Fatalf("remaining = %d, want 5", len(items))
	}
	// Newest first.
	if items[0].UID != 19 {
		t.Fatalf("first uid = %d, want 19", items[0].UID)
	}
}

func TestListRecentDanmakuEventsRoomScope(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for _, room := range []int64{1, 1, 2} {
		if _, err := st.AppendDanmakuEvent(ctx, DanmakuEventRecord{RoomID: room, EventType: "danmu"}); err != nil {
			t.Fatal(err)
		}
	}
	scoped, err := st.ListRecentDanmakuEvents(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 2 {
		t.Fatalf("room 1 events = %d, want 2", len(scoped))
	}
	all, err := st.ListRecentDanmakuEvents(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("all events = %d, want 3", len(all))
	}
}

func TestAPIErrorLogRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateAPIErrorLog(ctx, APIErrorLog{
		Endpoint: "https://api.example.com/nav", Method: "GET", Stage: "network",
		HTTPStatus: 0, Attempt: 1, Retryable: true, Detail: "connection refused",
	}); err != nil {
		t.Fatal(err)
	}
	items, err := st.ListRecentAPIErrorLogs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Stage != "network" || !items[0].Retryable {
		t.Fatalf("items = %+v", items)
	}
}

func TestCookieSettingRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveCookie(ctx, "SESSDATA=abc; buvid3=x", "rt-1"); err != nil {
		t.Fatal(err)
	}
	cookie, err := st.GetCookieSetting(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cookie.Content != "SESSDATA=abc; buvid3=x" || cookie.RefreshToken != "rt-1" {
		t.Fatalf("cookie = %+v", cookie)
	}
}
