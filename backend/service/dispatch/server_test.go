package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"danmuoverlay/dove/backend/service/danmaku"
	"danmuoverlay/dove/backend/service/overlay"
)

func newTestServer(token string) *Server {
	engine := overlay.NewEngine(overlay.DefaultProfile(), overlay.FilterConfig{})
	return NewServer(engine, Options{Port: 0, Token: token}, func() map[string]any {
		return map[string]any{"state": "idle"}
	})
}

func TestSSETokenGate(t *testing.T) {
	srv := newTestServer("secret")
	handler := srv.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sse?token=wrong", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", rec.Code)
	}
}

func TestSSEFirstMessageIsConfig(t *testing.T) {
	srv := newTestServer("")
	handler := srv.routes()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("body = %q", body)
	}
	line := strings.TrimPrefix(strings.SplitN(body, "\n", 2)[0], "data: ")
	var first struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(line), &first); err != nil {
		t.Fatalf("first message is not JSON: %v", err)
	}
	if first.Type != "config" {
		t.Fatalf("first message type = %q, want config", first.Type)
	}
}

func TestSSEPingDeferredByTraffic(t *testing.T) {
	srv := newTestServer("")
	srv.pingEvery = 150 * time.Millisecond
	handler := srv.routes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for srv.Hub().Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Sustained traffic well under the ping interval must hold pings off,
	// then a quiet stretch longer than the interval must produce one.
	for i := 0; i < 10; i++ {
		srv.PublishRaw([]byte(`{"type":"status","seq":` + strconv.Itoa(i) + `}`))
		time.Sleep(40 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	firstPing := strings.Index(body, `"type":"ping"`)
	if firstPing == -1 {
		t.Fatalf("no ping after quiet period: %q", body)
	}
	lastStatus := strings.LastIndex(body, `"type":"status"`)
	if lastStatus == -1 {
		t.Fatalf("broadcasts missing from stream: %q", body)
	}
	if firstPing < lastStatus {
		t.Fatalf("ping fired while traffic was flowing: %q", body)
	}
}

func TestSendDanmuEndpoint(t *testing.T) {
	srv := newTestServer("")
	handler := srv.routes()
	sub := srv.Hub().Subscribe()
	defer srv.Hub().Unsubscribe(sub)

	req := httptest.NewRequest(http.MethodPost, "/api/send-danmu", strings.NewReader(`{"text":"manual test"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	select {
	case payload := <-sub.Queue:
		var msg overlay.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if msg.Text != "manual test" || msg.Type != "danmu" {
			t.Fatalf("message = %+v", msg)
		}
		if msg.Style.FontSize != 32 {
			t.Fatalf("style not composed: %+v", msg.Style)
		}
	default:
		t.Fatal("nothing broadcast")
	}
}

func TestSendDanmuRejectsEmptyText(t *testing.T) {
	srv := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/api/send-danmu", strings.NewReader(`{"text":"  "}`))
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfigEndpointBroadcasts(t *testing.T) {
	srv := newTestServer("")
	handler := srv.routes()
	sub := srv.Hub().Subscribe()
	defer srv.Hub().Unsubscribe(sub)

	body := `{"config":{"base":{"fontSize":48,"color":"#112233","strokeColor":"#000000","strokeWidth":2,"typingSpeed":100,"displayDuration":3000,"fadeDuration":1000,"shakeAmplitude":2,"randomTilt":10}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	if got := srv.engine.Profile().Base.FontSize; got != 48 {
		t.Fatalf("profile fontSize = %d, want 48", got)
	}
	select {
	case payload := <-sub.Queue:
		if !strings.Contains(string(payload), `"type":"config"`) {
			t.Fatalf("broadcast = %s", payload)
		}
	default:
		t.Fatal("config change was not broadcast")
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"idle"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestPublishFiltersEvents(t *testing.T) {
	engine := overlay.NewEngine(overlay.DefaultProfile(), overlay.FilterConfig{Enabled: true, MaxLength: 3})
	srv := NewServer(engine, Options{}, nil)
	if _, ok := srv.Publish(&danmaku.Event{Type: danmaku.EventDanmu, Text: "too long to pass"}); ok {
		t.Fatal("filtered event must not publish")
	}
	if _, ok := srv.Publish(&danmaku.Event{Type: danmaku.EventDanmu, Text: "ok"}); !ok {
		t.Fatal("short event must publish")
	}
}
