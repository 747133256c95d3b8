package danmaku

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type stubResolver struct {
	wsURL string
}

func (r *stubResolver) ResolveConnection(ctx context.Context, target Target) (*ConnectInfo, error) {
	return &ConnectInfo{
		WSURL:    r.wsURL,
		AuthBody: []byte(`{"roomid":1}`),
		RoomID:   target.RoomID,
	}, nil
}

func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseAuthReplyCode(t *testing.T) {
	if code, ok := parseAuthReplyCode([]byte(`{"code":0}`)); !ok || code != 0 {
		t.Fatalf("got %d, %v", code, ok)
	}
	if code, ok := parseAuthReplyCode([]byte(`{"code":-101}`)); !ok || code != -101 {
		t.Fatalf("got %d, %v", code, ok)
	}
	if _, ok := parseAuthReplyCode([]byte(`garbage`)); ok {
		t.Fatal("garbage should not parse")
	}
}

func TestNewClientClampsReconnectInterval(t *testing.T) {
	client := NewClient(&stubResolver{}, Options{ReconnectInterval: 10 * time.Millisecond})
	if client.opts.ReconnectInterval != minReconnectInterval {
		t.Fatalf("interval = %s, want %s", client.opts.ReconnectInterval, minReconnectInterval)
	}
}

func TestClientAuthAndEventDelivery(t *testing.T) {
	var connCount int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		// Serve the full flow once; drop later reconnect attempts so the
		// client spends its budget and Run returns.
		if atomic.AddInt32(&connCount, 1) > 1 {
			return
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		packets := DecodePackets(frame)
		if len(packets) != 1 || packets[0].Operation != OpAuth {
			t.Errorf("first packet: %+v", packets)
			return
		}
		reply := EncodePacket(OpAuthReply, []byte(`{"code":0}`))
		msg := EncodePacket(OpMessage, []byte(`{"cmd":"DANMU_MSG","info":[[0,1,25,0,1],"hi",[1,"u",0]]}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, reply)
		_ = conn.WriteMessage(websocket.BinaryMessage, msg)
		// Give the client a moment to process before closing.
		time.Sleep(100 * time.Millisecond)
	})

	var mu sync.Mutex
	var events []Event
	client := NewClient(&stubResolver{wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Options{
		Target:               Target{RoomID: 1},
		MaxReconnectAttempts: 1,
		OnEvent: func(event Event) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Run(ctx)
	if err == nil {
		t.Fatal("Run should return an error once the reconnect budget is spent")
	}
	if ctx.Err() != nil {
		t.Fatalf("test timed out: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no events delivered")
	}
	if events[0].Text != "hi" || events[0].Type != EventDanmu {
		t.Fatalf("event = %+v", events[0])
	}
}

type failingResolver struct {
	calls int32
}

func (r *failingResolver) ResolveConnection(ctx context.Context, target Target) (*ConnectInfo, error) {
	atomic.AddInt32(&r.calls, 1)
	return nil, errors.New("resolve failed")
}

func TestClientReconnectBudgetExhausted(t *testing.T) {
	resolver := &failingResolver{}
	var mu sync.Mutex
	var statuses []Status
	client := NewClient(resolver, Options{
		Target:               Target{RoomID: 1},
		MaxReconnectAttempts: 2,
		OnStatus: func(status Status) {
			mu.Lock()
			statuses = append(statuses, status)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := client.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "reconnect attempts exhausted") {
		t.Fatalf("err = %v, want exhausted reconnect budget", err)
	}
	if got := atomic.LoadInt32(&resolver.calls); got != 3 {
		t.Fatalf("resolve calls = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var reconnects []int
	for _, status := range statuses {
		if status.State == StateReconnecting {
			reconnects = append(reconnects, status.Attempts)
		}
	}
	if len(reconnects) != 2 || reconnects[0] != 1 || reconnects[1] != 2 {
		t.Fatalf("reconnecting attempts = %v, want [1 2]", reconnects)
	}
	last := statuses[len(statuses)-1]
	if last.State != StateStopped {
		t.Fatalf("final state = %s, want %s", last.State, StateStopped)
	}
	if last.LastError == "" {
		t.Fatal("terminal status should carry the last error")
	}
}

func TestClientAttemptsResetAfterAuth(t *testing.T) {
	var connCount int32
	srv := newWSServer(t, func(conn *websocket.Conn) {
		// Authenticate the first two connections and refuse the rest, so
		// a budget of one only survives three cycles if the attempt
		// counter resets after each successful auth.
		if atomic.AddInt32(&connCount, 1) > 2 {
			return
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, EncodePacket(OpAuthReply, []byte(`{"code":0}`)))
		time.Sleep(50 * time.Millisecond)
	})

	client := NewClient(&stubResolver{wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Options{
		Target:               Target{RoomID: 1},
		MaxReconnectAttempts: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Run(ctx); err == nil {
		t.Fatal("Run should return an error once the reconnect budget is spent")
	}
	if ctx.Err() != nil {
		t.Fatal("test timed out")
	}
	if got := atomic.LoadInt32(&connCount); got != 3 {
		t.Fatalf("connections served = %d, want 3", got)
	}
	if got := client.Status().State; got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
}

func TestClientHeartbeatFailureDropsCycle(t *testing.T) {
	client := NewClient(&stubResolver{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	authed := make(chan struct{})
	close(authed)
	done := make(chan struct{})
	go func() {
		client.heartbeatLoop(ctx, cancel, authed, func(uint32, []byte) error {
			return errors.New("broken pipe")
		})
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat write failure did not cancel the cycle")
	}
	<-done
}

func TestClientAuthRejected(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, EncodePacket(OpAuthReply, []byte(`{"code":-101}`)))
		time.Sleep(100 * time.Millisecond)
	})

	client := NewClient(&stubResolver{wsURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, Options{
		Target:               Target{RoomID: 1},
		MaxReconnectAttempts: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Run(ctx)
	var rejected *AuthRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want AuthRejectedError", err)
	}
	if rejected.Code != -101 {
		t.Fatalf("code = %d", rejected.Code)
	}
	if got := client.Status().State; got != StateStopped {
		t.Fatalf("state = %s, want %s", got, StateStopped)
	}
}
