package danmaku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval    = 20 * time.Second
	heartbeatBody        = "[object Object]"
	minReconnectInterval = time.Second
	dialTimeout          = 10 * time.Second

	clientUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.0.0 Safari/537.36"
	clientOrigin    = "https://live.bilibili.com"
)

type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateLive           State = "live"
	StateReconnecting   State = "reconnecting"
	StateStopped        State = "stopped"
)

type Status struct {
	State      State  `json:"state"`
	RoomID     int64  `json:"roomId"`
	Attempts   int    `json:"attempts"`
	Popularity uint32 `json:"popularity"`
	LastError  string `json:"lastError,omitempty"`
}

// Target names the room to attach to and the credential flow.
type Target struct {
	RoomID      int64
	UseOpenLive bool
	AuthCode    string
}

// ConnectInfo is everything needed to dial and authenticate a danmaku socket.
type ConnectInfo struct {
	WSURL        string
	AuthBody     []byte
	Cookie       string
	RoomID       int64
	AnchorUID    int64
	AnchorAvatar string
}

// Resolver turns a target into a dialable endpoint plus auth payload.
type Resolver interface {
	ResolveConnection(ctx context.Context, target Target) (*ConnectInfo, error)
}

// AuthRejectedError is terminal: the server refused the credentials, so
// reconnecting with the same auth body cannot help.
type AuthRejectedError struct {
	Code int64
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("auth rejected by server: code=%d", e.Code)
}

type Options struct {
	Target               Target
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	Debug                bool

	OnEvent   func(Event)
	OnConnect func(ConnectInfo)
	OnStatus  func(Status)
}

type Client struct {
	resolver Resolver
	opts     Options

	mu         sync.Mutex
	status     Status
	popularity uint32
}

func NewClient(resolver Resolver, opts Options) *Client {
	if opts.ReconnectInterval < minReconnectInterval {
		opts.ReconnectInterval = minReconnectInterval
	}
	return &Client{
		resolver: resolver,
		opts:     opts,
		status:   Status{State: StateIdle, RoomID: opts.Target.RoomID},
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setState(state State, lastErr string) {
	c.mu.Lock()
	c.status.State = state
	c.status.LastError = lastErr
	c.status.Popularity = c.popularity
	snapshot := c.status
	c.mu.Unlock()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(snapshot)
	}
}

func (c *Client) setAttempts(attempts int) {
	c.mu.Lock()
	c.status.Attempts = attempts
	c.mu.Unlock()
}

func (c *Client) logf(format string, args ...any) {
	log.Printf("[danmaku] "+format, args...)
}

func (c *Client) debugf(format string, args ...any) {
	if c.opts.Debug {
		log.Printf("[danmaku][debug] "+format, args...)
	}
}

// Run drives the connection loop until the context is cancelled, auth is
// rejected, or the reconnect budget is exhausted. The attempt counter resets
// after every successful authentication. A cancelled run ends in the idle
// state; auth rejection and budget exhaustion end in the terminal stopped
// state so observers can tell "shut down" from "gave up".
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		authed, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.setState(StateIdle, "")
			return ctx.Err()
		}
		var rejected *AuthRejectedError
		if errors.As(err, &rejected) {
			c.setState(StateStopped, rejected.Error())
			return err
		}
		if authed {
			attempts = 0
		}
		attempts++
		c.setAttempts(attempts)
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		if c.opts.MaxReconnectAttempts > 0 && attempts > c.opts.MaxReconnectAttempts {
			c.setState(StateStopped, detail)
			return fmt.Errorf("reconnect attempts exhausted after %d tries: %w", c.opts.MaxReconnectAttempts, err)
		}
		c.logf("connection lost (attempt %d): %v, retrying in %s", attempts, err, c.opts.ReconnectInterval)
		c.setState(StateReconnecting, detail)
		select {
		case <-ctx.Done():
			c.setState(StateIdle, "")
			return ctx.Err()
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

// runOnce performs a single connect/auth/read cycle. The first return reports
// whether authentication completed during this cycle.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	c.setState(StateConnecting, "")

	info, err := c.resolver.ResolveConnection(ctx, c.opts.Target)
	if err != nil {
		return false, fmt.Errorf("resolve connection: %w", err)
	}
	c.mu.Lock()
	c.status.RoomID = info.RoomID
	c.mu.Unlock()
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(*info)
	}

	headers := make(http.Header)
	headers.Set("User-Agent", clientUserAgent)
	headers.Set("Origin", clientOrigin)
	if info.Cookie != "" {
		headers.Set("Cookie", info.Cookie)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, info.WSURL, headers)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (http=%d)", info.WSURL, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", info.WSURL, err)
	}
	defer conn.Close()

	c.setState(StateAuthenticating, "")
	writeMu := &sync.Mutex{}
	writePacket := func(operation uint32, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, EncodePacket(operation, payload))
	}
	if err := writePacket(OpAuth, info.AuthBody); err != nil {
		return false, fmt.Errorf("send auth: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	authed := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(loopCtx, cancel, authed, writePacket)
	}()
	// Unblock the read below when the cycle is cancelled, whether by the
	// caller or by a failed heartbeat.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-loopCtx.Done()
		_ = conn.Close()
	}()

	authDone := false
	var loopErr error
	for {
		_, frame, readErr := conn.ReadMessage()
		if readErr != nil {
			if ctx.Err() == nil {
				loopErr = fmt.Errorf("read frame: %w", readErr)
			}
			break
		}
		for _, packet := range DecodePackets(frame) {
			switch packet.Operation {
			case OpAuthReply:
				if authDone {
					continue
				}
				code, parsed := parseAuthReplyCode(packet.Payload)
				if parsed && code != 0 {
					cancel()
					wg.Wait()
					return false, &AuthRejectedError{Code: code}
				}
				// An unparseable reply body still counts as success.
				authDone = true
				close(authed)
				c.setState(StateLive, "")
				c.logf("authenticated, room=%d", info.RoomID)
			case OpHeartbeatReply:
				if popularity, ok := ParsePopularity(packet.Payload); ok {
					c.mu.Lock()
					c.popularity = popularity
					c.status.Popularity = popularity
					c.mu.Unlock()
					c.debugf("popularity=%d", popularity)
				}
			case OpMessage:
				event, ok := DecodeEvent(packet.Payload)
				if !ok {
					if event.RawCommand != "" {
						c.debugf("skip command %s", event.RawCommand)
					}
					continue
				}
				if c.opts.OnEvent != nil {
					c.opts.OnEvent(event)
				}
			}
		}
	}

	cancel()
	wg.Wait()
	return authDone, loopErr
}

// heartbeatLoop sends the first heartbeat as soon as auth succeeds and every
// 20 seconds after that. A failed send cancels the cycle so the read loop
// unblocks immediately and the reconnect logic takes over instead of waiting
// for the server to notice the dead peer.
func (c *Client) heartbeatLoop(ctx context.Context, cancel context.CancelFunc, authed <-chan struct{}, writePacket func(uint32, []byte) error) {
	select {
	case <-ctx.Done():
		return
	case <-authed:
	}
	if err := writePacket(OpHeartbeat, []byte(heartbeatBody)); err != nil {
		c.logf("send heartbeat failed: %v, dropping connection", err)
		cancel()
		return
	}
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writePacket(OpHeartbeat, []byte(heartbeatBody)); err != nil {
				c.logf("send heartbeat failed: %v, dropping connection", err)
				cancel()
				return
			}
		}
	}
}

func parseAuthReplyCode(payload []byte) (int64, bool) {
	var reply struct {
		Code int64 `json:"code"`
	}
	if err := json.Unmarshal(payload, &reply); err != nil {
		return 0, false
	}
	return reply.Code, true
}
