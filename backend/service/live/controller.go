// Package live owns the single active danmaku session: it starts and
// stops the protocol client, feeds decoded events through the overlay
// pipeline and records them into the history table.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"danmuoverlay/dove/backend/service/danmaku"
	"danmuoverlay/dove/backend/service/dispatch"
	"danmuoverlay/dove/backend/service/overlay"
	"danmuoverlay/dove/backend/store"
)

const historyKeep = 10000

type Controller struct {
	resolver danmaku.Resolver
	engine   *overlay.Engine
	server   *dispatch.Server
	store    *store.Store

	mu       sync.Mutex
	client   *danmaku.Client
	cancel   context.CancelFunc
	done     chan struct{}
	roomID   int64
	appended int64
}

func NewController(resolver danmaku.Resolver, engine *overlay.Engine, server *dispatch.Server, st *store.Store) *Controller {
	return &Controller{
		resolver: resolver,
		engine:   engine,
		server:   server,
		store:    st,
	}
}

// Connect starts the session described by the stored settings. A second
// call while a session is active is rejected; callers disconnect first.
func (c *Controller) Connect(ctx context.Context) error {
	settings, err := c.store.GetOverlaySetting(ctx)
	if err != nil {
		return err
	}
	if !settings.UseOpenLive && settings.RoomID <= 0 {
		return errors.New("room id is not configured")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return errors.New("already connected")
	}

	c.engine.SetFilter(filterFromSettings(settings))

	target := danmaku.Target{
		RoomID:      settings.RoomID,
		UseOpenLive: settings.UseOpenLive,
		AuthCode:    settings.AuthCode,
	}
	client := danmaku.NewClient(c.resolver, danmaku.Options{
		Target:               target,
		ReconnectInterval:    time.Duration(settings.ReconnectIntervalMS) * time.Millisecond,
		MaxReconnectAttempts: settings.MaxReconnectAttempts,
		Debug:                settings.WSDebug,
		OnEvent:              c.handleEvent,
		OnConnect:            c.handleConnect,
		OnStatus:             c.handleStatus,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.client = client
	c.cancel = cancel
	c.done = done
	c.roomID = settings.RoomID

	go func() {
		defer close(done)
		if err := client.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[live][error] session ended: %v", err)
		}
		c.mu.Lock()
		if c.client == client {
			c.client = nil
			c.cancel = nil
			c.done = nil
		}
		c.mu.Unlock()
	}()
	return nil
}

// Disconnect cancels the running session and waits for its goroutine.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.client = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	c.engine.SetRoom(overlay.RoomProfile{})
}

// Status reports the client state plus room bookkeeping for /api/status.
func (c *Controller) Status() map[string]any {
	c.mu.Lock()
	client := c.client
	roomID := c.roomID
	c.mu.Unlock()

	if client == nil {
		return map[string]any{
			"connected": false,
			"state":     string(danmaku.StateIdle),
			"roomId":    roomID,
		}
	}
	status := client.Status()
	return map[string]any{
		"connected":  status.State == danmaku.StateLive,
		"state":      string(status.State),
		"roomId":     status.RoomID,
		"attempts":   status.Attempts,
		"popularity": status.Popularity,
		"lastError":  status.LastError,
	}
}

// ApplySettings pushes updated filter rules into the running pipeline
// and rebinds the overlay stream server when its options changed.
// Connection parameters (room, credentials, reconnect policy) only take
// effect on the next Connect.
func (c *Controller) ApplySettings(ctx context.Context, settings *store.OverlaySetting) error {
	c.engine.SetFilter(filterFromSettings(settings))
	return c.server.Apply(ctx, dispatch.Options{
		Port:   settings.SSEPort,
		Public: settings.SSEPublic,
		Token:  settings.SSEToken,
	})
}

func filterFromSettings(settings *store.OverlaySetting) overlay.FilterConfig {
	enabled := settings.FilterMinLength > 0 || settings.FilterMaxLength > 0 ||
		len(settings.FilterKeywords) > 0 || settings.FilterOnlyOwnBadge ||
		settings.FilterOnlyStreamer || settings.FilterHideStreamer
	return overlay.FilterConfig{
		Enabled:      enabled,
		MinLength:    settings.FilterMinLength,
		MaxLength:    settings.FilterMaxLength,
		Keywords:     settings.FilterKeywords,
		OnlyOwnBadge: settings.FilterOnlyOwnBadge,
		OnlyStreamer: settings.FilterOnlyStreamer,
		HideStreamer: settings.FilterHideStreamer,
	}
}

func (c *Controller) handleConnect(info danmaku.ConnectInfo) {
	c.mu.Lock()
	c.roomID = info.RoomID
	c.mu.Unlock()
	c.engine.SetRoom(overlay.RoomProfile{
		AnchorUID:    info.AnchorUID,
		AnchorAvatar: info.AnchorAvatar,
	})
}

func (c *Controller) handleStatus(status danmaku.Status) {
	payload, err := json.Marshal(map[string]any{
		"type":   "status",
		"status": status,
	})
	if err != nil {
		return
	}
	c.server.PublishRaw(payload)
}

func (c *Controller) handleEvent(event danmaku.Event) {
	msg, ok := c.server.Publish(&event)
	if !ok {
		return
	}
	c.recordEvent(&event, msg)
}

func (c *Controller) recordEvent(event *danmaku.Event, msg *overlay.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	if _, err := c.store.AppendDanmakuEvent(ctx, store.DanmakuEventRecord{
		RoomID:     roomID,
		EventType:  string(event.Type),
		UID:        event.UID,
		Uname:      event.User,
		Content:    msg.Text,
		GiftName:   event.GiftName,
		GiftCount:  event.GiftCount,
		Price:      event.Price,
		RawPayload: event.RawCommand,
	}); err != nil {
		log.Printf("[live][warn] append history: %v", err)
		return
	}

	c.mu.Lock()
	c.appended++
	prune := c.appended%500 == 0
	c.mu.Unlock()
	if prune {
		if _, err := c.store.PruneDanmakuEvents(ctx, historyKeep); err != nil {
			log.Printf("[live][warn] prune history: %v", err)
		}
	}
}
