package overlay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"danmuoverlay/dove/backend/service/danmaku"
)

// Message is the wire shape delivered to overlay subscribers. Every
// style field is written explicitly so the page never falls back to its
// own defaults.
type Message struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	User      string  `json:"user"`
	UID       int64   `json:"uid,omitempty"`
	Avatar    string  `json:"avatar,omitempty"`
	GiftName  string  `json:"giftName,omitempty"`
	GiftCount int     `json:"giftCount,omitempty"`
	Price     float64 `json:"price,omitempty"`
	Timestamp int64   `json:"timestamp"`
	TimeText  string  `json:"timeText"`
	Style     Style   `json:"style"`
}

// Engine holds the live filter, style profile and room identity behind
// one lock, replaced wholesale on updates so readers never observe a
// half-applied configuration.
type Engine struct {
	mu      sync.RWMutex
	profile StyleProfile
	filter  FilterConfig
	room    RoomProfile
}

func NewEngine(profile StyleProfile, filter FilterConfig) *Engine {
	return &Engine{profile: profile, filter: filter}
}

// SetProfile replaces the active style profile.
func (e *Engine) SetProfile(profile StyleProfile) {
	e.mu.Lock()
	e.profile = profile
	e.mu.Unlock()
}

// SetFilter replaces the active filter rules.
func (e *Engine) SetFilter(filter FilterConfig) {
	e.mu.Lock()
	e.filter = filter
	e.mu.Unlock()
}

// SetRoom records the connected room's identity for the streamer and
// own-badge rules.
func (e *Engine) SetRoom(room RoomProfile) {
	e.mu.Lock()
	e.room = room
	e.mu.Unlock()
}

// Profile returns the active style profile.
func (e *Engine) Profile() StyleProfile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile
}

// Process filters and styles one decoded event. The second return value
// is false when the filter dropped it.
func (e *Engine) Process(event *danmaku.Event) (*Message, bool) {
	if event == nil {
		return nil, false
	}
	e.mu.RLock()
	profile := e.profile
	filterCfg := e.filter
	room := e.room
	e.mu.RUnlock()

	if !NewFilter(filterCfg, room).Allow(event) {
		return nil, false
	}

	ts := event.Timestamp
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}
	return &Message{
		Type:      string(event.Type),
		Text:      event.Text,
		User:      event.User,
		UID:       event.UID,
		Avatar:    event.Avatar,
		GiftName:  event.GiftName,
		GiftCount: event.GiftCount,
		Price:     event.Price,
		Timestamp: ts,
		TimeText:  time.UnixMilli(ts).Format("15:04:05"),
		Style:     profile.Compose(event, room),
	}, true
}

// ConfigMessage builds the snapshot sent as the first frame of every
// subscriber stream and broadcast after configuration changes.
func (e *Engine) ConfigMessage() []byte {
	e.mu.RLock()
	profile := e.profile
	e.mu.RUnlock()

	payload, err := json.Marshal(map[string]any{
		"type":   "config",
		"config": profile,
	})
	if err != nil {
		log.Printf("[overlay][error] marshal config message: %v", err)
		return []byte(`{"type":"config"}`)
	}
	return payload
}
