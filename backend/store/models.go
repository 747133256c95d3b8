package store

import (
	"strings"
	"time"
)

type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type AdminSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type CookieSetting struct {
	Content      string    `json:"content"`
	RefreshToken string    `json:"refreshToken"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// OverlaySetting is the single-row general settings record controlling the
// live connection and the distribution server.
type OverlaySetting struct {
	RoomID               int64     `json:"roomId"`
	SSEPort              int       `json:"ssePort"`
	SSEPublic            bool      `json:"ssePublic"`
	SSEToken             string    `json:"sseToken"`
	WSDebug              bool      `json:"wsDebug"`
	ReconnectIntervalMS  int       `json:"reconnectIntervalMs"`
	MaxReconnectAttempts int       `json:"maxReconnectAttempts"`
	UseOpenLive          bool      `json:"useOpenLive"`
	AuthCode             string    `json:"authCode"`
	FilterMinLength      int       `json:"filterMinLength"`
	FilterMaxLength      int       `json:"filterMaxLength"`
	FilterKeywords       []string  `json:"filterKeywords"`
	FilterOnlyOwnBadge   bool      `json:"filterOnlyOwnBadge"`
	FilterOnlyStreamer   bool      `json:"filterOnlyStreamer"`
	FilterHideStreamer   bool      `json:"filterHideStreamer"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type StyleProfileRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DanmakuEventRecord struct {
	ID         int64     `json:"id"`
	RoomID     int64     `json:"roomId"`
	EventType  string    `json:"eventType"`
	UID        int64     `json:"uid"`
	Uname      string    `json:"uname"`
	Content    string    `json:"content"`
	GiftName   string    `json:"giftName"`
	GiftCount  int       `json:"giftCount"`
	Price      float64   `json:"price"`
	RawPayload string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

type APIErrorLog struct {
	ID         int64     `json:"id"`
	Endpoint   string    `json:"endpoint"`
	Method     string    `json:"method"`
	Stage      string    `json:"stage"`
	HTTPStatus int       `json:"httpStatus"`
	Attempt    int       `json:"attempt"`
	Retryable  bool      `json:"retryable"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
}

func parseSQLiteTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
