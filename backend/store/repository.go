package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

func (s *Store) GetCookieSetting(ctx context.Context) (*CookieSetting, error) {
	const q = `SELECT content, refresh_token, updated_at FROM cookie_settings WHERE id = 1`
	row := s.db.QueryRowContext(ctx, q)
	item := CookieSetting{}
	var updatedAt string
	if err := row.Scan(&item.Content, &item.RefreshToken, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &CookieSetting{}, nil
		}
		return nil, err
	}
	item.UpdatedAt = parseSQLiteTime(updatedAt)
	return &item, nil
}

func (s *Store) SaveCookie(ctx context.Context, content string, refreshToken string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE cookie_settings SET content=?, refresh_token=?, updated_at=? WHERE id=1`,
		strings.TrimSpace(content), strings.TrimSpace(refreshToken), now)
	return err
}

func (s *Store) SaveCookieContent(ctx context.Context, content string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE cookie_settings SET content=?, updated_at=? WHERE id=1`,
		strings.TrimSpace(content), now)
	return err
}

func (s *Store) SaveRefreshToken(ctx context.Context, refreshToken string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE cookie_settings SET refresh_token=?, updated_at=? WHERE id=1`,
		strings.TrimSpace(refreshToken), now)
	return err
}

func (s *Store) GetOverlaySetting(ctx context.Context) (*OverlaySetting, error) {
	const q = `SELECT room_id, sse_port, sse_public, sse_token, ws_debug,
		reconnect_interval_ms, max_reconnect_attempts, use_open_live, auth_code,
		filter_min_length, filter_max_length, filter_keywords,
		filter_only_own_badge, filter_only_streamer, filter_hide_streamer, updated_at
		FROM overlay_settings WHERE id = 1`
	row := s.db.QueryRowContext(ctx, q)
	item := OverlaySetting{}
	var (
		ssePublic, wsDebug, useOpenLive       int
		onlyOwnBadge, onlyStreamer, hideStrmr int
		keywordsJSON                          string
		updatedAt                             string
	)
	if err := row.Scan(&item.RoomID, &item.SSEPort, &ssePublic, &item.SSEToken, &wsDebug,
		&item.ReconnectIntervalMS, &item.MaxReconnectAttempts, &useOpenLive, &item.AuthCode,
		&item.FilterMinLength, &item.FilterMaxLength, &keywordsJSON,
		&onlyOwnBadge, &onlyStreamer, &hideStrmr, &updatedAt); err != nil {
		return nil, err
	}
	item.SSEPublic = ssePublic != 0
	item.WSDebug = wsDebug != 0
	item.UseOpenLive = useOpenLive != 0
	item.FilterOnlyOwnBadge = onlyOwnBadge != 0
	item.FilterOnlyStreamer = onlyStreamer != 0
	item.FilterHideStreamer = hideStrmr != 0
	item.UpdatedAt = parseSQLiteTime(updatedAt)
	item.FilterKeywords = []string{}
	if strings.TrimSpace(keywordsJSON) != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &item.FilterKeywords); err != nil {
			item.FilterKeywords = []string{}
		}
	}
	return &item, nil
}

func (s *Store) SaveOverlaySetting(ctx context.Context, item OverlaySetting) error {
	keywordsJSON, err := json.Marshal(item.FilterKeywords)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`UPDATE overlay_settings SET room_id=?, sse_port=?, sse_public=?, sse_token=?, ws_debug=?,
			reconnect_interval_ms=?, max_reconnect_attempts=?, use_open_live=?, auth_code=?,
			filter_min_length=?, filter_max_length=?, filter_keywords=?,
			filter_only_own_badge=?, filter_only_streamer=?, filter_hide_streamer=?, updated_at=?
		WHERE id=1`,
		item.RoomID, item.SSEPort, boolToInt(item.SSEPublic), item.SSEToken, boolToInt(item.WSDebug),
		item.ReconnectIntervalMS, item.MaxReconnectAttempts, boolToInt(item.UseOpenLive), item.AuthCode,
		item.FilterMinLength, item.FilterMaxLength, string(keywordsJSON),
		boolToInt(item.FilterOnlyOwnBadge), boolToInt(item.FilterOnlyStreamer), boolToInt(item.FilterHideStreamer), now)
	return err
}

func (s *Store) ListStyleProfiles(ctx context.Context) ([]StyleProfileRecord, error) {
	const q = `SELECT id, name, body, is_active, created_at, updated_at FROM style_profiles ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]StyleProfileRecord, 0, 8)
	for rows.Next() {
		item := StyleProfileRecord{}
		var isActive int
		var createdAt, updatedAt string
		if err := rows.Scan(&item.ID, &item.Name, &item.Body, &isActive, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.IsActive = isActive != 0
		item.CreatedAt = parseSQLiteTime(createdAt)
		item.UpdatedAt = parseSQLiteTime(updatedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetStyleProfileByName(ctx context.Context, name string) (*StyleProfileRecord, error) {
	const q = `SELECT id, name, body, is_active, created_at, updated_at FROM style_profiles WHERE name = ? LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, strings.TrimSpace(name))
	item := StyleProfileRecord{}
	var isActive int
	var createdAt, updatedAt string
	if err := row.Scan(&item.ID, &item.Name, &item.Body, &isActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	item.IsActive = isActive != 0
	item.CreatedAt = parseSQLiteTime(createdAt)
	item.UpdatedAt = parseSQLiteTime(updatedAt)
	return &item, nil
}

func (s *Store) GetActiveStyleProfile(ctx context.Context) (*StyleProfileRecord, error) {
	const q = `SELECT id, name, body, is_active, created_at, updated_at FROM style_profiles WHERE is_active = 1 LIMIT 1`
	row := s.db.QueryRowContext(ctx, q)
	item := StyleProfileRecord{}
	var isActive int
	var createdAt, updatedAt string
	if err := row.Scan(&item.ID, &item.Name, &item.Body, &isActive, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	item.IsActive = isActive != 0
	item.CreatedAt = parseSQLiteTime(createdAt)
	item.UpdatedAt = parseSQLiteTime(updatedAt)
	return &item, nil
}

func (s *Store) SaveStyleProfile(ctx context.Context, name string, body string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("style profile name is required")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO style_profiles (name, body, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at`,
		name, body, now, now)
	return err
}

func (s *Store) ActivateStyleProfile(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("style profile name is required")
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE style_profiles SET is_active=1 WHERE name=?`, name)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errors.New("style profile not found: " + name)
		}
		_, err = tx.ExecContext(ctx, `UPDATE style_profiles SET is_active=0 WHERE name<>?`, name)
		return err
	})
}

func (s *Store) DeleteStyleProfile(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("style profile name is required")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM style_profiles WHERE name=? AND is_active=0`, name)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("style profile not found or still active: " + name)
	}
	return nil
}

func (s *Store) AppendDanmakuEvent(ctx context.Context, item DanmakuEventRecord) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO danmaku_events (room_id, event_type, uid, uname, content, gift_name, gift_count, price, raw_payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.RoomID, item.EventType, item.UID, item.Uname, item.Content,
		item.GiftName, item.GiftCount, item.Price, item.RawPayload, now)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) ListRecentDanmakuEvents(ctx context.Context, roomID int64, limit int) ([]DanmakuEventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `SELECT id, room_id, event_type, uid, uname, content, gift_name, gift_count, price, created_at
		FROM danmaku_events WHERE (? = 0 OR room_id = ?) ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, roomID, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]DanmakuEventRecord, 0, limit)
	for rows.Next() {
		item := DanmakuEventRecord{}
		var createdAt string
		if err := rows.Scan(&item.ID, &item.RoomID, &item.EventType, &item.UID, &item.Uname,
			&item.Content, &item.GiftName, &item.GiftCount, &item.Price, &createdAt); err != nil {
			return nil, err
		}
		item.CreatedAt = parseSQLiteTime(createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) PruneDanmakuEvents(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = 10000
	}
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM danmaku_events WHERE id NOT IN (SELECT id FROM danmaku_events ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *Store) CreateAPIErrorLog(ctx context.Context, item APIErrorLog) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO api_error_logs (endpoint, method, stage, http_status, attempt, retryable, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Endpoint, item.Method, item.Stage, item.HTTPStatus, item.Attempt, boolToInt(item.Retryable), item.Detail, now)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) ListRecentAPIErrorLogs(ctx context.Context, limit int) ([]APIErrorLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `SELECT id, endpoint, method, stage, http_status, attempt, retryable, detail, created_at
		FROM api_error_logs ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]APIErrorLog, 0, limit)
	for rows.Next() {
		item := APIErrorLog{}
		var retryable int
		var createdAt string
		if err := rows.Scan(&item.ID, &item.Endpoint, &item.Method, &item.Stage, &item.HTTPStatus,
			&item.Attempt, &retryable, &item.Detail, &createdAt); err != nil {
			return nil, err
		}
		item.Retryable = retryable != 0
		item.CreatedAt = parseSQLiteTime(createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}
