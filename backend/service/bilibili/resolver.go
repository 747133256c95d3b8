package bilibili

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"danmuoverlay/dove/backend/service/danmaku"
)

type roomInfo struct {
	RoomID int64 `json:"room_id"`
	UID    int64 `json:"uid"`
}

type danmuInfoData struct {
	Token    string         `json:"token"`
	HostList []danmuHostRef `json:"host_list"`
}

type danmuHostRef struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	WSPort  int    `json:"ws_port"`
	WSSPort int    `json:"wss_port"`
}

// ResolveConnection implements danmaku.Resolver for both credential flows.
func (s *Service) ResolveConnection(ctx context.Context, target danmaku.Target) (*danmaku.ConnectInfo, error) {
	if target.UseOpenLive {
		return s.resolveOpenLiveConnection(ctx, target)
	}
	return s.resolveWebConnection(ctx, target)
}

func (s *Service) resolveWebConnection(ctx context.Context, target danmaku.Target) (*danmaku.ConnectInfo, error) {
	if target.RoomID <= 0 {
		return nil, errors.New("room id is required")
	}

	realRoomID, anchorUID := s.resolveRoom(ctx, target.RoomID)

	cookieHeader := strings.TrimSpace(s.readCookieString())
	if parseCookieValue(cookieHeader, "buvid3") == "" {
		if buvid := s.fetchBuvid3(ctx); buvid != "" {
			cookieHeader = mergeCookiePair(cookieHeader, "buvid3", buvid)
		}
	}

	anchorAvatar := ""
	if anchorUID > 0 {
		anchorAvatar = s.fetchAnchorAvatar(ctx, anchorUID)
	}

	wsURL := fallbackWSURL
	token := ""
	info, err := s.fetchDanmuInfo(ctx, realRoomID, cookieHeader)
	if err != nil {
		s.logWarn("getDanmuInfo failed, using fallback host: %v", err)
	} else {
		token = info.Token
		if built, buildErr := buildWSURL(info.HostList); buildErr == nil {
			wsURL = built
		}
	}

	uid := s.LoggedInUID(ctx)
	authBody, err := json.Marshal(map[string]any{
		"uid":      uid,
		"roomid":   realRoomID,
		"protover": 3,
		"buvid":    parseCookieValue(cookieHeader, "buvid3"),
		"platform": "web",
		"type":     2,
		"key":      strings.TrimSpace(token),
	})
	if err != nil {
		return nil, err
	}

	return &danmaku.ConnectInfo{
		WSURL:        wsURL,
		AuthBody:     authBody,
		Cookie:       cookieHeader,
		RoomID:       realRoomID,
		AnchorUID:    anchorUID,
		AnchorAvatar: anchorAvatar,
	}, nil
}

// resolveRoom maps a short room id to the real one and finds the anchor uid.
// Failures fall back to the input id; the caller can still try to connect.
func (s *Service) resolveRoom(ctx context.Context, roomID int64) (int64, int64) {
	form := url.Values{}
	form.Set("room_id", strconv.FormatInt(roomID, 10))
	info, _, _, err := requestJSON[roomInfo](s, ctx, http.MethodGet, getRoomInfoAPI+"?"+form.Encode(), nil, false)
	if err != nil {
		s.logWarn("resolve room %d failed: %v", roomID, err)
		return roomID, 0
	}
	realID := info.RoomID
	if realID <= 0 {
		realID = roomID
	}
	return realID, info.UID
}

// fetchBuvid3 grabs the device cookie from the home page. Absence is
// non-fatal, some endpoints just get stricter rate limits without it.
func (s *Service) fetchBuvid3(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buvidHomePage, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	resp, err := s.client.Do(req)
	if err != nil {
		s.logWarn("fetch buvid3 failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "buvid3" {
			return cookie.Value
		}
	}
	return ""
}

func (s *Service) fetchAnchorAvatar(ctx context.Context, uid int64) string {
	type cardData struct {
		Card struct {
			Face string `json:"face"`
		} `json:"card"`
	}
	data, _, _, err := requestJSON[cardData](s, ctx, http.MethodGet, userCardAPI+"?mid="+strconv.FormatInt(uid, 10), nil, false)
	if err != nil {
		s.logWarn("fetch anchor avatar failed: %v", err)
		return ""
	}
	return strings.TrimSpace(data.Card.Face)
}

func (s *Service) fetchDanmuInfo(ctx context.Context, roomID int64, cookieHeader string) (*danmuInfoData, error) {
	parsedURL, err := url.Parse(getDanmuInfoAPI)
	if err != nil {
		return nil, err
	}
	query := parsedURL.Query()
	query.Set("id", strconv.FormatInt(roomID, 10))
	query.Set("type", "0")
	query.Set("web_location", "444.8")
	if err := s.signWBIQuery(ctx, query, cookieHeader); err != nil {
		return nil, err
	}
	parsedURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Referer", "https://live.bilibili.com/"+strconv.FormatInt(roomID, 10))
	req.Header.Set("Origin", "https://live.bilibili.com")
	if strings.TrimSpace(cookieHeader) != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("getDanmuInfo status=%d", resp.StatusCode)
	}

	var envelope struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Data    danmuInfoData `json:"data"`
	}
	if err := decodeJSONBody(resp, &envelope); err != nil {
		return nil, err
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("getDanmuInfo code=%d message=%s", envelope.Code, envelope.Message)
	}
	if strings.TrimSpace(envelope.Data.Token) == "" {
		return nil, errors.New("getDanmuInfo token is empty")
	}
	return &envelope.Data, nil
}

func buildWSURL(hostList []danmuHostRef) (string, error) {
	for _, host := range hostList {
		name := strings.TrimSpace(host.Host)
		if name == "" {
			continue
		}
		port := host.WSSPort
		if port <= 0 {
			port = host.Port
		}
		if port <= 0 {
			port = 443
		}
		return (&url.URL{
			Scheme: "wss",
			Host:   fmt.Sprintf("%s:%d", name, port),
			Path:   "/sub",
		}).String(), nil
	}
	return "", errors.New("empty danmaku ws host list")
}

// Open-live flow. The app/start endpoint authenticates with an HMAC-SHA256
// signature over a fixed ordered set of x-bili headers and returns an opaque
// auth body the socket passes through verbatim.

var openLiveSignedHeaders = []string{
	"x-bili-accesskeyid",
	"x-bili-content-md5",
	"x-bili-signature-method",
	"x-bili-signature-nonce",
	"x-bili-signature-version",
	"x-bili-timestamp",
}

func (s *Service) resolveOpenLiveConnection(ctx context.Context, target danmaku.Target) (*danmaku.ConnectInfo, error) {
	cfg := s.readConfig()
	if strings.TrimSpace(cfg.BiliAccessKey) == "" || strings.TrimSpace(cfg.BiliAccessSecret) == "" || cfg.BiliAppID <= 0 {
		return nil, errors.New("open-live requires access key, secret and app id")
	}
	if strings.TrimSpace(target.AuthCode) == "" {
		return nil, errors.New("open-live requires the streamer auth code")
	}

	reqBody, err := json.Marshal(map[string]any{
		"code":   strings.TrimSpace(target.AuthCode),
		"app_id": cfg.BiliAppID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openLiveAppStart, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	ts := time.Now().Unix()
	md5sum := md5.Sum(reqBody)
	req.Header.Set("x-bili-accesskeyid", cfg.BiliAccessKey)
	req.Header.Set("x-bili-content-md5", hex.EncodeToString(md5sum[:]))
	req.Header.Set("x-bili-signature-method", "HMAC-SHA256")
	req.Header.Set("x-bili-signature-nonce", fmt.Sprintf("%d%08d", ts, rand.Intn(100000000)))
	req.Header.Set("x-bili-signature-version", "1.0")
	req.Header.Set("x-bili-timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("Authorization", signOpenLiveHeaders(cfg.BiliAccessSecret, req.Header))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-live app start: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("open-live app start status=%d", resp.StatusCode)
	}

	var envelope struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    struct {
			WebsocketInfo struct {
				AuthBody string   `json:"auth_body"`
				WSSLink  []string `json:"wss_link"`
			} `json:"websocket_info"`
			AnchorInfo struct {
				RoomID int64  `json:"room_id"`
				UID    int64  `json:"uid"`
				UFace  string `json:"uface"`
			} `json:"anchor_info"`
		} `json:"data"`
	}
	if err := decodeJSONBody(resp, &envelope); err != nil {
		return nil, err
	}
	if envelope.Code != 0 {
		return nil, fmt.Errorf("open-live app start code=%d message=%s", envelope.Code, envelope.Message)
	}
	if len(envelope.Data.WebsocketInfo.WSSLink) == 0 || strings.TrimSpace(envelope.Data.WebsocketInfo.WSSLink[0]) == "" {
		return nil, errors.New("open-live app start returned no wss link")
	}

	return &danmaku.ConnectInfo{
		WSURL:        strings.TrimSpace(envelope.Data.WebsocketInfo.WSSLink[0]),
		AuthBody:     []byte(envelope.Data.WebsocketInfo.AuthBody),
		RoomID:       envelope.Data.AnchorInfo.RoomID,
		AnchorUID:    envelope.Data.AnchorInfo.UID,
		AnchorAvatar: strings.TrimSpace(envelope.Data.AnchorInfo.UFace),
	}, nil
}

// signOpenLiveHeaders joins the signed headers as lowercase "key:value" lines
// and HMACs them with the access secret.
func signOpenLiveHeaders(secret string, header http.Header) string {
	var buf bytes.Buffer
	for i, key := range openLiveSignedHeaders {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(header.Get(key))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(buf.Bytes())
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeJSONBody(resp *http.Response, dst any) error {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(bodyBytes, dst)
}
