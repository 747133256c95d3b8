package bilibili

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"

	"danmuoverlay/dove/backend/config"
	"danmuoverlay/dove/backend/store"
)

const (
	navAPI            = "https://api.bilibili.com/x/web-interface/nav"
	qrCodeGenerateAPI = "https://passport.bilibili.com/x/passport-login/web/qrcode/generate"
	qrCodePollAPI     = "https://passport.bilibili.com/x/passport-login/web/qrcode/poll"
	getRoomInfoAPI    = "https://api.live.bilibili.com/room/v1/Room/get_info"
	getDanmuInfoAPI   = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"
	userCardAPI       = "https://api.bilibili.com/x/web-interface/card"
	buvidHomePage     = "https://www.bilibili.com/"
	openLiveAppStart  = "https://live-open.biliapi.com/v2/app/start"

	fallbackWSURL = "wss://broadcastlv.chat.bilibili.com/sub"
)

type QRCodeStatus struct {
	QrCode              string `json:"qrCode"`
	QrCodeKey           string `json:"qrCodeKey"`
	QrCodeEffectiveTime int    `json:"qrCodeEffectiveTime"`
	IsScaned            bool   `json:"isScaned"`
	IsLogged            bool   `json:"isLogged"`
	Message             string `json:"message"`
}

type LoginStatus struct {
	LoggedIn     bool          `json:"loggedIn"`
	UID          int64         `json:"uid"`
	Uname        string        `json:"uname"`
	Message      string        `json:"message"`
	QrCodeStatus *QRCodeStatus `json:"qrCodeStatus,omitempty"`
}

type Service struct {
	store  *store.Store
	cfg    config.Config
	client *http.Client

	mu      sync.RWMutex
	qrState *qrState

	wbiMu           sync.Mutex
	wbiImgKey       string
	wbiSubKey       string
	wbiKeyExpiresAt time.Time
}

type qrState struct {
	status      QRCodeStatus
	expireAt    time.Time
	lastPollAt  time.Time
	isCompleted bool
}

func New(storeDB *store.Store, cfg config.Config) *Service {
	return &Service{
		store: storeDB,
		cfg:   cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *Service) readConfig() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) UpdateConfig(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *Service) logInfo(format string, args ...any) {
	log.Printf("[bilibili] "+format, args...)
}

func (s *Service) logWarn(format string, args ...any) {
	log.Printf("[bilibili][warn] "+format, args...)
}

func (s *Service) logError(format string, args ...any) {
	log.Printf("[bilibili][error] "+format, args...)
}

type apiErrorReport struct {
	Endpoint   string
	Method     string
	Stage      string
	HTTPStatus int
	Attempt    int
	Retryable  bool
	Detail     string
}

type bilibiliAPIError struct {
	report apiErrorReport
}

func (e *bilibiliAPIError) Error() string {
	return e.report.Detail
}

func (s *Service) recordAPIError(report apiErrorReport) {
	report.Endpoint = strings.TrimSpace(report.Endpoint)
	report.Method = strings.ToUpper(strings.TrimSpace(report.Method))
	report.Stage = strings.TrimSpace(report.Stage)
	report.Detail = strings.TrimSpace(report.Detail)
	if report.Stage == "" {
		report.Stage = "unknown"
	}
	if report.Method == "" {
		report.Method = "UNKNOWN"
	}
	if _, err := s.store.CreateAPIErrorLog(context.Background(), store.APIErrorLog{
		Endpoint:   report.Endpoint,
		Method:     report.Method,
		Stage:      report.Stage,
		HTTPStatus: report.HTTPStatus,
		Attempt:    report.Attempt,
		Retryable:  report.Retryable,
		Detail:     report.Detail,
	}); err != nil {
		s.logError("record api_error_logs failed: %v", err)
	}
}

func (s *Service) GetLoginStatus(ctx context.Context) (LoginStatus, error) {
	status := LoginStatus{}
	if qr := s.getQRCodeStatus(); qr != nil {
		status.QrCodeStatus = qr
	}

	cookieSetting, err := s.store.GetCookieSetting(ctx)
	if err != nil {
		return status, err
	}
	if strings.TrimSpace(cookieSetting.Content) == "" {
		status.Message = "Not logged in"
		return status, nil
	}

	user, err := s.getUserInfo(ctx)
	if err != nil {
		s.logWarn("get user info failed in status: %v", err)
		status.Message = "Cookie exists but user validation failed: " + err.Error()
		return status, nil
	}
	status.LoggedIn = true
	status.UID = user.Mid
	status.Uname = user.Uname
	status.Message = "Logged in as " + user.Uname
	return status, nil
}

type navUserInfo struct {
	IsLogin bool   `json:"isLogin"`
	Mid     int64  `json:"mid"`
	Uname   string `json:"uname"`
}

func (s *Service) getUserInfo(ctx context.Context) (*navUserInfo, error) {
	user, _, _, err := requestJSON[navUserInfo](s, ctx, http.MethodGet, navAPI, nil, true)
	if err != nil {
		return nil, err
	}
	if !user.IsLogin {
		return nil, errors.New("cookie is no longer valid")
	}
	return &user, nil
}

// LoggedInUID returns the uid from the stored cookie, or 0 when anonymous.
func (s *Service) LoggedInUID(ctx context.Context) int64 {
	cookieSetting, err := s.store.GetCookieSetting(ctx)
	if err != nil || strings.TrimSpace(cookieSetting.Content) == "" {
		return 0
	}
	if raw := parseCookieValue(cookieSetting.Content, "DedeUserID"); raw != "" {
		uid := int64(0)
		if _, err := fmt.Sscanf(raw, "%d", &uid); err == nil {
			return uid
		}
	}
	return 0
}

func (s *Service) RequestQRCodeLogin(ctx context.Context) (*QRCodeStatus, error) {
	type qrGenerateData struct {
		URL       string `json:"url"`
		QRCodeKey string `json:"qrcode_key"`
	}
	respData, _, _, err := requestJSON[qrGenerateData](s, ctx, http.MethodGet, qrCodeGenerateAPI, nil, false)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(respData.URL) == "" || strings.TrimSpace(respData.QRCodeKey) == "" {
		return nil, errors.New("invalid qrcode response")
	}

	pngBytes, err := qrcode.Encode(respData.URL, qrcode.Medium, 280)
	if err != nil {
		return nil, err
	}
	qrImage := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	now := time.Now()
	state := &qrState{
		status: QRCodeStatus{
			QrCode:              qrImage,
			QrCodeKey:           respData.QRCodeKey,
			QrCodeEffectiveTime: 180,
			Message:             "二维码生成成功，等待扫码",
		},
		expireAt: now.Add(180 * time.Second),
	}
	s.mu.Lock()
	s.qrState = state
	s.mu.Unlock()

	copied := state.status
	return &copied, nil
}

func (s *Service) getQRCodeStatus() *QRCodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.qrState == nil {
		return nil
	}
	if time.Now().After(s.qrState.expireAt) {
		expired := s.qrState.status
		expired.QrCodeEffectiveTime = 0
		expired.Message = "二维码已失效"
		s.qrState = nil
		return &expired
	}

	if !s.qrState.isCompleted && time.Since(s.qrState.lastPollAt) >= 2*time.Second {
		s.pollQRCodeLocked(context.Background())
	}

	remaining := int(time.Until(s.qrState.expireAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	current := s.qrState.status
	current.QrCodeEffectiveTime = remaining
	return &current
}

func (s *Service) pollQRCodeLocked(ctx context.Context) {
	if s.qrState == nil {
		return
	}
	s.qrState.lastPollAt = time.Now()

	pollURL := qrCodePollAPI + "?qrcode_key=" + url.QueryEscape(s.qrState.status.QrCodeKey) + "&source=main_mini"
	type qrPollData struct {
		Code         int    `json:"code"`
		Message      string `json:"message"`
		RefreshToken string `json:"refresh_token"`
	}
	pollData, _, cookies, err := requestJSON[qrPollData](s, ctx, http.MethodGet, pollURL, nil, false)
	if err != nil {
		s.logWarn("poll qrcode failed: %v", err)
		s.qrState.status.Message = "轮询二维码失败: " + err.Error()
		return
	}

	switch pollData.Code {
	case 0:
		if len(cookies) > 0 {
			merged := mergeCookieWithResponse(s.readCookieString(), cookies)
			_ = s.store.SaveCookie(context.Background(), merged, pollData.RefreshToken)
		} else {
			_ = s.store.SaveRefreshToken(context.Background(), pollData.RefreshToken)
		}
		s.logInfo("qrcode login succeeded")
		s.qrState.status.IsLogged = true
		s.qrState.status.IsScaned = true
		s.qrState.status.Message = "登录成功"
		s.qrState.isCompleted = true
	case 86090:
		s.qrState.status.IsScaned = true
		s.qrState.status.Message = "二维码已扫码，待确认"
	case 86101:
		s.qrState.status.IsScaned = false
		s.qrState.status.Message = "二维码未扫码"
	case 86038:
		s.qrState.status.Message = "二维码已失效"
		s.qrState.expireAt = time.Now()
	default:
		s.qrState.status.Message = fmt.Sprintf("二维码状态异常: code=%d, message=%s", pollData.Code, pollData.Message)
	}
}

func (s *Service) SetCookie(ctx context.Context, content string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.store.SaveCookieContent(ctx, strings.TrimSpace(content))
}

func (s *Service) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.qrState = nil
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.store.SaveCookie(ctx, "", "")
}

func (s *Service) readCookieString() string {
	cookieSetting, err := s.store.GetCookieSetting(context.Background())
	if err != nil {
		return ""
	}
	return cookieSetting.Content
}

type bilibiliEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

func requestJSON[T any](s *Service, ctx context.Context, method string, targetURL string, form url.Values, withCookie bool) (T, http.Header, []*http.Cookie, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error
	var lastHeader http.Header
	var lastCookies []*http.Cookie
	for attempt := 1; attempt <= 2; attempt++ {
		data, header, cookies, err := requestJSONOnce[T](s, ctx, method, targetURL, form, withCookie)
		if err == nil {
			return data, header, cookies, nil
		}
		lastErr = err
		lastHeader = header
		lastCookies = cookies

		report := toAPIErrorReport(err, targetURL, method)
		report.Attempt = attempt
		report.Retryable = shouldRetryAPIError(report)
		s.logError("api call failed attempt=%d method=%s url=%s stage=%s status=%d retryable=%v err=%s",
			attempt, report.Method, report.Endpoint, report.Stage, report.HTTPStatus, report.Retryable, report.Detail)
		s.recordAPIError(report)

		if attempt == 2 || !report.Retryable {
			break
		}
		time.Sleep(time.Duration(attempt) * 250 * time.Millisecond)
	}
	return zero, lastHeader, lastCookies, lastErr
}

func requestJSONOnce[T any](s *Service, ctx context.Context, method string, targetURL string, form url.Values, withCookie bool) (T, http.Header, []*http.Cookie, error) {
	var zero T
	var body io.Reader
	if method == http.MethodPost && form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return zero, nil, nil, &bilibiliAPIError{report: apiErrorReport{
			Endpoint: targetURL,
			Method:   method,
			Stage:    "build_request",
			Detail:   err.Error(),
		}}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Origin", "https://live.bilibili.com")
		req.Header.Set("Referer", "https://live.bilibili.com/")
	}
	if withCookie {
		cookieContent := s.readCookieString()
		if strings.TrimSpace(cookieContent) == "" {
			return zero, nil, nil, &bilibiliAPIError{report: apiErrorReport{
				Endpoint: targetURL,
				Method:   method,
				Stage:    "precheck",
				Detail:   "cookie is empty",
			}}
		}
		req.Header.Set("Cookie", cookieContent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return zero, nil, nil, &bilibiliAPIError{report: apiErrorReport{
			Endpoint: targetURL,
			Method:   method,
			Stage:    "network",
			Detail:   err.Error(),
		}}
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return zero, resp.Header.Clone(), resp.Cookies(), &bilibiliAPIError{report: apiErrorReport{
			Endpoint:   targetURL,
			Method:     method,
			Stage:      "read_response",
			HTTPStatus: resp.StatusCode,
			Detail:     err.Error(),
		}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, resp.Header.Clone(), resp.Cookies(), &bilibiliAPIError{report: apiErrorReport{
			Endpoint:   targetURL,
			Method:     method,
			Stage:      "http_status",
			HTTPStatus: resp.StatusCode,
			Detail:     fmt.Sprintf("http status %d", resp.StatusCode),
		}}
	}
	parsed, err := decodeEnvelopeData[T](bodyBytes)
	if err != nil {
		stage := "decode_response"
		if strings.Contains(strings.ToLower(err.Error()), "bilibili api error code=") {
			stage = "api_code"
		}
		return zero, resp.Header.Clone(), resp.Cookies(), &bilibiliAPIError{report: apiErrorReport{
			Endpoint:   targetURL,
			Method:     method,
			Stage:      stage,
			HTTPStatus: resp.StatusCode,
			Detail:     err.Error(),
		}}
	}
	return parsed, resp.Header.Clone(), resp.Cookies(), nil
}

func decodeEnvelopeData[T any](bodyBytes []byte) (T, error) {
	var zero T
	var env bilibiliEnvelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return zero, err
	}
	if env.Code != 0 {
		message := strings.TrimSpace(env.Message)
		if message == "" {
			message = strings.TrimSpace(env.Msg)
		}
		if message == "" {
			message = "unknown bilibili api error"
		}
		return zero, fmt.Errorf("bilibili api error code=%d message=%s", env.Code, message)
	}

	payload := bytes.TrimSpace(env.Data)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = bytes.TrimSpace(env.Result)
	}
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return zero, nil
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, err
	}
	return out, nil
}

func toAPIErrorReport(err error, endpoint string, method string) apiErrorReport {
	report := apiErrorReport{
		Endpoint: strings.TrimSpace(endpoint),
		Method:   strings.ToUpper(strings.TrimSpace(method)),
		Stage:    "unknown",
	}
	if err == nil {
		return report
	}
	var apiErr *bilibiliAPIError
	if errors.As(err, &apiErr) && apiErr != nil {
		report = apiErr.report
		if strings.TrimSpace(report.Endpoint) == "" {
			report.Endpoint = strings.TrimSpace(endpoint)
		}
		if strings.TrimSpace(report.Method) == "" {
			report.Method = strings.ToUpper(strings.TrimSpace(method))
		}
		if strings.TrimSpace(report.Stage) == "" {
			report.Stage = "unknown"
		}
		if strings.TrimSpace(report.Detail) == "" {
			report.Detail = strings.TrimSpace(err.Error())
		}
		return report
	}
	report.Detail = strings.TrimSpace(err.Error())
	if report.Detail == "" {
		report.Detail = "unknown bilibili api error"
	}
	return report
}

func shouldRetryAPIError(report apiErrorReport) bool {
	if report.HTTPStatus == http.StatusTooManyRequests || report.HTTPStatus == http.StatusRequestTimeout {
		return true
	}
	if report.HTTPStatus >= 500 {
		return true
	}
	if report.Stage == "network" || report.Stage == "read_response" {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(report.Detail))
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "temporarily") || strings.Contains(lower, "connection reset") {
		return true
	}
	if strings.Contains(lower, "eof") {
		return true
	}
	return false
}

func parseCookieValue(cookieHeader string, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	for _, item := range strings.Split(cookieHeader, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if strings.TrimSpace(kv[0]) == key {
			return strings.TrimSpace(kv[1])
		}
	}
	return ""
}

func mergeCookiePair(cookieHeader string, key string, value string) string {
	cookieHeader = strings.TrimSpace(cookieHeader)
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return cookieHeader
	}
	if parseCookieValue(cookieHeader, key) != "" {
		return cookieHeader
	}
	if cookieHeader == "" {
		return key + "=" + value
	}
	return cookieHeader + "; " + key + "=" + value
}

func mergeCookieWithResponse(existing string, newCookies []*http.Cookie) string {
	cookieMap := map[string]string{}
	for _, item := range strings.Split(existing, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		kv := strings.SplitN(item, "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) == "" {
			continue
		}
		cookieMap[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	for _, cookie := range newCookies {
		if cookie == nil || strings.TrimSpace(cookie.Name) == "" {
			continue
		}
		cookieMap[cookie.Name] = cookie.Value
	}
	keys := make([]string, 0, len(cookieMap))
	for key := range cookieMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+cookieMap[key])
	}
	return strings.Join(parts, "; ")
}
