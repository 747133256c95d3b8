package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Key permutation table for the WBI signature scheme used by newer web
// endpoints. The nav endpoint hands out two image URLs whose file names are
// the raw key material.
var mixinKeyEncTable = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// signWBIQuery sorts the query, strips the characters the upstream signer
// drops, appends wts and computes w_rid.
func (s *Service) signWBIQuery(ctx context.Context, query url.Values, cookieHeader string) error {
	imgKey, subKey, err := s.loadWBIKeys(ctx, cookieHeader)
	if err != nil {
		return err
	}
	mixin := generateWBIMixinKey(imgKey, subKey)
	if mixin == "" {
		return errors.New("wbi mixin key is empty")
	}
	query.Del("w_rid")
	query.Set("wts", strconv.FormatInt(time.Now().Unix(), 10))

	keys := make([]string, 0, len(query))
	for key := range query {
		if key == "w_rid" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := sanitizeWBIValue(query.Get(key))
		parts = append(parts, encodeURIComponent(key)+"="+encodeURIComponent(value))
	}
	rawQuery := strings.Join(parts, "&")
	sum := md5.Sum([]byte(rawQuery + mixin))
	query.Set("w_rid", hex.EncodeToString(sum[:]))
	return nil
}

func (s *Service) loadWBIKeys(ctx context.Context, cookieHeader string) (string, string, error) {
	s.wbiMu.Lock()
	defer s.wbiMu.Unlock()

	if strings.TrimSpace(s.wbiImgKey) != "" && strings.TrimSpace(s.wbiSubKey) != "" && time.Now().Before(s.wbiKeyExpiresAt) {
		return s.wbiImgKey, s.wbiSubKey, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, navAPI, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Referer", "https://www.bilibili.com/")
	if strings.TrimSpace(cookieHeader) != "" {
		req.Header.Set("Cookie", cookieHeader)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", errors.New("nav status " + strconv.Itoa(resp.StatusCode))
	}

	var payload struct {
		Data struct {
			WBIImg struct {
				ImgURL string `json:"img_url"`
				SubURL string `json:"sub_url"`
			} `json:"wbi_img"`
		} `json:"data"`
	}
	if err := decodeJSONBody(resp, &payload); err != nil {
		return "", "", err
	}
	imgKey := extractWBIKey(payload.Data.WBIImg.ImgURL)
	subKey := extractWBIKey(payload.Data.WBIImg.SubURL)
	if imgKey == "" || subKey == "" {
		return "", "", errors.New("nav response missing wbi keys")
	}

	s.wbiImgKey = imgKey
	s.wbiSubKey = subKey
	s.wbiKeyExpiresAt = time.Now().Add(6 * time.Hour)
	return imgKey, subKey, nil
}

func generateWBIMixinKey(imgKey string, subKey string) string {
	raw := []rune(imgKey + subKey)
	if len(raw) < 64 {
		return ""
	}
	builder := strings.Builder{}
	builder.Grow(64)
	for _, idx := range mixinKeyEncTable {
		if idx < 0 || idx >= len(raw) {
			continue
		}
		builder.WriteRune(raw[idx])
	}
	result := builder.String()
	if len(result) > 32 {
		return result[:32]
	}
	return result
}

func extractWBIKey(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

func sanitizeWBIValue(value string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		default:
			return r
		}
	}, value)
}

func encodeURIComponent(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
