package handlers

import (
	"net/http"
	"strconv"

	"danmuoverlay/dove/backend/httpapi"
	"danmuoverlay/dove/backend/router"
	"danmuoverlay/dove/backend/store"
)

type settingsModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &settingsModule{deps: deps}
	})
}

func (m *settingsModule) Prefix() string {
	return m.deps.Config.APIBase + "/overlay"
}

func (m *settingsModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/settings", Summary: "Get overlay settings", Handler: m.getSettings},
		{Method: http.MethodPost, Pattern: "/settings", Summary: "Update overlay settings", Handler: m.updateSettings},
		{Method: http.MethodPost, Pattern: "/connect", Summary: "Connect to the live room", Handler: m.connect},
		{Method: http.MethodPost, Pattern: "/disconnect", Summary: "Disconnect from the live room", Handler: m.disconnect},
		{Method: http.MethodGet, Pattern: "/status", Summary: "Get session status", Handler: m.status},
		{Method: http.MethodGet, Pattern: "/history", Summary: "Recent danmaku history", Handler: m.history},
		{Method: http.MethodGet, Pattern: "/api-errors", Summary: "Recent upstream API errors", Handler: m.apiErrors},
	}
}

func (m *settingsModule) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := m.deps.Store.GetOverlaySetting(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, settings)
}

func (m *settingsModule) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req store.OverlaySetting
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SSEPort <= 0 || req.SSEPort > 65535 {
		httpapi.Error(w, -1, "ssePort must be in 1..65535", http.StatusBadRequest)
		return
	}
	if err := m.deps.Store.SaveOverlaySetting(r.Context(), req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	if err := m.deps.Live.ApplySettings(r.Context(), &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OKMessage(w, "settings saved")
}

func (m *settingsModule) connect(w http.ResponseWriter, r *http.Request) {
	if err := m.deps.Live.Connect(r.Context()); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OKMessage(w, "connecting")
}

func (m *settingsModule) disconnect(w http.ResponseWriter, r *http.Request) {
	m.deps.Live.Disconnect()
	httpapi.OKMessage(w, "disconnected")
}

func (m *settingsModule) status(w http.ResponseWriter, r *http.Request) {
	status := m.deps.Live.Status()
	status["subscribers"] = m.deps.Dispatch.Hub().Count()
	httpapi.OK(w, status)
}

func (m *settingsModule) history(w http.ResponseWriter, r *http.Request) {
	roomID, _ := strconv.ParseInt(r.URL.Query().Get("roomId"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items, err := m.deps.Store.ListRecentDanmakuEvents(r.Context(), roomID, limit)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, items)
}

func (m *settingsModule) apiErrors(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	items, err := m.deps.Store.ListRecentAPIErrorLogs(r.Context(), limit)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, items)
}
