package handlers

import (
	"net/http"
	"runtime"
	"time"

	"danmuoverlay/dove/backend/httpapi"
	"danmuoverlay/dove/backend/router"
)

type healthModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &healthModule{deps: deps}
	})
}

func (m *healthModule) Prefix() string {
	return m.deps.Config.APIBase
}

func (m *healthModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/health", Summary: "Health check", Handler: m.health},
	}
}

func (m *healthModule) health(w http.ResponseWriter, r *http.Request) {
	type payload struct {
		Status    string `json:"status"`
		Now       string `json:"now"`
		GoVersion string `json:"goVersion"`
	}
	httpapi.OK(w, payload{
		Status:    "ok",
		Now:       time.Now().Format(time.RFC3339),
		GoVersion: runtime.Version(),
	})
}
