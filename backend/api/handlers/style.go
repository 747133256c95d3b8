package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"danmuoverlay/dove/backend/httpapi"
	"danmuoverlay/dove/backend/router"
	"danmuoverlay/dove/backend/service/overlay"
)

type styleModule struct {
	deps *router.Dependencies
}

func init() {
	router.Register(func(deps *router.Dependencies) router.Module {
		return &styleModule{deps: deps}
	})
}

func (m *styleModule) Prefix() string {
	return m.deps.Config.APIBase + "/style"
}

func (m *styleModule) Routes() []router.Route {
	return []router.Route{
		{Method: http.MethodGet, Pattern: "/profiles", Summary: "List style profiles", Handler: m.list},
		{Method: http.MethodGet, Pattern: "/active", Summary: "Get active style profile", Handler: m.active},
		{Method: http.MethodPost, Pattern: "/profiles", Summary: "Create or update a style profile", Handler: m.save},
		{Method: http.MethodPost, Pattern: "/activate", Summary: "Activate a style profile", Handler: m.activate},
		{Method: http.MethodPost, Pattern: "/delete", Summary: "Delete a style profile", Handler: m.remove},
	}
}

func (m *styleModule) list(w http.ResponseWriter, r *http.Request) {
	items, err := m.deps.Store.ListStyleProfiles(r.Context())
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OK(w, items)
}

func (m *styleModule) active(w http.ResponseWriter, r *http.Request) {
	httpapi.OK(w, m.deps.Engine.Profile())
}

func (m *styleModule) save(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string                `json:"name"`
		Profile  *overlay.StyleProfile `json:"profile"`
		Activate bool                  `json:"activate"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httpapi.Error(w, -1, "profile name is required", http.StatusBadRequest)
		return
	}
	if req.Profile == nil {
		httpapi.Error(w, -1, "profile body is required", http.StatusBadRequest)
		return
	}
	body, err := json.Marshal(req.Profile)
	if err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.deps.Store.SaveStyleProfile(r.Context(), name, string(body)); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	if req.Activate {
		if err := m.activateProfile(r, name); err != nil {
			httpapi.Error(w, -1, err.Error(), http.StatusOK)
			return
		}
	}
	httpapi.OKMessage(w, "profile saved")
}

func (m *styleModule) activate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.activateProfile(r, strings.TrimSpace(req.Name)); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OKMessage(w, "profile activated")
}

// activateProfile marks the record active, loads its body into the live
// engine and broadcasts the new config to every subscriber.
func (m *styleModule) activateProfile(r *http.Request, name string) error {
	if err := m.deps.Store.ActivateStyleProfile(r.Context(), name); err != nil {
		return err
	}
	record, err := m.deps.Store.GetStyleProfileByName(r.Context(), name)
	if err != nil {
		return err
	}
	profile := overlay.DefaultProfile()
	if err := json.Unmarshal([]byte(record.Body), &profile); err != nil {
		return err
	}
	m.deps.Engine.SetProfile(profile)
	m.deps.Dispatch.PublishRaw(m.deps.Engine.ConfigMessage())
	return nil
}

func (m *styleModule) remove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.deps.Store.DeleteStyleProfile(r.Context(), strings.TrimSpace(req.Name)); err != nil {
		httpapi.Error(w, -1, err.Error(), http.StatusOK)
		return
	}
	httpapi.OKMessage(w, "profile deleted")
}
