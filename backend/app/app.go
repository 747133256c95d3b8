package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	_ "danmuoverlay/dove/backend/api/handlers"
	"danmuoverlay/dove/backend/config"
	"danmuoverlay/dove/backend/logging"
	"danmuoverlay/dove/backend/router"
	authsvc "danmuoverlay/dove/backend/service/auth"
	"danmuoverlay/dove/backend/service/bilibili"
	"danmuoverlay/dove/backend/service/dispatch"
	"danmuoverlay/dove/backend/service/live"
	"danmuoverlay/dove/backend/service/overlay"
	"danmuoverlay/dove/backend/store"
)

type App struct {
	cfg        config.Config
	cfgManager *config.Manager
	store      *store.Store
	dispatch   *dispatch.Server
	live       *live.Controller
	server     *http.Server
	apiHandler http.Handler
	routes     []router.Route
	logger     *logging.Manager
}

func New(cfgManager *config.Manager) (*App, error) {
	if cfgManager == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	cfg := cfgManager.Current()
	log.Printf("[config] using config file: %s", cfg.ConfigFile)
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	storeDB, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bilibiliSvc := bilibili.New(storeDB, cfg)
	authService := authsvc.New(storeDB, 24*time.Hour)
	if err := authService.EnsureDefaultAdmin(context.Background()); err != nil {
		storeDB.Close()
		return nil, err
	}

	settings, err := storeDB.GetOverlaySetting(context.Background())
	if err != nil {
		storeDB.Close()
		return nil, err
	}
	engine := overlay.NewEngine(loadActiveProfile(storeDB), overlay.FilterConfig{})

	loggerMgr, err := logging.New(cfg)
	if err != nil {
		storeDB.Close()
		return nil, err
	}

	var liveCtrl *live.Controller
	dispatchSrv := dispatch.NewServer(engine, dispatch.Options{
		Port:   settings.SSEPort,
		Public: settings.SSEPublic,
		Token:  settings.SSEToken,
	}, func() map[string]any {
		if liveCtrl == nil {
			return nil
		}
		return liveCtrl.Status()
	})
	liveCtrl = live.NewController(bilibiliSvc, engine, dispatchSrv, storeDB)
	if err := liveCtrl.ApplySettings(context.Background(), settings); err != nil {
		_ = loggerMgr.Close()
		storeDB.Close()
		return nil, err
	}

	deps := &router.Dependencies{
		Config:    cfg,
		ConfigMgr: cfgManager,
		Store:     storeDB,
		Auth:      authService,
		Bilibili:  bilibiliSvc,
		Live:      liveCtrl,
		Dispatch:  dispatchSrv,
		Engine:    engine,
	}
	apiHandler, routes := router.Build(deps)

	app := &App{
		cfg:        cfg,
		cfgManager: cfgManager,
		store:      storeDB,
		dispatch:   dispatchSrv,
		live:       liveCtrl,
		apiHandler: apiHandler,
		routes:     routes,
		logger:     loggerMgr,
	}
	cfgManager.AddListener(func(newCfg config.Config) {
		log.Printf("[config] hot reload applied from %s", newCfg.ConfigFile)
		bilibiliSvc.UpdateConfig(newCfg)
		if err := loggerMgr.Update(newCfg); err != nil {
			log.Printf("[config][warn] update logger failed: %v", err)
		}
	})
	app.server = &http.Server{
		Addr:              cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		Handler:           app.mainMux(),
	}
	return app, nil
}

// loadActiveProfile reads the active style profile from the store,
// falling back to stock defaults on any problem.
func loadActiveProfile(storeDB *store.Store) overlay.StyleProfile {
	record, err := storeDB.GetActiveStyleProfile(context.Background())
	if err != nil || record == nil {
		if err != nil {
			log.Printf("[app][warn] load active style profile: %v", err)
		}
		return overlay.DefaultProfile()
	}
	profile := overlay.DefaultProfile()
	if err := json.Unmarshal([]byte(record.Body), &profile); err != nil {
		log.Printf("[app][warn] parse style profile %q: %v", record.Name, err)
		return overlay.DefaultProfile()
	}
	return profile
}

func (a *App) mainMux() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.apiHandler.ServeHTTP(w, r)
	})
}

func (a *App) Run() error {
	a.cfgManager.StartWatching()
	if err := a.dispatch.Start(); err != nil {
		return err
	}
	log.Printf("[app] admin API listening on %s", a.cfg.ListenAddr)
	return a.server.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.cfgManager.StopWatching()
	a.live.Disconnect()
	if err := a.dispatch.Stop(ctx); err != nil {
		log.Printf("[app][warn] stop overlay server: %v", err)
	}
	err := a.server.Shutdown(ctx)
	if a.logger != nil {
		_ = a.logger.Close()
	}
	if closeErr := a.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
