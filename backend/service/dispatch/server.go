package dispatch

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"danmuoverlay/dove/backend/httpapi"
	"danmuoverlay/dove/backend/service/danmaku"
	"danmuoverlay/dove/backend/service/overlay"
)

const pingInterval = 30 * time.Second

// Options controls where the overlay stream listens and who may read it.
type Options struct {
	Port   int
	Public bool
	Token  string
}

// Server is the standalone HTTP server the overlay page connects to. It
// runs on its own port so the page can be dropped into OBS without
// exposing the admin surface.
type Server struct {
	engine   *overlay.Engine
	hub      *Hub
	statusFn func() map[string]any

	// pingEvery overrides pingInterval when set; tests shrink it.
	pingEvery time.Duration

	mu         sync.Mutex
	opts       Options
	httpServer *http.Server
	done       chan struct{}
}

func NewServer(engine *overlay.Engine, opts Options, statusFn func() map[string]any) *Server {
	return &Server{
		engine:   engine,
		hub:      NewHub(),
		statusFn: statusFn,
		opts:     opts,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Publish runs one decoded event through the filter and style composer
// and fans the result out. Dropped events return false.
func (s *Server) Publish(event *danmaku.Event) (*overlay.Message, bool) {
	msg, ok := s.engine.Process(event)
	if !ok {
		return nil, false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[dispatch][error] marshal event: %v", err)
		return nil, false
	}
	s.hub.Broadcast(payload)
	return msg, true
}

// PublishRaw broadcasts a pre-serialized payload, bypassing filtering
// and styling. Used for config-change notifications.
func (s *Server) PublishRaw(payload []byte) {
	s.hub.Broadcast(payload)
}

func (s *Server) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	host := "127.0.0.1"
	if s.opts.Public {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, s.opts.Port)
}

func (s *Server) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Token
}

// Start binds the overlay listener. It returns once the listener loop
// has been started; bind errors surface immediately.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("overlay server already running")
	}
	host := "127.0.0.1"
	if s.opts.Public {
		host = "0.0.0.0"
	}
	addr := fmt.Sprintf("%s:%d", host, s.opts.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	s.httpServer = srv
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		log.Printf("[dispatch] overlay server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[dispatch][error] overlay server: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down and waits for the serve goroutine to
// exit so an immediate restart on the same port cannot race the old
// socket.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	done := s.done
	s.httpServer = nil
	s.done = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.hub.CloseAll()
	err := srv.Shutdown(ctx)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return err
}

// Apply hot-reloads options. A token-only change takes effect in place;
// a port or visibility change restarts the listener.
func (s *Server) Apply(ctx context.Context, opts Options) error {
	s.mu.Lock()
	restart := s.httpServer != nil && (opts.Port != s.opts.Port || opts.Public != s.opts.Public)
	s.opts = opts
	s.mu.Unlock()

	if !restart {
		return nil
	}
	if err := s.Stop(ctx); err != nil {
		log.Printf("[dispatch][warn] stop overlay server for rebind: %v", err)
	}
	return s.Start()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpapi.CORS("*"))
	r.Get("/api/sse", s.handleSSE)
	r.Post("/api/send-danmu", s.handleSendDanmu)
	r.Get("/api/status", s.handleStatus)
	r.Post("/api/config", s.handleConfig)
	return r
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.token()
	if token == "" {
		return true
	}
	got := strings.TrimSpace(r.URL.Query().Get("token"))
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		httpapi.Error(w, http.StatusUnauthorized, "invalid token", http.StatusUnauthorized)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpapi.Error(w, http.StatusInternalServerError, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	log.Printf("[dispatch] subscriber %d connected (%d active)", sub.ID, s.hub.Count())

	// Config snapshot always leads the stream so the page styles the
	// very first event correctly.
	if err := writeSSE(w, "", s.engine.ConfigMessage()); err != nil {
		return
	}
	flusher.Flush()

	// Pings keep idle connections alive; any delivered payload pushes the
	// next ping out by a full interval.
	interval := s.pingEvery
	if interval <= 0 {
		interval = pingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.Queue:
			if !ok {
				return
			}
			if err := writeSSE(w, "", payload); err != nil {
				return
			}
			flusher.Flush()
			ticker.Reset(interval)
		case <-ticker.C:
			ping := fmt.Sprintf(`{"type":"ping","timestamp":%d}`, time.Now().Unix())
			if err := writeSSE(w, "", []byte(ping)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload []byte) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) handleSendDanmu(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		httpapi.Error(w, http.StatusUnauthorized, "invalid token", http.StatusUnauthorized)
		return
	}
	var req struct {
		Text string `json:"text"`
		User string `json:"user"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		httpapi.Error(w, http.StatusBadRequest, "text is required", http.StatusBadRequest)
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = "测试用户"
	}

	event := &danmaku.Event{
		Type:      danmaku.EventDanmu,
		Text:      req.Text,
		User:      user,
		Timestamp: time.Now().UnixMilli(),
	}
	if _, ok := s.Publish(event); !ok {
		httpapi.OKMessage(w, "danmu filtered out")
		return
	}
	httpapi.OKMessage(w, "danmu sent")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sent, lastMsg := s.hub.Stats()
	status := map[string]any{
		"subscribers":  s.hub.Count(),
		"messagesSent": sent,
		"lastMessage":  lastMsg,
	}
	if s.statusFn != nil {
		for key, value := range s.statusFn() {
			status[key] = value
		}
	}
	httpapi.OK(w, status)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		httpapi.Error(w, http.StatusUnauthorized, "invalid token", http.StatusUnauthorized)
		return
	}
	var req struct {
		Config *overlay.StyleProfile `json:"config"`
	}
	if err := httpapi.DecodeJSON(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Config == nil {
		httpapi.Error(w, http.StatusBadRequest, "config is required", http.StatusBadRequest)
		return
	}
	s.engine.SetProfile(*req.Config)
	s.PublishRaw(s.engine.ConfigMessage())
	httpapi.OKMessage(w, "config applied")
}
