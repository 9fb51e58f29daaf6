package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ccgauge/ccgauge/internal/config"
	"github.com/ccgauge/ccgauge/internal/monitor"
	"github.com/ccgauge/ccgauge/internal/secrets"
	"github.com/ccgauge/ccgauge/internal/session"
	"github.com/ccgauge/ccgauge/internal/stats"
	"github.com/ccgauge/ccgauge/internal/usage"
)

// SessionController is the monitor's command surface.
type SessionController interface {
	Scan(ctx context.Context) error
	Select(ctx context.Context, id string) error
}

// UsageController is the poller's command surface.
type UsageController interface {
	Status() usage.Status
	ManualRefresh() bool
	StartPolling()
	StopPolling()
	SetCredentials(sessionKey, orgID, clearance string) error
	ClearCredentials() error
}

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

var errAmbiguousSession = errors.New("display name matches more than one session")

type Server struct {
	store          *session.Store
	broadcaster    *Broadcaster
	monitor        SessionController
	usage          UsageController
	statsPath      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	now            func() time.Time
}

// NewServer wires the HTTP surface. usage may be nil when polling is
// disabled; the usage endpoints then answer 503.
func NewServer(cfg *config.Config, store *session.Store, broadcaster *Broadcaster, mon SessionController, usageCtl UsageController) *Server {
	s := &Server{
		store:          store,
		broadcaster:    broadcaster,
		monitor:        mon,
		usage:          usageCtl,
		statsPath:      cfg.StatsCachePath(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		now:            time.Now,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/session", s.withAuth(s.handleSession))
	mux.HandleFunc("GET /api/sessions", s.withAuth(s.handleSessions))
	mux.HandleFunc("POST /api/sessions/{id}/select", s.withAuth(s.handleSelect))
	mux.HandleFunc("POST /api/scan", s.withAuth(s.handleScan))
	mux.HandleFunc("GET /api/usage", s.withAuth(s.handleUsage))
	mux.HandleFunc("POST /api/usage/refresh", s.withAuth(s.handleUsageRefresh))
	mux.HandleFunc("PUT /api/usage/credentials", s.withAuth(s.handleSetCredentials))
	mux.HandleFunc("DELETE /api/usage/credentials", s.withAuth(s.handleClearCredentials))
	mux.HandleFunc("POST /api/usage/polling/start", s.withAuth(s.handlePollingStart))
	mux.HandleFunc("POST /api/usage/polling/stop", s.withAuth(s.handlePollingStop))
	mux.HandleFunc("GET /api/stats/daily", s.withAuth(s.handleDailyStats))
}

// Handler returns the full route set behind the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("[ws] rejecting %s: %v", r.RemoteAddr, err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}
	log.Printf("[ws] client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("[ws] client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broadcaster.FilterState(s.store.State()))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, selected := s.broadcaster.FilterSessions(s.store.Sessions())
	writeJSON(w, http.StatusOK, SessionsPayload{Sessions: sessions, Selected: selected})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolveSessionID(r.PathValue("id"))
	if err == nil {
		err = s.monitor.Select(r.Context(), id)
	}
	switch {
	case errors.Is(err, monitor.ErrUnknownSession):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, errAmbiguousSession):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// resolveSessionID maps an id as a client sees it back to the real one.
// With masked working directories clients only know display names, and a
// name shared by several visible sessions is refused rather than guessed.
func (s *Server) resolveSessionID(id string) (string, error) {
	sessions, _ := s.store.Sessions()
	f := s.broadcaster.filter()
	var matches []string
	for _, sess := range sessions {
		if !f.IsAllowed(sess.ID) {
			continue
		}
		visible := sess.ID
		if f.MaskWorkingDirs {
			visible = sess.DisplayName()
		}
		if visible == id {
			matches = append(matches, sess.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", monitor.ErrUnknownSession
	case 1:
		return matches[0], nil
	default:
		return "", errAmbiguousSession
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.Scan(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.usage.Status())
}

func (s *Server) usageEnabled(w http.ResponseWriter) bool {
	if s.usage == nil {
		http.Error(w, "usage polling disabled", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleUsageRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	accepted := s.usage.ManualRefresh()
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"accepted": accepted})
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	var req CredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	err := s.usage.SetCredentials(req.SessionKey, req.OrganizationID, req.CFClearance)
	switch {
	case errors.Is(err, secrets.ErrEmptySessionKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		log.Printf("[ws] storing credentials: %v", err)
		http.Error(w, "could not store credentials", http.StatusInternalServerError)
	default:
		log.Printf("[ws] credentials updated by %s", r.RemoteAddr)
		writeJSON(w, http.StatusOK, s.usage.Status())
	}
}

func (s *Server) handleClearCredentials(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	if err := s.usage.ClearCredentials(); err != nil {
		log.Printf("[ws] clearing credentials: %v", err)
		http.Error(w, "could not clear credentials", http.StatusInternalServerError)
		return
	}
	log.Printf("[ws] credentials cleared by %s", r.RemoteAddr)
	writeJSON(w, http.StatusOK, s.usage.Status())
}

func (s *Server) handlePollingStart(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	s.usage.StartPolling()
	writeJSON(w, http.StatusOK, s.usage.Status())
}

func (s *Server) handlePollingStop(w http.ResponseWriter, r *http.Request) {
	if !s.usageEnabled(w) {
		return
	}
	s.usage.StopPolling()
	writeJSON(w, http.StatusOK, s.usage.Status())
}

func (s *Server) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	daily, err := stats.Load(s.statsPath, s.now())
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && daily == nil):
		http.Error(w, "no stats available", http.StatusNotFound)
	case err != nil:
		log.Printf("[ws] loading stats: %v", err)
		http.Error(w, "stats unreadable", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, daily)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ws] encoding response: %v", err)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Ccgauge-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves handler until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[ws] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
