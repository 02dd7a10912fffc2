// Package web exposes the evaluated schedule grid and schedule CRUD over
// HTTP. The rendering layer is an external consumer: everything here is
// JSON, there is no bundled UI.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"schedcal/internal/config"
	"schedcal/internal/grid"
	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/store"
)

// gridCacheTTL bounds how stale a cached /api/grid response may be.
const gridCacheTTL = 30 * time.Second

// Server provides the HTTP API over a schedule store.
type Server struct {
	cfg       *config.Config
	schedules *store.Store
	mux       *http.ServeMux
	limiter   *rate.Limiter

	// In-memory cache for /api/grid responses: schedule lists are small
	// and the window only changes once a day, so re-evaluating per
	// request is wasted work.
	gridMu    sync.RWMutex
	gridCache *gridCache
}

type gridCache struct {
	resp      gridResponse
	updatedAt time.Time
}

// NewServer constructs a Server over the given store.
func NewServer(cfg *config.Config, schedules *store.Store) *Server {
	s := &Server{
		cfg:       cfg,
		schedules: schedules,
		mux:       http.NewServeMux(),
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS)
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.limiter != nil {
		h = s.rateLimitMiddleware(h)
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return h
}

// InvalidateGrid drops the cached grid response. Called after writes and
// after an ICS refresh so the next read re-evaluates.
func (s *Server) InvalidateGrid() {
	s.gridMu.Lock()
	s.gridCache = nil
	s.gridMu.Unlock()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/grid", s.handleGrid)
	s.mux.HandleFunc("/api/schedules", s.handleSchedules)
	s.mux.HandleFunc("/api/schedules/", s.handleScheduleByID)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password counts as disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleDTO is the wire shape of a schedule: the loose record form with
// a schedule_type discriminator, as consumed by forms and the renderer.
type scheduleDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsActive     bool   `json:"is_active"`
	ScheduleType string `json:"schedule_type"`
	TimeOfDay    string `json:"time_of_day"`
	DaysOfWeek   []int  `json:"days_of_week,omitempty"`
	DayOfMonth   int    `json:"day_of_month,omitempty"`
	RepeatType   string `json:"repeat_type,omitempty"`
}

func toDTO(s model.Schedule) scheduleDTO {
	kind, weekdays, monthDay := model.RuleFields(s.Rule)
	return scheduleDTO{
		ID:           s.ID,
		Name:         s.Name,
		IsActive:     s.Active,
		ScheduleType: kind,
		TimeOfDay:    s.TimeOfDay,
		DaysOfWeek:   weekdays,
		DayOfMonth:   monthDay,
		RepeatType:   s.Repeat,
	}
}

// gridResponse is the JSON shape of one evaluated window. Cells is keyed
// by "<day index>/<slot label>" (e.g. "2/10:00") and always carries all
// 168 keys, empty cells included, so the renderer can index blindly.
type gridResponse struct {
	WeekStart   time.Time                `json:"week_start"`
	Days        []string                 `json:"days"`
	TimeSlots   []string                 `json:"time_slots"`
	Cells       map[string][]scheduleDTO `json:"cells"`
	GeneratedAt time.Time                `json:"generated_at"`
}

// handleGrid evaluates the current week's grid.
//
// GET /api/grid returns the window for "now" in the configured timezone,
// served from a short-lived cache. GET /api/grid?at=RFC3339 evaluates the
// supplied reference instant instead and bypasses the cache, which keeps
// responses deterministic for testing.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	if at := r.URL.Query().Get("at"); at != "" {
		ref, err := time.Parse(time.RFC3339, at)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'at' parameter, want RFC3339")
			return
		}
		resp, err := s.buildGrid(ctx, ref)
		if err != nil {
			appLog.Error("grid evaluation failed", err)
			writeError(w, http.StatusInternalServerError, "failed to evaluate grid")
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	now := time.Now()
	s.gridMu.RLock()
	gc := s.gridCache
	s.gridMu.RUnlock()
	if gc != nil && now.Sub(gc.updatedAt) < gridCacheTTL {
		writeJSON(w, http.StatusOK, gc.resp)
		return
	}

	resp, err := s.buildGrid(ctx, now.In(resolveLocationOrLocal(s.cfg.Timezone)))
	if err != nil {
		appLog.Error("grid evaluation failed", err)
		writeError(w, http.StatusInternalServerError, "failed to evaluate grid")
		return
	}

	s.gridMu.Lock()
	s.gridCache = &gridCache{resp: resp, updatedAt: time.Now()}
	s.gridMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildGrid(ctx context.Context, ref time.Time) (gridResponse, error) {
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return gridResponse{}, err
	}

	window := grid.BuildWindow(ref)
	cells := grid.Evaluate(schedules, window)

	resp := gridResponse{
		WeekStart:   window.WeekStart,
		Days:        make([]string, 0, grid.DaysPerWindow),
		TimeSlots:   window.Slots[:],
		Cells:       make(map[string][]scheduleDTO, len(cells)),
		GeneratedAt: time.Now(),
	}
	for _, d := range window.Days {
		resp.Days = append(resp.Days, d.Format("2006-01-02"))
	}
	for key, matched := range cells {
		dtos := make([]scheduleDTO, 0, len(matched))
		for _, m := range matched {
			dtos = append(dtos, toDTO(m))
		}
		resp.Cells[cellKeyString(key)] = dtos
	}
	return resp, nil
}

func cellKeyString(k grid.CellKey) string {
	return fmt.Sprintf("%d/%s", k.Day, k.Slot)
}

// handleSchedules serves the collection: GET lists, POST creates.
func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		schedules, err := s.schedules.List(ctx)
		if err != nil {
			appLog.Error("schedule list failed", err)
			writeError(w, http.StatusInternalServerError, "failed to list schedules")
			return
		}
		dtos := make([]scheduleDTO, 0, len(schedules))
		for _, sched := range schedules {
			dtos = append(dtos, toDTO(sched))
		}
		writeJSON(w, http.StatusOK, dtos)

	case http.MethodPost:
		var dto scheduleDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rule := model.ParseRule(dto.ScheduleType, dto.DaysOfWeek, dto.DayOfMonth)
		if rule == nil {
			writeError(w, http.StatusBadRequest, "unknown schedule_type: want daily, weekly or monthly")
			return
		}
		sched := model.Schedule{
			ID:        dto.ID,
			Name:      dto.Name,
			Active:    dto.IsActive,
			TimeOfDay: dto.TimeOfDay,
			Rule:      rule,
			Repeat:    dto.RepeatType,
		}
		id, err := s.schedules.Put(ctx, sched)
		if err != nil {
			appLog.Error("schedule create failed", err)
			writeError(w, http.StatusInternalServerError, "failed to store schedule")
			return
		}
		s.InvalidateGrid()
		sched.ID = id
		writeJSON(w, http.StatusCreated, toDTO(sched))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleScheduleByID serves single items: GET fetches, DELETE removes.
func (s *Server) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sched, err := s.schedules.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		if err != nil {
			appLog.Error("schedule get failed", err, "id", id)
			writeError(w, http.StatusInternalServerError, "failed to load schedule")
			return
		}
		writeJSON(w, http.StatusOK, toDTO(sched))

	case http.MethodDelete:
		err := s.schedules.Delete(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		if err != nil {
			appLog.Error("schedule delete failed", err, "id", id)
			writeError(w, http.StatusInternalServerError, "failed to delete schedule")
			return
		}
		s.InvalidateGrid()
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
