package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/edvart/haxstats/internal/auth"
	"github.com/edvart/haxstats/internal/coordinator"
	"github.com/edvart/haxstats/internal/metrics"
	"github.com/edvart/haxstats/internal/store"
)

const maxRankLimit = 100

// Store is the part of the store served over HTTP.
type Store interface {
	GetPlayerByName(ctx context.Context, name string) (*store.Player, error)
	TopScorers(ctx context.Context, limit int) ([]store.Player, error)
	RecentMatch(ctx context.Context) (*store.MatchWithPlayers, error)

	ClearAllStats(ctx context.Context) (*store.Backup, error)
	PurgeSyntheticPlayers(ctx context.Context) (int, *store.Backup, error)
	DeletePlayer(ctx context.Context, name string) (bool, *store.Backup, error)
	ListBackups() ([]store.Backup, error)
}

// Engine is the running coordinator.
type Engine interface {
	State(ctx context.Context) (coordinator.Snapshot, error)
	RestoreBackup(ctx context.Context, name string) (*store.Backup, error)
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	router  *chi.Mux
	engine  Engine
	store   Store
	sse     *SSEHub
	metrics *metrics.Manager
	log     logrus.FieldLogger
	cfg     Config
}

// Config holds server configuration.
type Config struct {
	RankLimit      int
	Admin          auth.AdminConfig
	AllowedOrigins []string
}

// NewServer creates a new HTTP server.
func NewServer(engine Engine, s Store, m *metrics.Manager, log logrus.FieldLogger, cfg Config) *Server {
	if cfg.RankLimit <= 0 {
		cfg.RankLimit = 10
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	log = log.WithField("component", "web")
	srv := &Server{
		router:  chi.NewRouter(),
		engine:  engine,
		store:   s,
		sse:     NewSSEHub(engine, log),
		metrics: m,
		log:     log,
		cfg:     cfg,
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/events", s.sse.HandleConnection)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet},
		}).Handler)

		r.Get("/players/{name}", s.handlePlayer)
		r.Get("/rank", s.handleRank)
		r.Get("/matches/last", s.handleLastMatch)
		r.Get("/live", s.handleLive)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AdminMiddleware(s.cfg.Admin))

		r.Post("/stats/clear", s.handleAdminClear)
		r.Post("/players/purge-synthetic", s.handleAdminPurge)
		r.Delete("/players/{name}", s.handleAdminDeletePlayer)
		r.Get("/backups", s.handleAdminBackups)
		r.Post("/backups/{name}/restore", s.handleAdminRestore)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartSSE starts the SSE hub goroutine.
func (s *Server) StartSSE(events <-chan coordinator.Event) {
	go s.sse.Run(events)
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("HTTP request")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type playerResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Goals         int       `json:"goals"`
	Assists       int       `json:"assists"`
	OwnGoals      int       `json:"ownGoals"`
	Games         int       `json:"games"`
	Wins          int       `json:"wins"`
	Draws         int       `json:"draws"`
	Losses        int       `json:"losses"`
	WinRate       float64   `json:"winRate"`
	GoalsPerGame  float64   `json:"goalsPerGame"`
	CleanSheets   int       `json:"cleanSheets"`
	MinutesPlayed int       `json:"minutesPlayed"`
	CurrentStreak int       `json:"currentStreak"`
	BestStreak    int       `json:"bestStreak"`
	LastSeen      time.Time `json:"lastSeen"`
}

func newPlayerResponse(p store.Player) playerResponse {
	return playerResponse{
		ID:            p.ID,
		Name:          p.Name,
		Goals:         p.Goals,
		Assists:       p.Assists,
		OwnGoals:      p.OwnGoals,
		Games:         p.Games,
		Wins:          p.Wins,
		Draws:         p.Draws,
		Losses:        p.Losses,
		WinRate:       p.WinRate(),
		GoalsPerGame:  p.GoalsPerGame(),
		CleanSheets:   p.CleanSheets,
		MinutesPlayed: p.MinutesPlayed,
		CurrentStreak: p.CurrentStreak,
		BestStreak:    p.BestStreak,
		LastSeen:      p.LastSeen,
	}
}

type performanceResponse struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Goals    int    `json:"goals"`
	Assists  int    `json:"assists"`
}

type matchResponse struct {
	ID              string                `json:"id"`
	PlayedAt        time.Time             `json:"playedAt"`
	ScoreRed        int                   `json:"scoreRed"`
	ScoreBlue       int                   `json:"scoreBlue"`
	DurationSeconds int                   `json:"durationSeconds"`
	Red             []performanceResponse `json:"red"`
	Blue            []performanceResponse `json:"blue"`
}

func performances(in []store.MatchPlayerInfo) []performanceResponse {
	out := make([]performanceResponse, 0, len(in))
	for _, p := range in {
		out = append(out, performanceResponse{PlayerID: p.PlayerID, Name: p.Name, Goals: p.Goals, Assists: p.Assists})
	}
	return out
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := s.store.GetPlayerByName(r.Context(), name)
	if err != nil {
		s.storeError(w, err, "Failed to look up player")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	writeJSON(w, http.StatusOK, newPlayerResponse(*p))
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.RankLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRankLimit)
	}

	players, err := s.store.TopScorers(r.Context(), limit)
	if err != nil {
		s.storeError(w, err, "Failed to load ranking")
		return
	}
	out := make([]playerResponse, 0, len(players))
	for _, p := range players {
		out = append(out, newPlayerResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLastMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.RecentMatch(r.Context())
	if err != nil {
		s.storeError(w, err, "Failed to load last match")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "no matches recorded")
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{
		ID:              m.ID,
		PlayedAt:        m.PlayedAt,
		ScoreRed:        m.ScoreRed,
		ScoreBlue:       m.ScoreBlue,
		DurationSeconds: m.DurationSeconds,
		Red:             performances(m.Red),
		Blue:            performances(m.Blue),
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.State(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) storeError(w http.ResponseWriter, err error, msg string) {
	s.log.WithError(err).Error(msg)
	writeError(w, http.StatusServiceUnavailable, "stats are temporarily unavailable")
}
