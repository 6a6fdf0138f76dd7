package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inamate/planboard/internal/asset"
	"github.com/inamate/planboard/internal/auth"
	"github.com/inamate/planboard/internal/board"
	"github.com/inamate/planboard/internal/collab"
	"github.com/inamate/planboard/internal/config"
	"github.com/inamate/planboard/internal/db"
	"github.com/inamate/planboard/internal/db/dbgen"
	"github.com/inamate/planboard/internal/document"
	mw "github.com/inamate/planboard/internal/middleware"
)

// playgroundBoardID is an in-memory board open to anonymous users. It is
// seeded with the sample board and never persisted.
const playgroundBoardID = "board_playground"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool)
	if err != nil {
		logger.Error("migrate database", "error", err)
		os.Exit(1)
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", "ids", applied)
	}

	queries := dbgen.New(pool)

	authService := auth.NewService(queries, cfg.JWTSecret)
	authHandler := auth.NewHandler(authService, logger)

	boardService := board.NewService(queries, logger)
	boardHandler := board.NewHandler(boardService)

	assetHandler, err := asset.NewHandler(cfg.AssetDir, logger)
	if err != nil {
		logger.Error("init assets", "error", err)
		os.Exit(1)
	}

	hub := collab.NewHub(collab.HubOptions{
		Load: func(ctx context.Context, boardID string) (*document.Board, error) {
			if boardID == playgroundBoardID {
				return document.NewSampleBoard(), nil
			}
			return boardService.Load(ctx, boardID)
		},
		Save: func(ctx context.Context, boardID string, b *document.Board) error {
			if boardID == playgroundBoardID {
				return nil
			}
			return boardService.Save(ctx, boardID, b)
		},
		AutosaveInterval: cfg.AutosaveInterval,
		Metrics:          collab.DefaultMetrics(),
		Logger:           logger,
	})
	go hub.Run()

	httpMetrics := mw.NewHTTPMetrics(prometheus.DefaultRegisterer)

	r := mux.NewRouter()

	r.Use(mw.Recovery(logger))
	r.Use(mw.Logger(logger))
	r.Use(mw.CORS(cfg.Origins()))
	r.Use(httpMetrics.Middleware)

	r.HandleFunc("/auth/register", authHandler.Register).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			auth.WriteError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		auth.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/assets/").HandlerFunc(assetHandler.Serve).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authService.AuthMiddleware)
	api.HandleFunc("/me", authHandler.Me).Methods(http.MethodGet)
	api.HandleFunc("/assets", assetHandler.Upload).Methods(http.MethodPost)
	boardHandler.Routes(api)

	ws := &wsHandler{
		hub:     hub,
		auth:    authService,
		boards:  boardService,
		origins: originPatterns(cfg.Origins()),
		logger:  logger,
	}
	r.HandleFunc("/ws/board/{boardId}", ws.ServeHTTP)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down server")

		// Stop the hub first so every dirty board is saved.
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

type wsHandler struct {
	hub     *collab.Hub
	auth    *auth.Service
	boards  *board.Service
	origins []string
	logger  *slog.Logger
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	boardID := mux.Vars(r)["boardId"]

	var userID, displayName string
	readOnly := false
	if boardID == playgroundBoardID {
		userID = "anon-" + uuid.New().String()[:8]
		displayName = "Anonymous"
	} else {
		token := auth.TokenFromRequest(r)
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		var err error
		userID, err = h.auth.ValidateToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		role, err := h.boards.Role(r.Context(), boardID, userID)
		if err != nil {
			if errors.Is(err, board.ErrNotMember) {
				http.Error(w, "not a board member", http.StatusForbidden)
				return
			}
			h.logger.Error("check membership", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		readOnly = role == dbgen.BoardRoleViewer

		user, err := h.auth.GetUser(r.Context(), userID)
		if err != nil {
			http.Error(w, "user not found", http.StatusInternalServerError)
			return
		}
		displayName = user.DisplayName
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("websocket accept", "error", err)
		return
	}

	client := collab.NewClient(h.hub, conn, userID, displayName, boardID, uuid.New().String())
	client.ReadOnly = readOnly
	h.hub.Register(client)

	ctx := r.Context()
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}

// originPatterns converts allowed origins (scheme://host[:port]) into the
// host patterns websocket.Accept matches against.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			patterns = append(patterns, "*")
			continue
		}
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			patterns = append(patterns, o)
			continue
		}
		patterns = append(patterns, u.Host)
	}
	return patterns
}
