// Command matchserver is the TowerLords match server process: it wires
// together every component package into one runnable binary, the same
// numbered-step run() shape the reference server's cmd/l1jgo/main.go
// uses (config -> logger -> db -> repositories -> catalog -> engine ->
// bus -> registries -> transport -> HTTP surface -> graceful shutdown),
// just without that server's Lineage-specific data tables and banner
// printing.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/towerlords/matchserver/internal/bus"
	"github.com/towerlords/matchserver/internal/catalog"
	"github.com/towerlords/matchserver/internal/config"
	"github.com/towerlords/matchserver/internal/conn"
	"github.com/towerlords/matchserver/internal/lobby"
	"github.com/towerlords/matchserver/internal/matchmaking"
	"github.com/towerlords/matchserver/internal/persist/postgres"
	"github.com/towerlords/matchserver/internal/registry"
	"github.com/towerlords/matchserver/internal/router"
	"github.com/towerlords/matchserver/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "matchserver: "+err.Error())
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration, overlaying onto defaults so a missing/partial
	// TOML file degrades instead of failing a first run.
	cfgPath := os.Getenv("TOWERLORDS_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/server.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}

	// 2. Logger.
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	log.Info("starting towerlords match server", zap.String("config_path", cfgPath))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Database connection and migrations.
	db, err := postgres.NewDB(rootCtx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer db.Close()
	if err := postgres.RunMigrations(rootCtx, db.Pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database ready")

	// 4. Repositories.
	resultRepo := postgres.NewResultRepo(db)
	ledger := postgres.NewResultLedger(db)
	userRepo := postgres.NewUserRepo(db)

	// 5. Card catalog.
	cat, err := catalog.Load("data/yaml/cards.yaml")
	if err != nil {
		return fmt.Errorf("load card catalog: %w", err)
	}
	log.Info("card catalog loaded", zap.Int("count", cat.Count()))

	// 6. Optional Lua card-effect scripting engine.
	eng, err := scripting.NewEngine(cfg.Scripts.Dir, log)
	if err != nil {
		return fmt.Errorf("load card scripts: %w", err)
	}
	defer eng.Close()

	// 7. Room bus, match registry, matchmaking queue, lobby manager.
	roomBus := bus.New()
	matchRegistry := registry.New()
	queue := matchmaking.New(cfg.Realtime.MatchQueueSize, cfg.Realtime.QueueTTLMs)
	lobbies := lobby.NewManager()

	// 8. Supervised group for every live match's scheduler goroutine, plus
	// the matchmaking queue's TTL sweeper.
	group, groupCtx := errgroup.WithContext(rootCtx)

	r := router.New(log, roomBus, matchRegistry, queue, lobbies, cat,
		cfg.Match, cfg.Chat, eng, resultRepo, ledger, groupCtx, group)

	group.Go(func() error {
		sweepExpiredQueueEntries(groupCtx, queue, roomBus)
		return nil
	})

	// 9. Connection Registry transport, mounted under the rest of the
	// HTTP surface.
	authFn := func(ctx context.Context, token string) (string, bool) {
		userID, ok, err := userRepo.ResolveToken(ctx, token)
		if err != nil {
			log.Error("resolve auth token failed", zap.Error(err))
			return "", false
		}
		return userID, ok
	}
	wsServer := conn.NewServer(cfg.Realtime, roomBus, authFn, r, log)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsServer)
	registerHTTPRoutes(mux, cat, resultRepo, lobbies, log)

	httpServer := &http.Server{
		Addr:    cfg.Server.BindAddress,
		Handler: mux,
	}

	group.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Server.BindAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 10. Block until shutdown is requested, then drain connections and
	// every in-flight match before returning.
	<-rootCtx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	wsServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("error group exited with error", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// sweepExpiredQueueEntries drops stale matchmaking entries every second so
// a client that vanished without MATCHMAKING_CANCEL doesn't squat a queue
// slot past QUEUE_TTL_MS.
func sweepExpiredQueueEntries(ctx context.Context, queue *matchmaking.Queue, roomBus *bus.Bus) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			queue.ExpireStale(time.Now())
		}
	}
}

// registerHTTPRoutes mounts the thin HTTP surface alongside the WebSocket
// endpoint: health, the read-only card catalog, finished-match lookup,
// and lobby creation/listing (the one piece of lobby lifecycle that isn't
// exposed over the websocket protocol's frame set).
func registerHTTPRoutes(mux *http.ServeMux, cat *catalog.Catalog, results *postgres.ResultRepo, lobbies *lobby.Manager, log *zap.Logger) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("/cards", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cat.List())
	})

	mux.HandleFunc("/matches/", func(w http.ResponseWriter, r *http.Request) {
		matchID := r.URL.Path[len("/matches/"):]
		if matchID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing match id"})
			return
		}
		res, err := results.FindByID(r.Context(), matchID)
		if err != nil {
			log.Error("find match result failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL"})
			return
		}
		if res == nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "MATCH_NOT_FOUND"})
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("/lobbies", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, lobbies.ListOpen())
		case http.MethodPost:
			var req struct {
				OwnerID     string `json:"ownerId"`
				RequireCode bool   `json:"requireCode"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "BAD_REQUEST"})
				return
			}
			l := lobby.New(newLobbyID(), req.OwnerID, req.RequireCode)
			lobbies.Create(l)
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "lobbyId": l.ID, "code": l.Code})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func newLobbyID() string {
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
